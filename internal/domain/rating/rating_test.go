package rating_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/skillboard/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

const tolerance = 1e-9

func TestEngine_Update(t *testing.T) {
	Convey("Given an engine with the default beta squared", t, func() {
		engine := rating.New()
		So(engine.BetaSquared(), ShouldEqual, 800.0)

		Convey("When two default players play", func() {
			winner := rating.Default()
			loser := rating.Default()

			u, err := engine.Update(winner, loser)

			Convey("Then the numeric chain matches the reference values", func() {
				So(err, ShouldBeNil)
				So(u.C, ShouldAlmostEqual, 28.577379166047, tolerance)
				So(u.Z, ShouldEqual, 0.0)
				So(u.PWin, ShouldEqual, 0.5)
				So(u.V, ShouldAlmostEqual, 0.028209479177, tolerance)
				So(u.W, ShouldAlmostEqual, 0.000795774715, tolerance)
				So(u.Winner.Mean, ShouldAlmostEqual, 25.008226018609, tolerance)
				So(u.Winner.Variance, ShouldAlmostEqual, 8.331366243563, tolerance)
				So(u.Loser.Mean, ShouldAlmostEqual, 24.991773981391, tolerance)
				So(u.Loser.Variance, ShouldAlmostEqual, 8.331366243563, tolerance)
			})

			Convey("And both variances shrink", func() {
				So(u.Winner.Variance, ShouldBeLessThan, winner.Variance)
				So(u.Loser.Variance, ShouldBeLessThan, loser.Variance)
			})

			Convey("And repeated calls return identical results", func() {
				again, err := engine.Update(winner, loser)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, u)
			})
		})

		Convey("When the favourite wins", func() {
			u, err := engine.Update(
				rating.SkillModel{Mean: 30, Variance: 8.3333},
				rating.SkillModel{Mean: 20, Variance: 8.3333},
			)

			Convey("Then the gain is smaller than for an even game", func() {
				So(err, ShouldBeNil)
				So(u.Z, ShouldAlmostEqual, 0.349927120395, tolerance)
				So(u.PWin, ShouldAlmostEqual, 0.636803303458, tolerance)
				So(u.Winner.Mean, ShouldAlmostEqual, 30.006458343610, tolerance)
				So(u.Loser.Mean, ShouldAlmostEqual, 19.993541656390, tolerance)
				So(u.Winner.Variance, ShouldAlmostEqual, 8.313275193886, tolerance)
			})
		})

		Convey("When the underdog wins", func() {
			u, err := engine.Update(
				rating.SkillModel{Mean: 20, Variance: 8.3333},
				rating.SkillModel{Mean: 30, Variance: 8.3333},
			)

			Convey("Then the means move further and the variances grow", func() {
				So(err, ShouldBeNil)
				So(u.Winner.Mean, ShouldAlmostEqual, 20.011323601191, tolerance)
				So(u.Loser.Mean, ShouldAlmostEqual, 29.988676398809, tolerance)
				So(u.W, ShouldBeLessThan, 0)
				So(u.Winner.Variance, ShouldAlmostEqual, 8.362655856633, tolerance)
				So(u.Loser.Variance, ShouldAlmostEqual, 8.362655856633, tolerance)
			})
		})

		Convey("When the skill gap is very large but finite", func() {
			u, err := engine.Update(
				rating.SkillModel{Mean: 25, Variance: 8.3333},
				rating.SkillModel{Mean: -200, Variance: 8.3333},
			)

			Convey("Then the winner still gains and the loser still drops", func() {
				So(err, ShouldBeNil)
				So(u.PWin, ShouldAlmostEqual, 1.0, tolerance)
				So(u.Winner.Mean, ShouldBeGreaterThan, 25.0)
				So(u.Loser.Mean, ShouldBeLessThan, -200.0)
			})
		})
	})
}

func TestEngine_WinnerVarianceScaling(t *testing.T) {
	Convey("Given players with unequal variances", t, func() {
		engine := rating.New()
		a := rating.SkillModel{Mean: 25, Variance: 4}
		b := rating.SkillModel{Mean: 25, Variance: 12}

		Convey("When a beats b and, separately, b beats a", func() {
			ab, err1 := engine.Update(a, b)
			ba, err2 := engine.Update(b, a)
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)

			Convey("Then each update moves both means by the same amount", func() {
				So(ab.Winner.Mean-a.Mean, ShouldAlmostEqual, b.Mean-ab.Loser.Mean, tolerance)
				So(ba.Winner.Mean-b.Mean, ShouldAlmostEqual, a.Mean-ba.Loser.Mean, tolerance)
			})

			Convey("And the shift follows the winner's variance, not each player's own", func() {
				So(ab.Winner.Mean, ShouldAlmostEqual, 25.003950117187, tolerance)
				So(ab.Loser.Mean, ShouldAlmostEqual, 24.996049882813, tolerance)
				So(ba.Winner.Mean, ShouldAlmostEqual, 25.011850351562, tolerance)
				So(ba.Loser.Mean, ShouldAlmostEqual, 24.988149648438, tolerance)
			})

			Convey("And the variance factor uses the winner's variance for both players", func() {
				So(ab.Winner.Variance, ShouldAlmostEqual, 3.999554277006, tolerance)
				So(ab.Loser.Variance, ShouldAlmostEqual, 11.998662831017, tolerance)
				So(ba.Winner.Variance, ShouldAlmostEqual, 11.995988493052, tolerance)
				So(ba.Loser.Variance, ShouldAlmostEqual, 3.998662831017, tolerance)
			})
		})
	})
}

func TestEngine_Directionality(t *testing.T) {
	Convey("Given a grid of realistic skill pairs", t, func() {
		engine := rating.New()
		means := []float64{0, 10, 25, 40, 60}
		variances := []float64{0.5, 2, 8.3333, 25, 100}

		Convey("Then every winner gains and every loser drops", func() {
			for _, wm := range means {
				for _, lm := range means {
					for _, wv := range variances {
						for _, lv := range variances {
							u, err := engine.Update(
								rating.SkillModel{Mean: wm, Variance: wv},
								rating.SkillModel{Mean: lm, Variance: lv},
							)
							So(err, ShouldBeNil)
							So(u.V, ShouldBeGreaterThan, 0)
							So(u.Winner.Mean, ShouldBeGreaterThan, wm)
							So(u.Loser.Mean, ShouldBeLessThan, lm)
						}
					}
				}
			}
		})
	})
}

func TestEngine_Errors(t *testing.T) {
	Convey("Given an engine", t, func() {
		engine := rating.New()
		good := rating.Default()

		Convey("When a variance is zero", func() {
			_, err := engine.Update(rating.SkillModel{Mean: 25, Variance: 0}, good)
			Convey("Then the input is rejected", func() {
				So(errors.Is(err, rating.ErrInvalidVariance), ShouldBeTrue)
			})
		})

		Convey("When a variance is negative", func() {
			_, err := engine.Update(good, rating.SkillModel{Mean: 25, Variance: -1})
			Convey("Then the input is rejected", func() {
				So(errors.Is(err, rating.ErrInvalidVariance), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "loser")
			})
		})

		Convey("When a mean is not finite", func() {
			_, err := engine.Update(rating.SkillModel{Mean: math.NaN(), Variance: 1}, good)
			Convey("Then the input is rejected", func() {
				So(errors.Is(err, rating.ErrInvalidMean), ShouldBeTrue)
			})
		})

		Convey("When the winner was far too weak for the win probability to be represented", func() {
			_, err := engine.Update(
				rating.SkillModel{Mean: 0, Variance: 8.3333},
				rating.SkillModel{Mean: 2000, Variance: 8.3333},
			)
			Convey("Then the update is refused instead of producing Inf", func() {
				So(errors.Is(err, rating.ErrNonFinite), ShouldBeTrue)
			})
		})

		Convey("When the winner's variance is large enough to flip the variance factor", func() {
			_, err := engine.Update(
				rating.SkillModel{Mean: 25, Variance: 1e7},
				rating.SkillModel{Mean: 25, Variance: 1},
			)
			Convey("Then the update is refused", func() {
				So(errors.Is(err, rating.ErrDegenerateVariance), ShouldBeTrue)
			})
		})
	})
}

func TestWithBetaSquared(t *testing.T) {
	Convey("Given engine options", t, func() {
		Convey("When a positive beta squared is supplied", func() {
			So(rating.New(rating.WithBetaSquared(400)).BetaSquared(), ShouldEqual, 400.0)
		})

		Convey("When a non-positive beta squared is supplied", func() {
			So(rating.New(rating.WithBetaSquared(0)).BetaSquared(), ShouldEqual, rating.DefaultBetaSquared)
			So(rating.New(rating.WithBetaSquared(-5)).BetaSquared(), ShouldEqual, rating.DefaultBetaSquared)
		})
	})
}
