package outcome

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const (
	startFEN     = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	foolsMateFEN = "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3"
	scholarsFEN  = "r1bqkb1r/pppp1Qpp/2n2n2/4p3/2B1P3/8/PPPP1PPP/RNB1K1NR b KQkq - 0 4"
	stalemateFEN = "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1"
	bareKingsFEN = "8/8/4k3/8/8/4K3/8/8 w - - 0 1"
)

func TestResolve(t *testing.T) {
	Convey("Given rules-engine signals", t, func() {
		Convey("Checkmate with black to move is a white win", func() {
			So(Resolve(true, false, Black), ShouldEqual, WinWhite)
		})
		Convey("Checkmate with white to move is a black win", func() {
			So(Resolve(true, false, White), ShouldEqual, WinBlack)
		})
		Convey("A draw signal without checkmate is a draw", func() {
			So(Resolve(false, true, White), ShouldEqual, Draw)
			So(Resolve(false, true, Black), ShouldEqual, Draw)
		})
		Convey("Checkmate takes precedence over a draw signal", func() {
			So(Resolve(true, true, White), ShouldEqual, WinBlack)
		})
		Convey("No signal leaves the game in progress", func() {
			So(Resolve(false, false, White), ShouldEqual, InProgress)
		})
	})
}

func TestParseResult(t *testing.T) {
	Convey("Given wire result strings", t, func() {
		cases := map[string]Result{
			"Win: White":     WinWhite,
			"win: white":     WinWhite,
			"  Win:  Black ": WinBlack,
			"Win:Black":      WinBlack,
			"Draw":           Draw,
			"DRAW":           Draw,
		}
		for in, want := range cases {
			got, err := ParseResult(in)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, want)
		}

		Convey("Unknown strings are rejected", func() {
			for _, in := range []string{"", "White", "Win", "1-0", "In progress"} {
				_, err := ParseResult(in)
				So(errors.Is(err, ErrInvalidResult), ShouldBeTrue)
			}
		})

		Convey("String round-trips through ParseResult", func() {
			for _, r := range []Result{WinWhite, WinBlack, Draw} {
				got, err := ParseResult(r.String())
				So(err, ShouldBeNil)
				So(got, ShouldEqual, r)
			}
		})
	})
}

func TestResultHelpers(t *testing.T) {
	Convey("Given results", t, func() {
		c, ok := WinWhite.Winner()
		So(ok, ShouldBeTrue)
		So(c, ShouldEqual, White)

		c, ok = WinBlack.Winner()
		So(ok, ShouldBeTrue)
		So(c, ShouldEqual, Black)

		_, ok = Draw.Winner()
		So(ok, ShouldBeFalse)

		So(Draw.Decisive(), ShouldBeFalse)
		So(Draw.Terminal(), ShouldBeTrue)
		So(InProgress.Terminal(), ShouldBeFalse)
		So(WinFor(Black), ShouldEqual, WinBlack)
		So(WinFor(White), ShouldEqual, WinWhite)
	})
}

func TestParseColor(t *testing.T) {
	Convey("Given color names", t, func() {
		for _, in := range []string{"white", "White", "WHITE", " w "} {
			c, err := ParseColor(in)
			So(err, ShouldBeNil)
			So(c, ShouldEqual, White)
		}
		c, err := ParseColor("Black")
		So(err, ShouldBeNil)
		So(c, ShouldEqual, Black)
		So(c.Opponent(), ShouldEqual, White)
		So(c.String(), ShouldEqual, "black")

		_, err = ParseColor("red")
		So(errors.Is(err, ErrInvalidColor), ShouldBeTrue)
	})
}

func TestSignals(t *testing.T) {
	Convey("Given positions", t, func() {
		Convey("The starting position is not terminal", func() {
			pos, err := Signals(startFEN)
			So(err, ShouldBeNil)
			So(pos.IsCheckmate, ShouldBeFalse)
			So(pos.IsDraw, ShouldBeFalse)
			So(pos.SideToMove, ShouldEqual, White)
			So(pos.Result(), ShouldEqual, InProgress)
		})

		Convey("Fool's mate is a black win", func() {
			pos, err := Signals(foolsMateFEN)
			So(err, ShouldBeNil)
			So(pos.IsCheckmate, ShouldBeTrue)
			So(pos.Method, ShouldEqual, "checkmate")
			So(pos.Result(), ShouldEqual, WinBlack)
		})

		Convey("Scholar's mate is a white win", func() {
			pos, err := Signals(scholarsFEN)
			So(err, ShouldBeNil)
			So(pos.SideToMove, ShouldEqual, Black)
			So(pos.Result(), ShouldEqual, WinWhite)
		})

		Convey("Stalemate is a draw", func() {
			pos, err := Signals(stalemateFEN)
			So(err, ShouldBeNil)
			So(pos.IsCheckmate, ShouldBeFalse)
			So(pos.IsDraw, ShouldBeTrue)
			So(pos.Method, ShouldEqual, "stalemate")
			So(pos.Result(), ShouldEqual, Draw)
		})

		Convey("Bare kings are a draw", func() {
			pos, err := Signals(bareKingsFEN)
			So(err, ShouldBeNil)
			So(pos.Result(), ShouldEqual, Draw)
		})

		Convey("Malformed FEN is rejected", func() {
			_, err := Signals("not a fen")
			So(errors.Is(err, ErrInvalidFEN), ShouldBeTrue)
			So(errors.Is(ValidateFEN(""), ErrInvalidFEN), ShouldBeTrue)
			So(ValidateFEN(startFEN), ShouldBeNil)
		})
	})
}

func TestReconcile(t *testing.T) {
	Convey("Given a claimed result and a final position", t, func() {
		Convey("A claim matching a checkmate is accepted", func() {
			r, err := Reconcile(WinBlack, foolsMateFEN)
			So(err, ShouldBeNil)
			So(r, ShouldEqual, WinBlack)
		})

		Convey("A claim contradicting a checkmate is rejected", func() {
			_, err := Reconcile(WinWhite, foolsMateFEN)
			So(errors.Is(err, ErrOutcomeMismatch), ShouldBeTrue)

			_, err = Reconcile(Draw, foolsMateFEN)
			So(errors.Is(err, ErrOutcomeMismatch), ShouldBeTrue)
		})

		Convey("A win claimed on a live board is rejected", func() {
			_, err := Reconcile(WinWhite, startFEN)
			So(errors.Is(err, ErrNotTerminal), ShouldBeTrue)
		})

		Convey("A draw may be agreed on a live board", func() {
			r, err := Reconcile(Draw, startFEN)
			So(err, ShouldBeNil)
			So(r, ShouldEqual, Draw)
		})

		Convey("A stalemate settles a draw claim", func() {
			r, err := Reconcile(Draw, stalemateFEN)
			So(err, ShouldBeNil)
			So(r, ShouldEqual, Draw)
		})

		Convey("An in-progress claim is rejected", func() {
			_, err := Reconcile(InProgress, startFEN)
			So(errors.Is(err, ErrInvalidResult), ShouldBeTrue)
		})
	})
}
