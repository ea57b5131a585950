package rating

import "math"

// normalCDF is the standard normal cumulative distribution function.
// Erfc keeps precision in the lower tail where 1+Erf would cancel.
func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normalPDF is the density of N(0, sigma^2) at x.
func normalPDF(x, sigma float64) float64 {
	return math.Exp(-(x*x)/(2*sigma*sigma)) / (sigma * math.Sqrt(2*math.Pi))
}
