package calculator

import (
	"math"
	"strconv"
)

// integralTolerance is how close to a whole number a result must be to render as one.
const integralTolerance = 1e-9

// Format renders a numeric result for the model.
// Values within 1e-9 of an integer render as that integer; others use up to ten
// significant digits.
func Format(x float64) string {
	r := math.Round(x)
	if math.Abs(x-r) < integralTolerance {
		if r == 0 {
			return "0"
		}
		return strconv.FormatFloat(r, 'f', 0, 64)
	}
	return strconv.FormatFloat(x, 'g', 10, 64)
}
