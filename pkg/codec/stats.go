package codec

import (
	"fmt"
	"math"
)

// Report summarizes the reconstruction error of one encode/decode cycle.
type Report struct {
	Count        int     `json:"count"`
	MaxAbsError  float64 `json:"max_abs_error"`
	MeanAbsError float64 `json:"mean_abs_error"`
	RMSE         float64 `json:"rmse"`
	// Bound is the worst-case error for the original's extent: extent/510.
	Bound float64 `json:"bound"`
}

// WithinBound reports whether every element stayed inside the theoretical
// half-step bound, allowing slack for float32 rounding of the output.
func (r Report) WithinBound(slack float64) bool {
	return r.MaxAbsError <= r.Bound+slack
}

// Measure compares an original sequence with its reconstruction.
func Measure(original, decoded []float32) (Report, error) {
	if len(original) != len(decoded) {
		return Report{}, fmt.Errorf("%w: original %d, decoded %d", ErrLengthMismatch, len(original), len(decoded))
	}
	lo, hi, err := Bounds(original)
	if err != nil {
		return Report{}, err
	}

	var sumAbs, sumSq, maxAbs float64
	for i, v := range original {
		d := math.Abs(float64(decoded[i]) - float64(v))
		sumAbs += d
		sumSq += d * d
		if d > maxAbs {
			maxAbs = d
		}
	}

	n := float64(len(original))
	return Report{
		Count:        len(original),
		MaxAbsError:  maxAbs,
		MeanAbsError: sumAbs / n,
		RMSE:         math.Sqrt(sumSq / n),
		Bound:        Header{Min: lo, Max: hi}.Step() / 2,
	}, nil
}

// CompressionRatio returns raw float32 size over encoded size for n samples.
func CompressionRatio(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(4*n) / float64(EncodedLen(n))
}
