package codec

import (
	"fmt"
	"math"

	apperrors "github.com/duynguyendang/sq8/pkg/common/errors"
)

// Codec errors. All of them wrap apperrors.ErrInvalidInput, so callers can
// test for either the specific condition or the general class.
var (
	ErrEmptySamples    = fmt.Errorf("empty sample sequence: %w", apperrors.ErrInvalidInput)
	ErrTruncatedBuffer = fmt.Errorf("buffer shorter than %d byte header: %w", HeaderSize, apperrors.ErrInvalidInput)
	ErrNonFiniteSample = fmt.Errorf("non-finite sample: %w", apperrors.ErrInvalidInput)
	ErrCorruptHeader   = fmt.Errorf("corrupt header: %w", apperrors.ErrInvalidInput)
	ErrLengthMismatch  = fmt.Errorf("sample length mismatch: %w", apperrors.ErrInvalidInput)
)

// SampleError reports the first sample that cannot be encoded.
type SampleError struct {
	Index int
	Value float32
}

func (e *SampleError) Error() string {
	kind := "NaN"
	if math.IsInf(float64(e.Value), 0) {
		kind = "infinite"
	}
	return fmt.Sprintf("sample %d is %s: %v", e.Index, kind, ErrNonFiniteSample)
}

func (e *SampleError) Unwrap() error {
	return ErrNonFiniteSample
}
