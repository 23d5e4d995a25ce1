package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	apperrors "github.com/duynguyendang/sq8/pkg/common/errors"
)

// ErrMisalignedRaw is returned when a raw float32 stream is not a multiple of 4 bytes.
var ErrMisalignedRaw = fmt.Errorf("raw float32 data length not a multiple of 4: %w", apperrors.ErrInvalidInput)

// Float32sFromBytes parses little-endian IEEE-754 float32 values.
func Float32sFromBytes(src []byte) ([]float32, error) {
	if len(src)%4 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrMisalignedRaw, len(src))
	}
	dst := make([]float32, len(src)/4)
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return dst, nil
}

// Float32sToBytes serializes samples as little-endian IEEE-754 float32 values.
func Float32sToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, f := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
