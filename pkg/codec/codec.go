// Package codec implements a fixed-ratio 8-bit scalar quantizer for float32
// samples.
//
// An encoded buffer is self-describing:
//
//	[0,4)   min      float32, little-endian
//	[4,8)   max      float32, little-endian
//	[8,8+N) payload  one uint8 per sample, in input order
//
// Each payload byte q is the sample's position inside [min, max] mapped onto
// 256 levels: q = roundHalfEven((v-min)/(max-min) * 255). A constant input
// (max == min) encodes to an all-zero payload and decodes back to min.
// There is no magic number, version tag or checksum.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// HeaderSize is the number of bytes preceding the payload.
	HeaderSize = 8

	// Levels is the largest payload value. Quantization uses Levels+1 steps.
	Levels = 255
)

// Header holds the bounds stored at the front of every encoded buffer.
type Header struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

// Extent returns max - min, computed in float64 so opposite-sign extrema of
// large magnitude cannot overflow.
func (h Header) Extent() float64 {
	return float64(h.Max) - float64(h.Min)
}

// Step returns the distance between two adjacent quantization levels.
func (h Header) Step() float64 {
	return h.Extent() / Levels
}

// EncodedLen returns the size of the buffer Encode produces for n samples.
func EncodedLen(n int) int {
	return HeaderSize + n
}

// Bounds returns the minimum and maximum of samples in a single pass.
// NaN and infinite values are rejected with a *SampleError.
func Bounds(samples []float32) (lo, hi float32, err error) {
	if len(samples) == 0 {
		return 0, 0, ErrEmptySamples
	}

	lo, hi = samples[0], samples[0]
	for i, v := range samples {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return 0, 0, &SampleError{Index: i, Value: v}
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, nil
}

// Encode quantizes samples into a new buffer of exactly EncodedLen(len(samples)) bytes.
func Encode(samples []float32) ([]byte, error) {
	return AppendEncode(nil, samples)
}

// AppendEncode appends the encoded form of samples to dst and returns the
// extended slice. On error dst is returned unchanged.
func AppendEncode(dst []byte, samples []float32) ([]byte, error) {
	lo, hi, err := Bounds(samples)
	if err != nil {
		return dst, err
	}

	start := len(dst)
	dst = grow(dst, EncodedLen(len(samples)))
	buf := dst[start:]

	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(lo))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(hi))

	payload := buf[HeaderSize:]
	h := Header{Min: lo, Max: hi}
	extent := h.Extent()
	if extent == 0 {
		clear(payload)
		return dst, nil
	}

	base := float64(lo)
	for i, v := range samples {
		payload[i] = quantize((float64(v) - base) / extent)
	}
	return dst, nil
}

// quantize maps t in [0, 1] onto [0, Levels].
func quantize(t float64) uint8 {
	return level(t * Levels)
}

// level rounds x half to even and clamps it to a payload byte.
func level(x float64) uint8 {
	q := math.RoundToEven(x)
	if q < 0 {
		return 0
	}
	if q > Levels {
		return Levels
	}
	return uint8(q)
}

// ReadHeader parses and validates the header of an encoded buffer.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrTruncatedBuffer, len(buf))
	}

	h := Header{
		Min: math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])),
		Max: math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
	}
	if !isFinite(h.Min) || !isFinite(h.Max) {
		return Header{}, fmt.Errorf("%w: non-finite bounds [%v, %v]", ErrCorruptHeader, h.Min, h.Max)
	}
	if h.Min > h.Max {
		return Header{}, fmt.Errorf("%w: min %v > max %v", ErrCorruptHeader, h.Min, h.Max)
	}
	return h, nil
}

// Decode reconstructs the samples held in buf along with the stored bounds.
// The returned slice never aliases buf.
func Decode(buf []byte) (lo, hi float32, samples []float32, err error) {
	h, samples, err := DecodeInto(nil, buf)
	if err != nil {
		return 0, 0, nil, err
	}
	return h.Min, h.Max, samples, nil
}

// DecodeInto is Decode writing into dst, reusing its capacity when large enough.
func DecodeInto(dst []float32, buf []byte) (Header, []float32, error) {
	h, err := ReadHeader(buf)
	if err != nil {
		return Header{}, dst, err
	}

	payload := buf[HeaderSize:]
	out := dst[:0]
	if cap(out) < len(payload) {
		out = make([]float32, len(payload))
	} else {
		out = out[:len(payload)]
	}

	if h.Extent() == 0 {
		for i := range out {
			out[i] = h.Min
		}
		return h, out, nil
	}

	// min*(1-t) + max*t equals min + t*extent and lands exactly on the
	// bounds at q=0 and q=Levels.
	lo, hi := float64(h.Min), float64(h.Max)
	for i, q := range payload {
		t := float64(q) / Levels
		out[i] = float32(lo*(1-t) + hi*t)
	}
	return h, out, nil
}

func grow(b []byte, n int) []byte {
	if cap(b)-len(b) >= n {
		return b[:len(b)+n]
	}
	nb := make([]byte, len(b)+n)
	copy(nb, b)
	return nb
}

func isFinite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
