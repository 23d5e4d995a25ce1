package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat32sRaw(t *testing.T) {
	orig := []float32{0.0, 1.5, -2.25, 3.75, float32(math.Inf(-1))}

	b := Float32sToBytes(orig)
	require.Len(t, b, 4*len(orig))

	got, err := Float32sFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, orig, got)

	_, err = Float32sFromBytes(b[:7])
	assert.ErrorIs(t, err, ErrMisalignedRaw)

	empty, err := Float32sFromBytes(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
