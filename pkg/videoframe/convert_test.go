package videoframe

import (
	"testing"

	"rtclink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidYUV(t *testing.T, y, u, v uint8) *Frame {
	t.Helper()
	f, err := New(FormatYUV420P, 2, 2)
	require.NoError(t, err)
	yp, _ := f.Plane(PlaneY)
	up, _ := f.Plane(PlaneU)
	vp, _ := f.Plane(PlaneV)
	for i := range yp {
		yp[i] = y
	}
	up[0], vp[0] = u, v
	return f
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestYUVRoundTripWithinTolerance(t *testing.T) {
	colors := [][3]uint8{
		{110, 100, 150},
		{81, 90, 240},
		{235, 128, 128},
		{16, 128, 128},
	}

	for _, c := range colors {
		src := solidYUV(t, c[0], c[1], c[2])

		argb, err := src.Convert(FormatARGB32)
		require.NoError(t, err)
		back, err := argb.Convert(FormatYUV420P)
		require.NoError(t, err)

		yp, _ := back.Plane(PlaneY)
		up, _ := back.Plane(PlaneU)
		vp, _ := back.Plane(PlaneV)
		for _, y := range yp {
			assert.LessOrEqual(t, absDiff(y, c[0]), 2, "luma for %v", c)
		}
		assert.LessOrEqual(t, absDiff(up[0], c[1]), 2, "u for %v", c)
		assert.LessOrEqual(t, absDiff(vp[0], c[2]), 2, "v for %v", c)

		require.NoError(t, src.Release())
		require.NoError(t, argb.Release())
		require.NoError(t, back.Release())
	}
}

func TestPackedSwizzle(t *testing.T) {
	// R=1 G=2 B=3 A=4
	rgba, err := NewFromBuffer(FormatRGBA32, 1, 1, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	tests := []struct {
		target Format
		want   []byte
	}{
		{FormatARGB32, []byte{4, 1, 2, 3}},
		{FormatBGRA32, []byte{3, 2, 1, 4}},
		{FormatABGR32, []byte{4, 3, 2, 1}},
		{FormatRGBA32, []byte{1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			out, err := rgba.Convert(tt.target)
			require.NoError(t, err)
			plane, err := out.Plane(PlanePacked)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plane)
			require.NoError(t, out.Release())
		})
	}
}

func TestConvertRejectsUnsupportedFormats(t *testing.T) {
	src, err := New(FormatRGBA32, 2, 2)
	require.NoError(t, err)

	for _, target := range []Format{FormatNV12, FormatNV21, FormatYUY2, FormatUYVY, FormatRGB24, FormatMJPEG, FormatCompressed, FormatUnknown} {
		_, err := src.Convert(target)
		assert.ErrorIs(t, err, domain.ErrUnsupportedFormat, target.String())
	}

	nv, err := New(FormatNV12, 2, 2)
	require.NoError(t, err)
	_, err = nv.Convert(FormatRGBA32)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestConvertHonoursStride(t *testing.T) {
	// 1x2 BGRA with 4 bytes of row padding
	data := []byte{3, 2, 1, 9, 0, 0, 0, 0, 6, 5, 4, 9}
	src, err := Wrap(FormatBGRA32, 1, 2, [][]byte{data}, []int{8}, nil)
	require.NoError(t, err)

	out, err := src.Convert(FormatRGBA32)
	require.NoError(t, err)
	plane, err := out.Plane(PlanePacked)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 9, 4, 5, 6, 9}, plane)
}

func TestConvertOddDimensions(t *testing.T) {
	src, err := New(FormatRGBA32, 3, 3)
	require.NoError(t, err)
	plane, _ := src.Plane(PlanePacked)
	for i := 0; i < len(plane); i += 4 {
		plane[i], plane[i+1], plane[i+2], plane[i+3] = 200, 100, 50, 255
	}

	yuv, err := src.Convert(FormatYUV420P)
	require.NoError(t, err)
	up, _ := yuv.Plane(PlaneU)
	vp, _ := yuv.Plane(PlaneV)
	for i := range up {
		assert.Equal(t, up[0], up[i])
		assert.Equal(t, vp[0], vp[i])
	}
}
