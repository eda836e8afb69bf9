package videoframe

import (
	"math"

	"rtclink/internal/core/domain"
)

// channel offsets of R, G, B and A inside one 4-byte packed pixel, in
// memory order
var packedOrder = map[Format][4]int{
	FormatARGB32: {1, 2, 3, 0},
	FormatBGRA32: {2, 1, 0, 3},
	FormatABGR32: {3, 2, 1, 0},
	FormatRGBA32: {0, 1, 2, 3},
}

// Convert returns a new owned frame holding f's pixels in the target
// format. Only ARGB32, BGRA32, ABGR32, RGBA32 and YUV420P are accepted on
// either side. YUV uses BT.601 limited range.
func (f *Frame) Convert(target Format) (*Frame, error) {
	if f.released.Load() {
		return nil, domain.ErrFrameReleased
	}
	if !f.format.Convertible() {
		return nil, domain.ErrUnsupportedFormat.Withf("cannot convert from %s", f.format)
	}
	if !target.Convertible() {
		return nil, domain.ErrUnsupportedFormat.Withf("cannot convert to %s", target)
	}
	if target == f.format {
		return f.Clone()
	}

	out, err := New(target, f.width, f.height)
	if err != nil {
		return nil, err
	}
	out.timestamp = f.timestamp
	out.metadata = append([]byte(nil), f.metadata...)

	switch {
	case f.format == FormatYUV420P:
		yuvToPacked(f, out)
	case target == FormatYUV420P:
		packedToYUV(f, out)
	default:
		swizzle(f, out)
	}
	return out, nil
}

func swizzle(src, dst *Frame) {
	so, do := packedOrder[src.format], packedOrder[dst.format]
	sp, dp := src.planes[0], dst.planes[0]
	ss, ds := src.strides[0], dst.strides[0]
	for y := 0; y < src.height; y++ {
		for x := 0; x < src.width; x++ {
			s := y*ss + x*4
			d := y*ds + x*4
			for c := 0; c < 4; c++ {
				dp[d+do[c]] = sp[s+so[c]]
			}
		}
	}
}

func yuvToPacked(src, dst *Frame) {
	order := packedOrder[dst.format]
	yp, up, vp := src.planes[0], src.planes[1], src.planes[2]
	ys, cs := src.strides[0], src.strides[1]
	dp, ds := dst.planes[0], dst.strides[0]
	for y := 0; y < src.height; y++ {
		for x := 0; x < src.width; x++ {
			ci := (y/2)*cs + x/2
			r, g, b := yuvToRGB(yp[y*ys+x], up[ci], vp[ci])
			d := y*ds + x*4
			dp[d+order[0]] = r
			dp[d+order[1]] = g
			dp[d+order[2]] = b
			dp[d+order[3]] = 0xff
		}
	}
}

func packedToYUV(src, dst *Frame) {
	order := packedOrder[src.format]
	sp, ss := src.planes[0], src.strides[0]
	yp, up, vp := dst.planes[0], dst.planes[1], dst.planes[2]
	ys, cs := dst.strides[0], dst.strides[1]

	pixel := func(x, y int) (uint8, uint8, uint8) {
		s := y*ss + x*4
		return sp[s+order[0]], sp[s+order[1]], sp[s+order[2]]
	}

	for y := 0; y < src.height; y++ {
		for x := 0; x < src.width; x++ {
			r, g, b := pixel(x, y)
			yp[y*ys+x] = lumaBT601(r, g, b)
		}
	}

	// chroma is the mean of each 2x2 block, clipped at odd edges
	for cy := 0; cy < (src.height+1)/2; cy++ {
		for cx := 0; cx < (src.width+1)/2; cx++ {
			var su, sv float64
			n := 0
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := cx*2+dx, cy*2+dy
					if x >= src.width || y >= src.height {
						continue
					}
					r, g, b := pixel(x, y)
					u, v := chromaBT601(r, g, b)
					su += u
					sv += v
					n++
				}
			}
			up[cy*cs+cx] = clampByte(su/float64(n), 16, 240)
			vp[cy*cs+cx] = clampByte(sv/float64(n), 16, 240)
		}
	}
}

func lumaBT601(r, g, b uint8) uint8 {
	y := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	return clampByte(y, 16, 235)
}

func chromaBT601(r, g, b uint8) (u, v float64) {
	u = 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	v = 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0
	return u, v
}

func yuvToRGB(y, u, v uint8) (r, g, b uint8) {
	yf := 1.164383 * (float64(y) - 16)
	uf := float64(u) - 128
	vf := float64(v) - 128
	r = clampByte(yf+1.596027*vf, 0, 255)
	g = clampByte(yf-0.391762*uf-0.812968*vf, 0, 255)
	b = clampByte(yf+2.017232*uf, 0, 255)
	return r, g, b
}

func clampByte(v, min, max float64) uint8 {
	v = math.Round(v)
	if v < min {
		return uint8(min)
	}
	if v > max {
		return uint8(max)
	}
	return uint8(v)
}
