package videoframe

// Format enumerates the pixel formats a frame may carry.
type Format int

const (
	FormatUnknown Format = iota
	FormatYUV420P
	FormatNV12
	FormatNV21
	FormatYUY2
	FormatUYVY
	FormatARGB32
	FormatBGRA32
	FormatRGB24
	FormatABGR32
	FormatMJPEG
	FormatRGBA32
	FormatCompressed
)

func (f Format) String() string {
	switch f {
	case FormatYUV420P:
		return "YUV420P"
	case FormatNV12:
		return "NV12"
	case FormatNV21:
		return "NV21"
	case FormatYUY2:
		return "YUY2"
	case FormatUYVY:
		return "UYVY"
	case FormatARGB32:
		return "ARGB32"
	case FormatBGRA32:
		return "BGRA32"
	case FormatRGB24:
		return "RGB24"
	case FormatABGR32:
		return "ABGR32"
	case FormatMJPEG:
		return "MJPEG"
	case FormatRGBA32:
		return "RGBA32"
	case FormatCompressed:
		return "Compressed"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (f Format) PlaneCount() int {
	switch f {
	case FormatYUV420P:
		return 3 // Y, U, V
	case FormatNV12, FormatNV21:
		return 2 // Y, interleaved chroma
	case FormatUnknown:
		return 0
	default:
		return 1 // Packed
	}
}

// IsPacked reports whether all pixel data lives in a single plane.
func (f Format) IsPacked() bool {
	return f.PlaneCount() == 1
}

// IsCompressed reports whether the frame holds an encoded bitstream whose
// size is not derived from its dimensions.
func (f Format) IsCompressed() bool {
	return f == FormatMJPEG || f == FormatCompressed
}

// Convertible reports whether Convert accepts this format as source or target.
func (f Format) Convertible() bool {
	switch f {
	case FormatARGB32, FormatBGRA32, FormatABGR32, FormatRGBA32, FormatYUV420P:
		return true
	default:
		return false
	}
}

// Plane indexes a frame plane. Packed and interleaved aliases share the
// numeric slot of the plane they occupy.
type Plane int

const (
	PlaneY             Plane = 0
	PlaneU             Plane = 1
	PlaneV             Plane = 2
	PlanePacked        Plane = 0
	PlaneUVInterleaved Plane = 1
	PlaneVUInterleaved Plane = 1
)

// layout returns the minimum stride and row count of every plane.
func layout(f Format, width, height int) (strides, rows []int) {
	cw, ch := (width+1)/2, (height+1)/2
	switch f {
	case FormatYUV420P:
		return []int{width, cw, cw}, []int{height, ch, ch}
	case FormatNV12, FormatNV21:
		return []int{width, cw * 2}, []int{height, ch}
	case FormatYUY2, FormatUYVY:
		return []int{cw * 4}, []int{height}
	case FormatARGB32, FormatBGRA32, FormatABGR32, FormatRGBA32:
		return []int{width * 4}, []int{height}
	case FormatRGB24:
		return []int{width * 3}, []int{height}
	default:
		return nil, nil
	}
}

// BufferSize returns the number of bytes a tightly packed frame of this
// format and size occupies. Compressed formats return 0.
func BufferSize(f Format, width, height int) int {
	strides, rows := layout(f, width, height)
	total := 0
	for i := range strides {
		total += strides[i] * rows[i]
	}
	return total
}
