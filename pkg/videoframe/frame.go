package videoframe

import (
	"fmt"
	"sync"
	"sync/atomic"

	"rtclink/internal/core/domain"
	"rtclink/pkg/optimize"
)

// MaxMetadataSize is the largest metadata blob a frame may carry.
const MaxMetadataSize = 32

// ReleaseGuard fires a release callback at most once.
type ReleaseGuard struct {
	once sync.Once
	fn   func()
}

func NewReleaseGuard(fn func()) *ReleaseGuard {
	return &ReleaseGuard{fn: fn}
}

// Release invokes the callback the first time it is called. It reports
// whether this call was the one that fired.
func (g *ReleaseGuard) Release() bool {
	fired := false
	g.once.Do(func() {
		fired = true
		if g.fn != nil {
			g.fn()
		}
	})
	return fired
}

// ownership is either owned (the frame holds a pooled buffer) or borrowed
// (the frame wraps external memory and releases it through a guard).
type ownership interface {
	release()
}

type owned struct {
	pool *optimize.BufferPool
	buf  []byte
}

func (o owned) release() {
	if o.pool != nil {
		o.pool.Put(o.buf)
	}
}

type borrowed struct {
	guard *ReleaseGuard
}

func (b borrowed) release() {
	b.guard.Release()
}

// Frame is a raw or compressed video frame. A frame has exactly one
// releaser: Release frees an owned buffer or fires the borrowed release
// callback, and every buffer accessor fails with ErrFrameReleased afterwards.
type Frame struct {
	format    Format
	width     int
	height    int
	planes    [][]byte
	strides   []int
	timestamp int64
	metadata  []byte

	contiguous bool
	owner      ownership
	released   atomic.Bool
}

// New allocates an owned, tightly packed frame.
func New(format Format, width, height int) (*Frame, error) {
	if format.IsCompressed() || format == FormatUnknown {
		return nil, domain.ErrUnsupportedFormat.Withf("cannot allocate raw %s frame", format)
	}
	if width <= 0 || height <= 0 {
		return nil, domain.ErrInvalidParam.Withf("invalid frame dimensions %dx%d", width, height)
	}
	pool := optimize.Default()
	buf := pool.Get(BufferSize(format, width, height))
	f := &Frame{
		format: format,
		width:  width,
		height: height,
		owner:  owned{pool: pool, buf: buf},

		contiguous: true,
	}
	f.planes, f.strides = split(buf, format, width, height)
	return f, nil
}

// NewFromBuffer copies a tightly packed buffer into a new owned frame.
func NewFromBuffer(format Format, width, height int, buf []byte) (*Frame, error) {
	f, err := New(format, width, height)
	if err != nil {
		return nil, err
	}
	need := BufferSize(format, width, height)
	if len(buf) < need {
		f.Release()
		return nil, domain.ErrInvalidParam.Withf("buffer holds %d bytes, %s %dx%d needs %d", len(buf), format, width, height, need)
	}
	copy(f.owner.(owned).buf, buf[:need])
	return f, nil
}

// NewCompressed copies an encoded bitstream into a new owned frame.
func NewCompressed(format Format, width, height int, data []byte) (*Frame, error) {
	if !format.IsCompressed() {
		return nil, domain.ErrInvalidParam.Withf("%s is not a compressed format", format)
	}
	if len(data) == 0 {
		return nil, domain.ErrInvalidParam.Withf("empty compressed frame")
	}
	pool := optimize.Default()
	buf := pool.Get(len(data))
	copy(buf, data)
	return &Frame{
		format:  format,
		width:   width,
		height:  height,
		planes:  [][]byte{buf},
		strides: []int{len(buf)},
		owner:   owned{pool: pool, buf: buf},

		contiguous: true,
	}, nil
}

// Wrap builds a frame over externally owned planes. release is invoked
// exactly once, when the frame is released.
func Wrap(format Format, width, height int, planes [][]byte, strides []int, release func()) (*Frame, error) {
	if format == FormatUnknown {
		return nil, domain.ErrUnsupportedFormat.Withf("cannot wrap unknown format")
	}
	if len(planes) != format.PlaneCount() || len(strides) != len(planes) {
		return nil, domain.ErrInvalidParam.Withf("%s needs %d planes, got %d planes and %d strides", format, format.PlaneCount(), len(planes), len(strides))
	}
	if !format.IsCompressed() {
		if width <= 0 || height <= 0 {
			return nil, domain.ErrInvalidParam.Withf("invalid frame dimensions %dx%d", width, height)
		}
		minStrides, rows := layout(format, width, height)
		for i := range planes {
			if strides[i] < minStrides[i] {
				return nil, domain.ErrInvalidParam.Withf("plane %d stride %d below minimum %d", i, strides[i], minStrides[i])
			}
			if len(planes[i]) < strides[i]*(rows[i]-1)+minStrides[i] {
				return nil, domain.ErrInvalidParam.Withf("plane %d holds %d bytes, too small for %dx%d", i, len(planes[i]), width, height)
			}
		}
	}
	return &Frame{
		format:  format,
		width:   width,
		height:  height,
		planes:  planes,
		strides: append([]int(nil), strides...),
		owner:   borrowed{guard: NewReleaseGuard(release)},
	}, nil
}

// WrapBuffer builds a frame over one externally owned, tightly packed
// buffer holding every plane back to back.
func WrapBuffer(format Format, width, height int, buf []byte, release func()) (*Frame, error) {
	if format.IsCompressed() || format == FormatUnknown {
		return nil, domain.ErrUnsupportedFormat.Withf("cannot wrap raw %s buffer", format)
	}
	if width <= 0 || height <= 0 {
		return nil, domain.ErrInvalidParam.Withf("invalid frame dimensions %dx%d", width, height)
	}
	need := BufferSize(format, width, height)
	if len(buf) < need {
		return nil, domain.ErrInvalidParam.Withf("buffer holds %d bytes, %s %dx%d needs %d", len(buf), format, width, height, need)
	}
	f := &Frame{
		format: format,
		width:  width,
		height: height,
		owner:  borrowed{guard: NewReleaseGuard(release)},

		contiguous: true,
	}
	f.planes, f.strides = split(buf[:need], format, width, height)
	return f, nil
}

func split(buf []byte, format Format, width, height int) ([][]byte, []int) {
	strides, rows := layout(format, width, height)
	planes := make([][]byte, len(strides))
	off := 0
	for i := range strides {
		n := strides[i] * rows[i]
		planes[i] = buf[off : off+n : off+n]
		off += n
	}
	return planes, strides
}

// Release frees the frame. The second and later calls return
// ErrFrameReleased and have no effect.
func (f *Frame) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return domain.ErrFrameReleased
	}
	if f.owner != nil {
		f.owner.release()
	}
	return nil
}

func (f *Frame) Released() bool {
	return f.released.Load()
}

// Borrowed reports whether the frame wraps external memory.
func (f *Frame) Borrowed() bool {
	_, ok := f.owner.(borrowed)
	return ok
}

func (f *Frame) Format() Format { return f.format }
func (f *Frame) Width() int     { return f.width }
func (f *Frame) Height() int    { return f.height }
func (f *Frame) NumPlanes() int { return len(f.strides) }

func (f *Frame) Timestamp() int64 { return f.timestamp }

func (f *Frame) SetTimestamp(ts int64) { f.timestamp = ts }

func (f *Frame) IsPacked() bool { return f.format.IsPacked() }

// IsContiguous reports whether the planes sit back to back in one buffer.
// It is true for allocated frames and WrapBuffer frames; frames wrapped
// plane by plane are never contiguous.
func (f *Frame) IsContiguous() bool {
	return f.contiguous
}

// Plane returns the bytes of plane p.
func (f *Frame) Plane(p Plane) ([]byte, error) {
	if f.released.Load() {
		return nil, domain.ErrFrameReleased
	}
	if int(p) < 0 || int(p) >= len(f.planes) {
		return nil, domain.ErrInvalidParam.Withf("plane %d out of range for %s", p, f.format)
	}
	return f.planes[p], nil
}

// Stride returns the row stride of plane p in bytes.
func (f *Frame) Stride(p Plane) (int, error) {
	if f.released.Load() {
		return 0, domain.ErrFrameReleased
	}
	if int(p) < 0 || int(p) >= len(f.strides) {
		return 0, domain.ErrInvalidParam.Withf("plane %d out of range for %s", p, f.format)
	}
	return f.strides[p], nil
}

// PlaneSize returns the number of bytes plane p occupies.
func (f *Frame) PlaneSize(p Plane) (int, error) {
	b, err := f.Plane(p)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (f *Frame) Metadata() ([]byte, error) {
	if f.released.Load() {
		return nil, domain.ErrFrameReleased
	}
	return f.metadata, nil
}

// SetMetadata copies up to MaxMetadataSize bytes of opaque metadata onto
// the frame.
func (f *Frame) SetMetadata(md []byte) error {
	if f.released.Load() {
		return domain.ErrFrameReleased
	}
	if len(md) > MaxMetadataSize {
		return domain.ErrInvalidParam.Withf("metadata is %d bytes, limit is %d", len(md), MaxMetadataSize)
	}
	f.metadata = append([]byte(nil), md...)
	return nil
}

// Clone returns an owned deep copy with tightly packed planes.
func (f *Frame) Clone() (*Frame, error) {
	if f.released.Load() {
		return nil, domain.ErrFrameReleased
	}
	if f.format.IsCompressed() {
		c, err := NewCompressed(f.format, f.width, f.height, f.planes[0])
		if err != nil {
			return nil, err
		}
		c.timestamp = f.timestamp
		c.metadata = append([]byte(nil), f.metadata...)
		return c, nil
	}
	c, err := New(f.format, f.width, f.height)
	if err != nil {
		return nil, err
	}
	_, rows := layout(f.format, f.width, f.height)
	for i := range c.planes {
		copyPlane(c.planes[i], c.strides[i], f.planes[i], f.strides[i], c.strides[i], rows[i])
	}
	c.timestamp = f.timestamp
	c.metadata = append([]byte(nil), f.metadata...)
	return c, nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s %dx%d ts=%d", f.format, f.width, f.height, f.timestamp)
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride int, rowBytes, rows int) {
	for y := 0; y < rows; y++ {
		copy(dst[y*dstStride:y*dstStride+rowBytes], src[y*srcStride:y*srcStride+rowBytes])
	}
}
