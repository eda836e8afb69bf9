package capture

import (
	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/videoframe"
)

// RenderAdapter feeds frames to a ports.VideoRenderer in the format it
// asks for.
type RenderAdapter struct {
	renderer ports.VideoRenderer
}

func NewRenderAdapter(renderer ports.VideoRenderer) *RenderAdapter {
	return &RenderAdapter{renderer: renderer}
}

// Render borrows frame. Frames already in the preferred format, or when the
// renderer has no preference, are passed through untouched.
func (a *RenderAdapter) Render(frame *videoframe.Frame) error {
	if frame == nil || frame.Released() {
		return domain.ErrFrameReleased
	}

	want := a.renderer.PreferredFormat()
	if want == videoframe.FormatUnknown || want == frame.Format() {
		return a.render(frame)
	}

	converted, err := frame.Convert(want)
	if err != nil {
		return err
	}
	defer converted.Release()
	return a.render(converted)
}

func (a *RenderAdapter) render(frame *videoframe.Frame) error {
	if err := a.renderer.RenderFrame(frame); err != nil {
		return domain.NewStatusError(domain.StatusVideoRenderFailed, "render failed").Wrap("renderer rejected frame", err)
	}
	return nil
}
