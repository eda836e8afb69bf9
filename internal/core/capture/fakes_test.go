package capture

import (
	"errors"
	"sync"

	"rtclink/internal/core/ports"
	"rtclink/pkg/videoframe"
)

type fakeCapturer struct {
	mu       sync.Mutex
	sink     ports.VideoFrameSink
	settings ports.CaptureSettings
	calls    []string
	initErr  error
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{settings: ports.CaptureSettings{
		Format: videoframe.FormatYUV420P,
		Width:  4,
		Height: 2,
		FPS:    15,
	}}
}

func (c *fakeCapturer) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *fakeCapturer) Init(sink ports.VideoFrameSink) error {
	c.record("init")
	if c.initErr != nil {
		return c.initErr
	}
	c.sink = sink
	return nil
}

func (c *fakeCapturer) Start() error   { c.record("start"); return nil }
func (c *fakeCapturer) Stop() error    { c.record("stop"); return nil }
func (c *fakeCapturer) Destroy() error { c.record("destroy"); return nil }

func (c *fakeCapturer) CaptureSettings() (ports.CaptureSettings, error) {
	return c.settings, nil
}

func (c *fakeCapturer) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type frameCollector struct {
	mu     sync.Mutex
	frames []*videoframe.Frame
}

func (f *frameCollector) ConsumeFrame(frame *videoframe.Frame) {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
}

type fakeRenderer struct {
	format   videoframe.Format
	rendered []videoframe.Format
	fail     bool
}

func (r *fakeRenderer) PreferredFormat() videoframe.Format { return r.format }

func (r *fakeRenderer) RenderFrame(frame *videoframe.Frame) error {
	if r.fail {
		return errors.New("display lost")
	}
	r.rendered = append(r.rendered, frame.Format())
	return nil
}

type fakeAudioDevice struct {
	mu    sync.Mutex
	sink  ports.AudioSampleSink
	calls []string
}

func (d *fakeAudioDevice) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeAudioDevice) Init(sink ports.AudioSampleSink) error {
	d.record("init")
	d.sink = sink
	return nil
}
func (d *fakeAudioDevice) Destroy() error      { d.record("destroy"); return nil }
func (d *fakeAudioDevice) StartCapture() error { d.record("start_capture"); return nil }
func (d *fakeAudioDevice) StopCapture() error  { d.record("stop_capture"); return nil }
func (d *fakeAudioDevice) StartRender() error  { d.record("start_render"); return nil }
func (d *fakeAudioDevice) StopRender() error   { d.record("stop_render"); return nil }

func (d *fakeAudioDevice) CaptureSettings() (ports.AudioSettings, error) {
	return ports.AudioSettings{SampleRate: 48000, NumChannels: 2}, nil
}

func (d *fakeAudioDevice) RenderSettings() (ports.AudioSettings, error) {
	return ports.AudioSettings{}, errors.New("no speaker")
}

func (d *fakeAudioDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type sampleCounter struct {
	mu    sync.Mutex
	count int
}

func (s *sampleCounter) ConsumeAudio(samples []int16) {
	s.mu.Lock()
	s.count += len(samples)
	s.mu.Unlock()
}
