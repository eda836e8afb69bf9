package capture

import (
	"sync"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"

	"go.uber.org/zap"
)

// AudioConsumer receives captured samples. The slice is only valid for the
// duration of the call.
type AudioConsumer interface {
	ConsumeAudio(samples []int16)
}

// AudioAdapter shares one ports.AudioDevice between every publisher and
// subscriber of an engine. Capture and render are started on first use and
// stopped when the last user releases them.
type AudioAdapter struct {
	device ports.AudioDevice
	logger *zap.SugaredLogger

	mu          sync.Mutex
	state       lifecycle
	captureRefs int
	renderRefs  int
	consumers   map[int]AudioConsumer
	nextID      int
	capture     ports.AudioSettings
	render      ports.AudioSettings
}

func NewAudioAdapter(device ports.AudioDevice, logger *zap.SugaredLogger) *AudioAdapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AudioAdapter{
		device:    device,
		logger:    logger.With("component", "audio_adapter"),
		consumers: make(map[int]AudioConsumer),
		capture:   ports.DefaultAudioSettings(),
		render:    ports.DefaultAudioSettings(),
	}
}

func (a *AudioAdapter) Init() error {
	func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.mustBe("Init", stateNew)
	}()

	if err := a.device.Init(a); err != nil {
		return domain.ErrFatal.Wrap("audio device init failed", err)
	}
	capture, render := ports.DefaultAudioSettings(), ports.DefaultAudioSettings()
	if s, err := a.device.CaptureSettings(); err == nil && s.SampleRate > 0 {
		capture = s
	}
	if s, err := a.device.RenderSettings(); err == nil && s.SampleRate > 0 {
		render = s
	}

	a.mu.Lock()
	a.capture, a.render = capture, render
	a.state = stateInitialized
	a.mu.Unlock()

	a.logger.Infow("audio device initialized",
		"capture_rate", capture.SampleRate,
		"capture_channels", capture.NumChannels,
		"render_rate", render.SampleRate,
	)
	return nil
}

func (a *AudioAdapter) mustBe(op string, allowed ...lifecycle) {
	for _, s := range allowed {
		if a.state == s {
			return
		}
	}
	panic("capture: audio " + op + " called while device is " + a.state.String())
}

// AcquireCapture registers c for captured samples and starts capture if
// this is the first user. The returned func undoes both and is idempotent.
func (a *AudioAdapter) AcquireCapture(c AudioConsumer) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBe("AcquireCapture", stateInitialized)

	if a.captureRefs == 0 {
		if err := a.device.StartCapture(); err != nil {
			return nil, domain.ErrFatal.Wrap("audio capture start failed", err)
		}
	}
	a.captureRefs++
	id := a.nextID
	a.nextID++
	a.consumers[id] = c

	var once sync.Once
	return func() { once.Do(func() { a.releaseCapture(id) }) }, nil
}

func (a *AudioAdapter) releaseCapture(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.consumers, id)
	a.captureRefs--
	if a.captureRefs == 0 {
		if err := a.device.StopCapture(); err != nil {
			a.logger.Warnw("audio capture stop failed", "error", err)
		}
	}
}

// AcquireRender starts render on first use. The returned func is idempotent.
func (a *AudioAdapter) AcquireRender() (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBe("AcquireRender", stateInitialized)

	if a.renderRefs == 0 {
		if err := a.device.StartRender(); err != nil {
			return nil, domain.ErrFatal.Wrap("audio render start failed", err)
		}
	}
	a.renderRefs++

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.renderRefs--
			if a.renderRefs == 0 {
				if err := a.device.StopRender(); err != nil {
					a.logger.Warnw("audio render stop failed", "error", err)
				}
			}
		})
	}, nil
}

// WriteSamples implements ports.AudioSampleSink.
func (a *AudioAdapter) WriteSamples(samples []int16) {
	a.mu.Lock()
	consumers := make([]AudioConsumer, 0, len(a.consumers))
	for _, c := range a.consumers {
		consumers = append(consumers, c)
	}
	a.mu.Unlock()

	for _, c := range consumers {
		c.ConsumeAudio(samples)
	}
}

func (a *AudioAdapter) CaptureSettings() ports.AudioSettings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capture
}

// Destroy requires every capture and render user to have released first.
func (a *AudioAdapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBe("Destroy", stateNew, stateInitialized)
	if a.captureRefs > 0 || a.renderRefs > 0 {
		panic("capture: audio Destroy called while capture or render is active")
	}

	prev := a.state
	a.state = stateDestroyed
	if prev == stateNew {
		return nil
	}
	if err := a.device.Destroy(); err != nil {
		return domain.ErrFatal.Wrap("audio device destroy failed", err)
	}
	return nil
}
