// Package capture adapts pluggable capture and render devices to the frame
// pipeline and enforces their lifecycle ordering.
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"
	"rtclink/pkg/videoframe"

	"go.uber.org/zap"
)

type lifecycle int

const (
	stateNew lifecycle = iota
	stateInitialized
	stateStarted
	stateStopped
	stateDestroyed
)

func (l lifecycle) String() string {
	switch l {
	case stateNew:
		return "new"
	case stateInitialized:
		return "initialized"
	case stateStarted:
		return "started"
	case stateStopped:
		return "stopped"
	case stateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("lifecycle(%d)", int(l))
	}
}

var (
	errCaptureFailed = domain.NewStatusError(domain.StatusVideoCaptureFailed, "video capture failed")
	errCameraFailed  = domain.NewStatusError(domain.StatusCameraFailed, "camera failed")
)

// FrameConsumer receives frames accepted by a VideoAdapter and owns them.
type FrameConsumer interface {
	ConsumeFrame(frame *videoframe.Frame)
}

// VideoAdapter drives a ports.VideoCapturer and is the sink it submits
// frames to. Calling Init, Start, Stop or Destroy out of order panics.
type VideoAdapter struct {
	capturer ports.VideoCapturer
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	state    lifecycle
	settings ports.CaptureSettings
	consumer FrameConsumer

	accepted atomic.Int64
	rejected atomic.Int64
}

func NewVideoAdapter(capturer ports.VideoCapturer, logger *zap.SugaredLogger) *VideoAdapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &VideoAdapter{
		capturer: capturer,
		logger:   logger.With("component", "video_adapter"),
		settings: ports.DefaultCaptureSettings(),
	}
}

func (a *VideoAdapter) mustBe(op string, allowed ...lifecycle) {
	for _, s := range allowed {
		if a.state == s {
			return
		}
	}
	panic(fmt.Sprintf("capture: %s called while capturer is %s", op, a.state))
}

func (a *VideoAdapter) checkState(op string, allowed ...lifecycle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBe(op, allowed...)
}

// Init initializes the capturer and records the settings it reports.
func (a *VideoAdapter) Init() error {
	a.checkState("Init", stateNew)

	if err := a.capturer.Init(a); err != nil {
		return errCaptureFailed.Wrap("capturer init failed", err)
	}

	settings, err := a.capturer.CaptureSettings()
	if err != nil {
		return errCaptureFailed.Wrap("capturer settings unavailable", err)
	}
	if err := validateSettings(settings); err != nil {
		return err
	}

	a.mu.Lock()
	a.settings = settings
	a.state = stateInitialized
	a.mu.Unlock()

	a.logger.Infow("capturer initialized",
		"format", settings.Format.String(),
		"width", settings.Width,
		"height", settings.Height,
		"fps", settings.FPS,
	)
	return nil
}

func validateSettings(s ports.CaptureSettings) error {
	if s.Format == videoframe.FormatUnknown {
		return domain.ErrInvalidParam.Withf("capture format must be set")
	}
	if s.Width <= 0 || s.Height <= 0 {
		return domain.ErrInvalidParam.Withf("capture dimensions %dx%d are invalid", s.Width, s.Height)
	}
	if s.FPS <= 0 {
		return domain.ErrInvalidParam.Withf("capture fps %d is invalid", s.FPS)
	}
	return nil
}

func (a *VideoAdapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBe("Start", stateInitialized, stateStopped)

	if err := a.capturer.Start(); err != nil {
		return errCameraFailed.Wrap("capturer start failed", err)
	}
	a.state = stateStarted
	return nil
}

func (a *VideoAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBe("Stop", stateStarted)

	// The adapter stops accepting frames even if the capturer reports an error.
	a.state = stateStopped
	if err := a.capturer.Stop(); err != nil {
		return errCaptureFailed.Wrap("capturer stop failed", err)
	}
	return nil
}

func (a *VideoAdapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mustBe("Destroy", stateNew, stateInitialized, stateStopped)

	prev := a.state
	a.state = stateDestroyed
	a.consumer = nil
	if prev == stateNew {
		return nil
	}
	if err := a.capturer.Destroy(); err != nil {
		return errCaptureFailed.Wrap("capturer destroy failed", err)
	}

	a.logger.Infow("capturer destroyed",
		"frames_accepted", a.accepted.Load(),
		"frames_rejected", a.rejected.Load(),
	)
	return nil
}

// Settings returns the settings reported at Init, or the defaults before.
func (a *VideoAdapter) Settings() ports.CaptureSettings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// SetConsumer routes accepted frames to c. A nil consumer discards them.
func (a *VideoAdapter) SetConsumer(c FrameConsumer) {
	a.mu.Lock()
	a.consumer = c
	a.mu.Unlock()
}

// ProvideFrame implements ports.VideoFrameSink. The submitted frame is
// released exactly once before ProvideFrame returns; accepted frames travel
// on as an owned copy.
func (a *VideoAdapter) ProvideFrame(frame *videoframe.Frame) error {
	if frame == nil {
		a.rejected.Add(1)
		return domain.ErrInvalidParam.Withf("nil frame")
	}
	if frame.Released() {
		a.rejected.Add(1)
		return domain.ErrFrameReleased
	}
	defer frame.Release()

	a.mu.Lock()
	state, settings, consumer := a.state, a.settings, a.consumer
	a.mu.Unlock()

	if state != stateStarted {
		a.rejected.Add(1)
		return domain.ErrIllegalState.Withf("capturer is %s", state)
	}
	if frame.Format() != settings.Format || frame.Width() != settings.Width || frame.Height() != settings.Height {
		a.rejected.Add(1)
		return domain.ErrInvalidParam.Withf("frame %s does not match capture settings %s %dx%d",
			frame, settings.Format, settings.Width, settings.Height)
	}

	a.accepted.Add(1)
	if consumer == nil {
		return nil
	}

	clone, err := frame.Clone()
	if err != nil {
		return err
	}
	consumer.ConsumeFrame(clone)
	return nil
}

// FrameCounts returns how many frames were accepted and rejected so far.
func (a *VideoAdapter) FrameCounts() (accepted, rejected int64) {
	return a.accepted.Load(), a.rejected.Load()
}
