package ports

import (
	"time"

	"rtclink/pkg/videoframe"
)

// CaptureSettings describe the frames a capturer promises to deliver.
type CaptureSettings struct {
	Format              videoframe.Format
	Width               int
	Height              int
	FPS                 int
	ExpectedDelay       time.Duration
	MirrorOnLocalRender bool
}

func DefaultCaptureSettings() CaptureSettings {
	return CaptureSettings{
		Format: videoframe.FormatRGBA32,
		Width:  1280,
		Height: 720,
		FPS:    30,
	}
}

// VideoFrameSink is the single entry point for captured frames. The sink
// takes ownership of frame whether or not it returns an error.
type VideoFrameSink interface {
	ProvideFrame(frame *videoframe.Frame) error
}

// VideoCapturer is a pluggable video source. The adapter guarantees Init
// before Start and Stop before Destroy.
type VideoCapturer interface {
	Init(sink VideoFrameSink) error
	Start() error
	Stop() error
	Destroy() error
	CaptureSettings() (CaptureSettings, error)
}

// VideoRenderer draws frames. RenderFrame borrows frame for the duration
// of the call.
type VideoRenderer interface {
	PreferredFormat() videoframe.Format
	RenderFrame(frame *videoframe.Frame) error
}

type AudioSettings struct {
	SampleRate  int
	NumChannels int
}

func DefaultAudioSettings() AudioSettings {
	return AudioSettings{SampleRate: 44100, NumChannels: 1}
}

// AudioSampleSink receives captured PCM samples.
type AudioSampleSink interface {
	WriteSamples(samples []int16)
}

// AudioDevice is a pluggable microphone and speaker pair.
type AudioDevice interface {
	Init(sink AudioSampleSink) error
	Destroy() error
	StartCapture() error
	StopCapture() error
	StartRender() error
	StopRender() error
	CaptureSettings() (AudioSettings, error)
	RenderSettings() (AudioSettings, error)
}
