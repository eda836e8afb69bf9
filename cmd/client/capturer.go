package main

import (
	"sync"
	"time"

	"rtclink/internal/core/ports"
	"rtclink/pkg/optimize"
	"rtclink/pkg/videoframe"
)

// patternCapturer produces a moving gray ramp at a fixed frame rate.
type patternCapturer struct {
	settings ports.CaptureSettings

	mu   sync.Mutex
	sink ports.VideoFrameSink
	stop chan struct{}
	done chan struct{}
	tick int
}

func newPatternCapturer(width, height, fps int) *patternCapturer {
	return &patternCapturer{settings: ports.CaptureSettings{
		Format: videoframe.FormatYUV420P,
		Width:  width,
		Height: height,
		FPS:    fps,
	}}
}

func (c *patternCapturer) Init(sink ports.VideoFrameSink) error {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
	return nil
}

func (c *patternCapturer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
	return nil
}

func (c *patternCapturer) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second / time.Duration(c.settings.FPS))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.emit()
		}
	}
}

// emit fills a pooled buffer and hands it to the sink as a wrapped frame;
// the buffer goes back to the pool when the last holder releases the frame.
func (c *patternCapturer) emit() {
	w, h := c.settings.Width, c.settings.Height
	buf := optimize.Default().Get(videoframe.BufferSize(c.settings.Format, w, h))
	luma := w * h
	for i := range buf {
		if i < luma {
			buf[i] = byte(i + c.tick)
		} else {
			buf[i] = 128
		}
	}
	c.tick++

	f, err := videoframe.WrapBuffer(c.settings.Format, w, h, buf, func() { optimize.Default().Put(buf) })
	if err != nil {
		optimize.Default().Put(buf)
		return
	}
	f.SetTimestamp(time.Now().UnixMicro())

	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		_ = f.Release()
		return
	}
	_ = sink.ProvideFrame(f)
}

func (c *patternCapturer) Stop() error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (c *patternCapturer) Destroy() error {
	c.mu.Lock()
	c.sink = nil
	c.mu.Unlock()
	return nil
}

func (c *patternCapturer) CaptureSettings() (ports.CaptureSettings, error) {
	return c.settings, nil
}
