package rtc

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"streamgate/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond

	opusClockRate = 48000
	vp8ClockRate  = 90000
)

// LoopbackCapture is a synthetic capture device: it produces silent audio
// and blank video frames on a steady RTP clock. Used in single-node
// deployments where the server itself publishes, and in tests. ScreenEnabled
// simulates a host without screen capture when false.
type LoopbackCapture struct {
	ScreenEnabled bool
	logger        *zap.SugaredLogger

	mu      sync.Mutex
	writers []*frameWriter
}

func NewLoopbackCapture(screenEnabled bool, logger *zap.SugaredLogger) *LoopbackCapture {
	return &LoopbackCapture{
		ScreenEnabled: screenEnabled,
		logger:        logger,
	}
}

func (c *LoopbackCapture) CaptureScreen(ctx context.Context) (ports.LocalTrack, ports.LocalTrack, error) {
	if !c.ScreenEnabled {
		return nil, nil, fmt.Errorf("screen capture not available on this host")
	}

	video := newLocalTrack(ports.MediaScreen, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: vp8ClockRate,
	})
	audio := newLocalTrack(ports.MediaAudio, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  2,
	})

	c.startWriter(video, videoFrameInterval, vp8ClockRate/30)
	c.startWriter(audio, audioFrameInterval, opusClockRate/50)
	return video, audio, nil
}

func (c *LoopbackCapture) CaptureMicrophone(ctx context.Context) (ports.LocalTrack, error) {
	mic := newLocalTrack(ports.MediaAudio, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  1,
	})
	c.startWriter(mic, audioFrameInterval, opusClockRate/50)
	return mic, nil
}

// Stop terminates every frame writer this device started.
func (c *LoopbackCapture) Stop() {
	c.mu.Lock()
	writers := c.writers
	c.writers = nil
	c.mu.Unlock()

	for _, w := range writers {
		w.stop()
	}
}

func (c *LoopbackCapture) startWriter(track *LocalRTPTrack, interval time.Duration, timestampStep uint32) {
	w := &frameWriter{
		track:         track,
		interval:      interval,
		timestampStep: timestampStep,
		ssrc:          rand.Uint32(),
		done:          make(chan struct{}),
	}
	c.mu.Lock()
	c.writers = append(c.writers, w)
	c.mu.Unlock()
	go w.run()
}

// frameWriter pushes placeholder RTP frames on a fixed clock until the
// track closes or stop is called.
type frameWriter struct {
	track         *LocalRTPTrack
	interval      time.Duration
	timestampStep uint32
	ssrc          uint32

	stopOnce sync.Once
	done     chan struct{}
}

func (w *frameWriter) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	seq := uint16(rand.Intn(1 << 16))
	timestamp := rand.Uint32()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			packet := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					SequenceNumber: seq,
					Timestamp:      timestamp,
					SSRC:           w.ssrc,
				},
				Payload: make([]byte, 16),
			}
			if err := w.track.WriteRTP(packet); err != nil {
				return
			}
			seq++
			timestamp += w.timestampStep
		}
	}
}

func (w *frameWriter) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}
