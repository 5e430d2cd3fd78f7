package rtc

import (
	"errors"
	"sync"
	"sync/atomic"

	"streamgate/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

var errTrackClosed = errors.New("track closed")

// feedBuffer bounds the per-subscriber packet queue. Overflow drops the
// oldest packet, so a slow consumer lags instead of stalling the publisher.
const feedBuffer = 256

// LocalRTPTrack is a published track carried over the in-process hub.
// Producers push RTP packets with WriteRTP; the hub fans them out to every
// subscriber feed.
type LocalRTPTrack struct {
	kind    ports.MediaKind
	codec   webrtc.RTPCodecCapability
	enabled atomic.Bool

	mu     sync.RWMutex
	feeds  map[*subscriberFeed]struct{}
	closed bool
}

type subscriberFeed struct {
	packets chan *rtp.Packet
}

func newLocalTrack(kind ports.MediaKind, codec webrtc.RTPCodecCapability) *LocalRTPTrack {
	t := &LocalRTPTrack{
		kind:  kind,
		codec: codec,
		feeds: make(map[*subscriberFeed]struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *LocalRTPTrack) Kind() ports.MediaKind { return t.kind }

func (t *LocalRTPTrack) Codec() webrtc.RTPCodecCapability { return t.codec }

// SetEnabled mutes or unmutes the track. Disabled tracks drop writes but
// keep their subscriber feeds, matching mute semantics.
func (t *LocalRTPTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// WriteRTP delivers a packet to every subscriber. Slow subscribers lose
// their oldest queued packet.
func (t *LocalRTPTrack) WriteRTP(packet *rtp.Packet) error {
	if !t.enabled.Load() {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return errTrackClosed
	}

	for feed := range t.feeds {
		select {
		case feed.packets <- packet:
		default:
			select {
			case <-feed.packets:
			default:
			}
			select {
			case feed.packets <- packet:
			default:
			}
		}
	}
	return nil
}

func (t *LocalRTPTrack) attach() *subscriberFeed {
	feed := &subscriberFeed{packets: make(chan *rtp.Packet, feedBuffer)}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(feed.packets)
		return feed
	}
	t.feeds[feed] = struct{}{}
	return feed
}

func (t *LocalRTPTrack) detach(feed *subscriberFeed) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.feeds[feed]; ok {
		delete(t.feeds, feed)
		close(feed.packets)
	}
}

// Stop halts delivery without releasing the track.
func (t *LocalRTPTrack) Stop() error {
	t.enabled.Store(false)
	return nil
}

// Close releases the track and terminates all subscriber feeds.
func (t *LocalRTPTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for feed := range t.feeds {
		close(feed.packets)
		delete(t.feeds, feed)
	}
	return nil
}

// remoteTrack is the subscriber side of a publication.
type remoteTrack struct {
	kind   ports.MediaKind
	local  *LocalRTPTrack
	feed   *subscriberFeed
	pli    func()
	volume atomic.Value // float64

	stopOnce sync.Once
	stop     chan struct{}
}

func newRemoteTrack(local *LocalRTPTrack, pli func()) *remoteTrack {
	rt := &remoteTrack{
		kind:  local.Kind(),
		local: local,
		feed:  local.attach(),
		pli:   pli,
		stop:  make(chan struct{}),
	}
	rt.volume.Store(1.0)
	return rt
}

func (t *remoteTrack) Kind() ports.MediaKind { return t.kind }

func (t *remoteTrack) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	t.volume.Store(volume)
}

// Play consumes the feed into sink. A nil sink discards the payloads while
// keeping the subscription alive. Sequence gaps on video trigger a picture
// loss indication back to the publisher.
func (t *remoteTrack) Play(sink ports.TrackSink) error {
	go func() {
		var lastSeq uint16
		var haveSeq bool

		for {
			select {
			case <-t.stop:
				return
			case packet, ok := <-t.feed.packets:
				if !ok {
					return
				}
				if haveSeq && packet.SequenceNumber != lastSeq+1 && t.kind != ports.MediaAudio {
					if t.pli != nil {
						t.pli()
					}
				}
				lastSeq = packet.SequenceNumber
				haveSeq = true

				if sink == nil {
					continue
				}
				if err := sink.Write(t.kind, packet.Payload); err != nil {
					return
				}
			}
		}
	}()
	return nil
}

func (t *remoteTrack) Stop() error {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.local.detach(t.feed)
	})
	return nil
}
