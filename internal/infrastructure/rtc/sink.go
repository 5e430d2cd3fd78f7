package rtc

import (
	"sync/atomic"

	"streamgate/internal/core/ports"
)

// DiscardSink consumes media and drops it, counting bytes. Used by headless
// watchers that hold a subscription without rendering.
type DiscardSink struct {
	bytes atomic.Int64
}

func NewDiscardSink() *DiscardSink {
	return &DiscardSink{}
}

func (s *DiscardSink) Write(kind ports.MediaKind, payload []byte) error {
	s.bytes.Add(int64(len(payload)))
	return nil
}

// Bytes reports how much media has flowed through the sink.
func (s *DiscardSink) Bytes() int64 {
	return s.bytes.Load()
}
