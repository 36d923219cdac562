// internal/session/observe.go
package session

import (
	"log/slog"
	"sync"

	"lostwheel-gateway/internal/data"
)

// Observer receives a session's samples in arrival order and its status
// changes. Calls come from the reader goroutine and from Start/Stop callers,
// so implementations must not block.
type Observer interface {
	ObserveSample(sessionID string, s data.Sample)
	ObserveStatus(st Status)
}

// subscribers fan samples out to channel subscriptions.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	chans  map[int]chan data.Sample
}

// Subscribe returns a channel receiving every sample produced after the call,
// and a function that cancels the subscription. A subscriber that lets its
// buffer fill is dropped and its channel closed.
func (s *Session) Subscribe(buffer int) (<-chan data.Sample, func()) {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()

	id := s.subs.nextID
	s.subs.nextID++
	ch := make(chan data.Sample, buffer)
	s.subs.chans[id] = ch

	return ch, func() {
		s.subs.mu.Lock()
		defer s.subs.mu.Unlock()
		if c, ok := s.subs.chans[id]; ok {
			delete(s.subs.chans, id)
			close(c)
		}
	}
}

func (s *Session) publish(sample data.Sample) {
	s.subs.mu.Lock()
	for id, ch := range s.subs.chans {
		select {
		case ch <- sample:
		default:
			s.log.Warn("subscriber not keeping up, dropping it", slog.Int("subscriber", id))
			s.metrics.PublishDropped("subscriber")
			delete(s.subs.chans, id)
			close(ch)
		}
	}
	s.subs.mu.Unlock()

	for _, o := range s.opts.Observers {
		o.ObserveSample(s.id, sample)
	}
}

func (s *Session) notifyStatus(st Status) {
	for _, o := range s.opts.Observers {
		o.ObserveStatus(st)
	}
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.chans {
		delete(s.chans, id)
		close(ch)
	}
}
