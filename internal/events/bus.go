package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"repo-sentinel/internal/model"
)

const subscriberBuffer = 256

// Bus fans out job events to live subscribers keyed by job identifier.
// Publishing never blocks the pipeline: a subscriber that falls more than
// subscriberBuffer events behind loses intermediate events (it can replay
// the full history from the persisted job), but the terminal done event
// always closes its channel so no subscriber waits forever.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan model.Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan model.Event)}
}

// Subscribe registers a listener for one job's events. The returned
// cancel function is safe to call multiple times and after the stream has
// been closed by a done event.
func (b *Bus) Subscribe(jobID string) (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan model.Event)
	}
	id := b.next
	b.next++
	b.subs[jobID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if m, ok := b.subs[jobID]; ok {
				if _, live := m[id]; live {
					delete(m, id)
					close(ch)
				}
				if len(m) == 0 {
					delete(b.subs, jobID)
				}
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers of its job. A done event
// terminates the stream: it is delivered, then every subscriber channel
// is closed and the job's entry removed.
func (b *Bus) Publish(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.subs[ev.JobID]
	for id, ch := range m {
		select {
		case ch <- ev:
		default:
			if ev.Kind == model.EventDone {
				// The terminal event must not be lost: evict the oldest
				// buffered event to make room.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
			} else {
				log.Warn().
					Str("job_id", ev.JobID).
					Str("kind", string(ev.Kind)).
					Msg("slow event subscriber, dropping event")
			}
		}
		if ev.Kind == model.EventDone {
			close(ch)
			delete(m, id)
		}
	}
	if ev.Kind == model.EventDone {
		delete(b.subs, ev.JobID)
	}
}

// SubscriberCount reports live subscribers for a job.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}
