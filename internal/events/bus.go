package events

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lectern/internal/models"
)

// queueCapacity bounds each subscriber's buffer. A full buffer drops the
// oldest event; a slow SSE client loses history, never stalls a pipeline.
const queueCapacity = 5000

type subscriber struct {
	jobID string
	ch    chan models.Event
}

// Bus fans job events out to subscribers. Sequence numbers are
// allocated per job under the bus lock, so Seq is strictly increasing
// and reflects publish order.
type Bus struct {
	mu     sync.Mutex
	seqs   map[string]int64
	subs   map[*subscriber]struct{}
	logger arbor.ILogger
}

func NewBus(logger arbor.ILogger) *Bus {
	return &Bus{
		seqs:   make(map[string]int64),
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// Publish delivers an event to every subscriber of the job.
func (b *Bus) Publish(jobID, eventType string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seqs[jobID]++
	evt := models.Event{
		TS:      time.Now().UnixMilli(),
		Seq:     b.seqs[jobID],
		JobID:   jobID,
		Type:    eventType,
		Payload: payload,
	}

	for sub := range b.subs {
		if sub.jobID != jobID {
			continue
		}
		for {
			select {
			case sub.ch <- evt:
			default:
				// Full buffer: drop the oldest and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe returns a private channel of the job's events and a cancel
// function. Cancel closes the channel; a reader sees the close and
// stops.
func (b *Bus) Subscribe(jobID string) (<-chan models.Event, func()) {
	sub := &subscriber{jobID: jobID, ch: make(chan models.Event, queueCapacity)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Forget releases the sequence counter of a finished job.
func (b *Bus) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seqs, jobID)
}
