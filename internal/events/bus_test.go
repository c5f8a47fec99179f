package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lectern/internal/models"
)

func TestPublish_SeqStrictlyIncreasingPerJob(t *testing.T) {
	bus := NewBus(arbor.NewLogger())
	ch, cancel := bus.Subscribe("j1")
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish("j1", models.EventArtifactChanged, map[string]any{"i": i})
	}
	// A different job's stream does not advance j1's counter.
	bus.Publish("j2", models.EventJobCreated, nil)

	var last int64
	for i := 0; i < 10; i++ {
		evt := <-ch
		assert.Equal(t, "j1", evt.JobID)
		assert.Equal(t, last+1, evt.Seq)
		last = evt.Seq
	}
}

func TestPublish_DropsOldestOnOverflow(t *testing.T) {
	bus := NewBus(arbor.NewLogger())
	ch, cancel := bus.Subscribe("j1")
	defer cancel()

	total := queueCapacity + 100
	for i := 0; i < total; i++ {
		bus.Publish("j1", models.EventArtifactChanged, map[string]any{"i": i})
	}

	// The oldest 100 events were dropped; the survivors keep publish order.
	first := <-ch
	assert.Equal(t, int64(101), first.Seq)

	count := 1
	last := first.Seq
	for {
		select {
		case evt := <-ch:
			require.Equal(t, last+1, evt.Seq)
			last = evt.Seq
			count++
		default:
			assert.Equal(t, queueCapacity, count)
			assert.Equal(t, int64(total), last)
			return
		}
	}
}

func TestSubscribe_IndependentStreams(t *testing.T) {
	bus := NewBus(arbor.NewLogger())
	a, cancelA := bus.Subscribe("j1")
	b, cancelB := bus.Subscribe("j1")
	defer cancelA()
	defer cancelB()

	bus.Publish("j1", models.EventJobStarted, nil)

	evtA := <-a
	evtB := <-b
	assert.Equal(t, evtA.Seq, evtB.Seq)
	assert.Equal(t, models.EventJobStarted, evtA.Type)
}

func TestCancel_ClosesChannelOnce(t *testing.T) {
	bus := NewBus(arbor.NewLogger())
	ch, cancel := bus.Subscribe("j1")
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	bus.Publish("j1", models.EventJobCompleted, nil)
}

func TestEventSSEFraming(t *testing.T) {
	bus := NewBus(arbor.NewLogger())
	ch, cancel := bus.Subscribe("j1")
	defer cancel()

	bus.Publish("j1", models.EventJobCreated, map[string]any{"library_root": "/lib"})
	evt := <-ch
	frame := evt.SSE()
	assert.Equal(t, fmt.Sprintf("data: {\"ts\":%d,\"seq\":1,\"job_id\":\"j1\",\"type\":\"job_created\",\"payload\":{\"library_root\":\"/lib\"}}\n\n", evt.TS), frame)
}
