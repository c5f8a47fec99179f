package jobs

import (
	"context"
	"time"

	"github.com/ternarybob/lectern/internal/catalog"
)

// checkpointer commits the writer transaction every N pages or T
// seconds, whichever comes first, and immediately reopens it.
type checkpointer struct {
	store      *catalog.Store
	everyPages int
	every      time.Duration
	pages      int
	last       time.Time
}

func newCheckpointer(store *catalog.Store, everyPages int, everySec float64) *checkpointer {
	return &checkpointer{
		store:      store,
		everyPages: everyPages,
		every:      time.Duration(everySec * float64(time.Second)),
		last:       time.Now(),
	}
}

// tick records one processed page and checkpoints when due.
func (c *checkpointer) tick(ctx context.Context) error {
	c.pages++
	if c.pages < c.everyPages && time.Since(c.last) < c.every {
		return nil
	}
	if err := c.store.Checkpoint(ctx); err != nil {
		return err
	}
	c.pages = 0
	c.last = time.Now()
	return nil
}
