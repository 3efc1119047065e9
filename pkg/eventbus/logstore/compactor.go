package logstore

import (
	"context"
	"sync"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// FlushFunc removes sent entries older than ageLimit.
type FlushFunc func(ctx context.Context, ageLimit time.Duration) (int, error)

// Compactor runs a writer's retention sweep on a fixed interval.
type Compactor struct {
	flush    FlushFunc
	opts     Options
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartCompactor launches the sweep loop. It returns nil when compaction
// is disabled; Stop is safe on a nil Compactor.
func StartCompactor(flush FlushFunc, opts Options) *Compactor {
	if opts.CompactionInterval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Compactor{
		flush:  flush,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

func (c *Compactor) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.CompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Compactor) sweep(ctx context.Context) {
	removed, err := c.flush(ctx, c.opts.Retention)
	if ctx.Err() != nil {
		// Stopped mid-sweep; the store is closing.
		return
	}
	if err != nil {
		err = &CompactionError{Err: err}
	}
	observability.LogCompaction(c.opts.Logger, removed, err)
	c.opts.Metrics.RecordCompaction(ctx, removed, err)
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (c *Compactor) Stop() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() {
		c.cancel()
		<-c.done
	})
}
