package scheduler

import (
	"context"
	"sync"
	"time"

	"AIFlash/internal/ports"
)

const defaultTick = time.Minute

// Ticker drives the job loop at a fixed interval. Ticks that arrive while the previous
// tick is still running are dropped.
type Ticker struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*Ticker)(nil)

// NewTicker builds a ticker; a non-positive interval falls back to one minute.
func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = defaultTick
	}
	return &Ticker{interval: interval}
}

// Interval reports the configured tick.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Start fires tick once immediately and then on every interval until ctx is done or Stop is called.
func (t *Ticker) Start(ctx context.Context, tick func(time.Time)) error {
	if tick == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		tick(time.Now())
		for {
			select {
			case now := <-ticker.C:
				tick(now)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the loop and waits for the running tick to return, or for ctx to expire.
func (t *Ticker) Stop(ctx context.Context) error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
