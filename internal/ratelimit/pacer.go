package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces consecutive operations by a fixed delay, measured between
// their starts. The first Wait after Reset returns immediately.
type Pacer struct {
	delay time.Duration

	mu    sync.Mutex
	last  time.Time
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewPacer creates a pacer with the given delay
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{
		delay: delay,
		sleep: sleepContext,
		now:   time.Now,
	}
}

// SetSleep replaces the function used to wait out the delay.
func (p *Pacer) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	p.mu.Lock()
	p.sleep = sleep
	p.mu.Unlock()
}

// Delay returns the configured delay
func (p *Pacer) Delay() time.Duration {
	return p.delay
}

// Reset forgets the previous start so the next Wait does not block.
func (p *Pacer) Reset() {
	p.mu.Lock()
	p.last = time.Time{}
	p.mu.Unlock()
}

// Wait blocks until the delay since the previous start has elapsed, then
// records a new start. It returns ctx.Err() if the context ends first.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() && p.delay > 0 {
		if remaining := p.delay - p.now().Sub(p.last); remaining > 0 {
			if err := p.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	p.last = p.now()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
