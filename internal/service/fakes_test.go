package service

import (
	"context"
	"sync"
	"time"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
	next  interface {
		Invalidate(ctx context.Context, roleCode string) error
	}
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, roleCode string) error {
	r.mu.Lock()
	r.calls = append(r.calls, roleCode)
	r.mu.Unlock()
	if r.next != nil {
		return r.next.Invalidate(ctx, roleCode)
	}
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
