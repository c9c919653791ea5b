package agent

import (
	"context"
	"slices"
	"sync"
	"time"

	"funneltrace/api/models"
)

// fakeClock fires timers synchronously from Advance, in due order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 16, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recordingTransport struct {
	mu      sync.Mutex
	err     error
	calls   int
	batches [][]models.TrackRecord
}

func (r *recordingTransport) Send(ctx context.Context, events []models.TrackRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, slices.Clone(events))
	return nil
}

func (r *recordingTransport) records() []models.TrackRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TrackRecord
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func (r *recordingTransport) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingBeacon struct {
	mu      sync.Mutex
	err     error
	calls   int
	batches [][]models.TrackRecord
}

func (r *recordingBeacon) SendBeacon(events []models.TrackRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, slices.Clone(events))
	return nil
}

func (r *recordingBeacon) records() []models.TrackRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TrackRecord
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func (r *recordingBeacon) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func typesOf(recs []models.TrackRecord) []models.EventType {
	out := make([]models.EventType, len(recs))
	for i, r := range recs {
		out[i] = models.EventType(r.Type)
	}
	return out
}

func ofType(recs []models.TrackRecord, typ models.EventType) []models.TrackRecord {
	var out []models.TrackRecord
	for _, r := range recs {
		if models.EventType(r.Type) == typ {
			out = append(out, r)
		}
	}
	return out
}
