package room

import (
	"context"
	"sync"
	"time"

	"github.com/robalobadob/gallows/internal/game"
	"github.com/robalobadob/gallows/internal/words"
)

// fakeClock fires timers only from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
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

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type published struct {
	code string
	typ  string
}

type fakePublisher struct {
	mu       sync.Mutex
	attached map[string]map[string]bool
	events   []published
	closed   []string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{attached: map[string]map[string]bool{}}
}

func (p *fakePublisher) Attach(code, ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached[code] == nil {
		p.attached[code] = map[string]bool{}
	}
	p.attached[code][ref] = true
}

func (p *fakePublisher) Detach(code, ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attached[code], ref)
}

func (p *fakePublisher) Publish(code string, ev game.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{code: code, typ: ev.Type})
}

func (p *fakePublisher) Close(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, code)
	delete(p.attached, code)
}

func (p *fakePublisher) types(code string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.code == code {
			out = append(out, e.typ)
		}
	}
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []game.Result
}

func (f *fakeRecorder) Submit(r game.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
}

func (f *fakeRecorder) all() []game.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]game.Result(nil), f.results...)
}

// scriptedOracle hands out words in order, then reports exhaustion.
type scriptedOracle struct {
	mu    sync.Mutex
	words []words.Word
	used  []string
}

func (o *scriptedOracle) Draw(ctx context.Context, f words.Filter) (words.Word, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.words) == 0 {
		return words.Word{}, words.ErrPoolExhausted
	}
	w := o.words[0]
	o.words = o.words[1:]
	return w, nil
}

func (o *scriptedOracle) RecordUsage(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.used = append(o.used, id)
	return nil
}
