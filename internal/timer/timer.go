// Package timer provides the elapsed-seconds counter shown while a recording
// is active.
//
// The counter is an integer tick count: it advances by one for every tick the
// [Clock] delivers and is not reconciled against wall-clock time.
package timer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Ticker is the subset of [time.Ticker] the timer needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers. Production code uses [RealClock]; tests inject a
// manual clock from the mock subpackage.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// RealClock is a [Clock] backed by the time package.
type RealClock struct{}

var _ Clock = RealClock{}

// NewTicker implements [Clock].
func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Option configures an [ElapsedTimer].
type Option func(*ElapsedTimer)

// WithClock overrides the tick source. The default is [RealClock].
func WithClock(c Clock) Option {
	return func(t *ElapsedTimer) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithInterval sets the tick period. The default is one second.
func WithInterval(d time.Duration) Option {
	return func(t *ElapsedTimer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithOnTick registers fn to be called with the new count after every tick.
// fn runs on the timer goroutine and must not call [ElapsedTimer.End].
func WithOnTick(fn func(elapsed int)) Option {
	return func(t *ElapsedTimer) {
		t.onTick = fn
	}
}

// ElapsedTimer counts ticks between [ElapsedTimer.Begin] and
// [ElapsedTimer.End]. It is safe for concurrent use.
type ElapsedTimer struct {
	clock    Clock
	interval time.Duration
	onTick   func(int)

	elapsed atomic.Int64

	mu     sync.Mutex
	done   chan struct{}
	exited chan struct{}
}

// New returns a stopped timer with an elapsed count of zero.
func New(opts ...Option) *ElapsedTimer {
	t := &ElapsedTimer{
		clock:    RealClock{},
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin resets the count to zero and starts ticking. Calling Begin on a
// running timer restarts it.
func (t *ElapsedTimer) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.elapsed.Store(0)

	ticker := t.clock.NewTicker(t.interval)
	done := make(chan struct{})
	exited := make(chan struct{})
	t.done = done
	t.exited = exited

	go t.run(ticker, done, exited)
}

// End stops ticking. When End returns no further tick will be counted. The
// final count stays readable through [ElapsedTimer.Elapsed]. End on a stopped
// timer is a no-op.
func (t *ElapsedTimer) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Reset stops the timer and clears the count.
func (t *ElapsedTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.elapsed.Store(0)
}

// Running reports whether the timer is currently ticking.
func (t *ElapsedTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

// Elapsed returns the number of ticks counted since the last Begin.
func (t *ElapsedTimer) Elapsed() int {
	return int(t.elapsed.Load())
}

func (t *ElapsedTimer) stopLocked() {
	if t.done == nil {
		return
	}
	close(t.done)
	<-t.exited
	t.done = nil
	t.exited = nil
}

func (t *ElapsedTimer) run(ticker Ticker, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			// A tick racing with End must not be counted.
			select {
			case <-done:
				return
			default:
			}
			n := int(t.elapsed.Add(1))
			if t.onTick != nil {
				t.onTick(n)
			}
		}
	}
}

// Format renders a tick count as zero-padded minutes and seconds, e.g. "01:05".
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
