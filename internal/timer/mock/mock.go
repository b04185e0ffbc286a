// Package mock provides a manually driven [timer.Clock] for tests.
package mock

import (
	"sync"
	"time"

	"github.com/christophersiem/little-moments/internal/timer"
)

var _ timer.Clock = (*Clock)(nil)

// Clock hands out tickers that only fire when [Clock.Tick] is called.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*Ticker

	// CallCountNewTicker is the number of tickers created so far.
	CallCountNewTicker int
}

// NewClock returns a clock starting at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// NewTicker implements [timer.Clock]. The interval is ignored.
func (c *Clock) NewTicker(time.Duration) timer.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountNewTicker++
	tk := &Ticker{
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
	c.tickers = append(c.tickers, tk)
	return tk
}

// Tick advances the clock by one second and delivers a tick to every live
// ticker. It blocks until each ticker has either received the tick or been
// stopped.
func (c *Clock) Tick() {
	c.mu.Lock()
	c.now = c.now.Add(time.Second)
	now := c.now
	live := make([]*Ticker, 0, len(c.tickers))
	for _, tk := range c.tickers {
		if !tk.isStopped() {
			live = append(live, tk)
		}
	}
	c.tickers = live
	c.mu.Unlock()

	for _, tk := range live {
		select {
		case tk.c <- now:
		case <-tk.stopped:
		}
	}
}

// Live returns the number of tickers that have not been stopped.
func (c *Clock) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tk := range c.tickers {
		if !tk.isStopped() {
			n++
		}
	}
	return n
}

// Ticker is a [timer.Ticker] driven by its parent [Clock].
type Ticker struct {
	c        chan time.Time
	stopped  chan struct{}
	stopOnce sync.Once
}

// C implements [timer.Ticker].
func (t *Ticker) C() <-chan time.Time { return t.c }

// Stop implements [timer.Ticker].
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

func (t *Ticker) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}
