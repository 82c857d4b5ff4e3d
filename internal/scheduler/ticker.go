// Package scheduler provides the ticking source of "refresh due" events.
// The orchestrator takes a Ticker rather than owning a time.Ticker so tests
// can drive refresh cycles without wall-clock delay.
package scheduler

import "time"

// Ticker emits refresh-due events.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// IntervalTicker wraps time.Ticker with a fixed interval.
type IntervalTicker struct {
	ticker *time.Ticker
}

// DefaultInterval is the reference refresh cadence.
const DefaultInterval = 15 * time.Minute

// NewIntervalTicker creates a wall-clock ticker. A non-positive interval
// falls back to the default.
func NewIntervalTicker(interval time.Duration) *IntervalTicker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &IntervalTicker{ticker: time.NewTicker(interval)}
}

func (t *IntervalTicker) C() <-chan time.Time { return t.ticker.C }
func (t *IntervalTicker) Stop()               { t.ticker.Stop() }

// ManualTicker fires only when Tick is called. Test use.
type ManualTicker struct {
	ch chan time.Time
}

// NewManualTicker creates a manually driven ticker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time, 1)}
}

func (t *ManualTicker) C() <-chan time.Time { return t.ch }
func (t *ManualTicker) Stop()               {}

// Tick delivers one refresh-due event.
func (t *ManualTicker) Tick() { t.ch <- time.Now() }
