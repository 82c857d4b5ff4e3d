package metrics

import (
	"sync"
	"time"
)

// Collector tracks refresh and publication metrics for the /metrics
// endpoint. Manual tracking without external dependencies; the exposition
// format lives in prometheus.go.
type Collector struct {
	mu sync.RWMutex

	// Refresh cycle metrics
	cyclesTotal     int64
	cyclesDurMs     int64
	lastCycleAt     time.Time
	refreshesByTrig map[string]int64 // "timer", "manual", "startup"

	// Per-source fetch metrics
	fetchesBySource map[string]int64
	errorsBySource  map[string]int64
	errorsByKind    map[string]int64
	skippedBySource map[string]int64 // ineligible, fetch not attempted

	// Publication metrics
	publishTotal  int64
	publishErrors int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		refreshesByTrig: make(map[string]int64),
		fetchesBySource: make(map[string]int64),
		errorsBySource:  make(map[string]int64),
		errorsByKind:    make(map[string]int64),
		skippedBySource: make(map[string]int64),
		startTime:       time.Now(),
	}
}

// RecordCycle records one completed refresh cycle.
func (c *Collector) RecordCycle(trigger string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cyclesTotal++
	c.cyclesDurMs += duration.Milliseconds()
	c.lastCycleAt = time.Now()
	c.refreshesByTrig[trigger]++
}

// RecordFetch records one attempted source fetch.
func (c *Collector) RecordFetch(source string, errKind string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetchesBySource[source]++
	if errKind != "" {
		c.errorsBySource[source]++
		c.errorsByKind[errKind]++
	}
}

// RecordSkipped records a source skipped for missing credentials.
func (c *Collector) RecordSkipped(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.skippedBySource[source]++
}

// RecordPublish records one cache+publication write.
func (c *Collector) RecordPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publishTotal++
	if err != nil {
		c.publishErrors++
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime          int64
	CyclesTotal     int64
	CyclesDurMs     int64
	LastCycleAt     time.Time
	RefreshesByTrig map[string]int64
	FetchesBySource map[string]int64
	ErrorsBySource  map[string]int64
	ErrorsByKind    map[string]int64
	SkippedBySource map[string]int64
	PublishTotal    int64
	PublishErrors   int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:          int64(time.Since(c.startTime).Seconds()),
		CyclesTotal:     c.cyclesTotal,
		CyclesDurMs:     c.cyclesDurMs,
		LastCycleAt:     c.lastCycleAt,
		RefreshesByTrig: copyMap(c.refreshesByTrig),
		FetchesBySource: copyMap(c.fetchesBySource),
		ErrorsBySource:  copyMap(c.errorsBySource),
		ErrorsByKind:    copyMap(c.errorsByKind),
		SkippedBySource: copyMap(c.skippedBySource),
		PublishTotal:    c.publishTotal,
		PublishErrors:   c.publishErrors,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
