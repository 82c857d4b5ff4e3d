// Package orchestrator drives the periodic and on-demand refresh cycles:
// eligibility checks, per-source fetches, the merge/degradation policy and
// the publish step that makes a cycle's result visible to consumers.
package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/quotabar/internal/cache"
	"github.com/tokligence/quotabar/internal/credstore"
	"github.com/tokligence/quotabar/internal/metrics"
	"github.com/tokligence/quotabar/internal/scheduler"
	"github.com/tokligence/quotabar/internal/source"
	"github.com/tokligence/quotabar/internal/usage"
)

// Publisher is the cross-process side of a publish step.
type Publisher interface {
	Publish(agg usage.Aggregate) error
}

// Notifier signals the out-of-process consumer after a publish.
type Notifier interface {
	Notify(ctx context.Context)
}

// Orchestrator owns the in-memory aggregate and the cache entry. Single
// writer: everything that mutates the aggregate funnels through runCycle.
type Orchestrator struct {
	registry  *source.Registry
	creds     credstore.Store
	cache     cache.Store
	publisher Publisher
	notifier  Notifier
	collector *metrics.Collector
	logger    *log.Logger

	fetchTimeout time.Duration

	// cycleMu serializes merge+publish: overlapping RefreshAll/Refresh
	// calls run one after the other, so consumers never observe a
	// partially merged aggregate.
	cycleMu sync.Mutex

	// stateMu guards the fields below for concurrent readers.
	stateMu     sync.RWMutex
	aggregate   usage.Aggregate
	lastErr     error
	lastCycleAt time.Time
	refreshing  bool
	subscribers []func(usage.Aggregate)
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithNotifier wires the post-publish notification.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithCollector wires the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithFetchTimeout bounds each source fetch within a cycle.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator seeded from the cache. A cache that cannot be
// read starts the daemon with an empty aggregate rather than failing:
// corrupt persisted data is treated as absent.
func New(registry *source.Registry, creds credstore.Store, cacheStore cache.Store, publisher Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:     registry,
		creds:        creds,
		cache:        cacheStore,
		publisher:    publisher,
		logger:       log.New(log.Writer(), "[orchestrator] ", log.LstdFlags|log.Lmicroseconds),
		fetchTimeout: 60 * time.Second,
		aggregate:    usage.Aggregate{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if cacheStore != nil {
		loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cached, err := cacheStore.Load(loadCtx); err != nil {
			o.logger.Printf("cache load failed, starting empty: %v", err)
		} else if len(cached) > 0 {
			o.aggregate = cached
			o.logger.Printf("restored %d cached source snapshots", len(cached))
		}
	}
	return o
}

// Subscribe registers a callback fired once per completed refresh cycle
// with the new aggregate. Registration is not safe to race with refreshes;
// subscribe before the first cycle starts.
func (o *Orchestrator) Subscribe(fn func(usage.Aggregate)) {
	if fn == nil {
		return
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

// CurrentAggregate returns a deep copy of the live aggregate.
func (o *Orchestrator) CurrentAggregate() usage.Aggregate {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.aggregate.Clone()
}

// LastError returns the most recent fetch error, or nil after a fully
// clean cycle. Diagnostic state only: the per-source cached data stays
// authoritative for display even while an error is set.
func (o *Orchestrator) LastError() error {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.lastErr
}

// LastCycleAt returns when the last cycle completed, zero before the first.
func (o *Orchestrator) LastCycleAt() time.Time {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.lastCycleAt
}

// IsRefreshing reports whether a refresh cycle is in flight.
func (o *Orchestrator) IsRefreshing() bool {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.refreshing
}

// Eligible reports whether a source currently has usable credentials. The
// HTTP layer uses this to distinguish "not configured" from "error".
func (o *Orchestrator) Eligible(src usage.Source) bool {
	return o.creds.Eligible(src)
}

// RefreshAll refreshes every registered source and publishes the result.
func (o *Orchestrator) RefreshAll(ctx context.Context) {
	o.runCycle(ctx, "manual", o.registry.Sources())
}

// Refresh refreshes a single source, with the same degradation and publish
// rules as a full cycle.
func (o *Orchestrator) Refresh(ctx context.Context, src usage.Source) {
	o.runCycle(ctx, "manual", []usage.Source{src})
}

// Run performs one immediate cycle and then one per tick until ctx ends.
// User-triggered refreshes run through the same mutex and do not disturb
// the ticker's cadence.
func (o *Orchestrator) Run(ctx context.Context, ticker scheduler.Ticker) {
	defer ticker.Stop()
	o.runCycle(ctx, "startup", o.registry.Sources())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			o.runCycle(ctx, "timer", o.registry.Sources())
		}
	}
}

// Reset clears the in-memory aggregate and the cache. The publication
// store is the caller's to reset; the orchestrator never reads it back.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	o.stateMu.Lock()
	o.aggregate = usage.Aggregate{}
	o.lastErr = nil
	o.stateMu.Unlock()

	if o.cache != nil {
		return o.cache.Save(ctx, usage.Aggregate{})
	}
	return nil
}

type fetchResult struct {
	src  usage.Source
	snap usage.Snapshot
	err  error
}

func (o *Orchestrator) runCycle(ctx context.Context, trigger string, targets []usage.Source) {
	started := time.Now()
	cycleID := uuid.NewString()[:8]

	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	o.stateMu.Lock()
	o.refreshing = true
	o.stateMu.Unlock()
	defer func() {
		o.stateMu.Lock()
		o.refreshing = false
		o.lastCycleAt = time.Now()
		o.stateMu.Unlock()
	}()

	// Eligibility gate. An ineligible source keeps whatever aggregate
	// entry it already has; losing credentials never blanks cached data.
	var eligible []usage.Source
	for _, src := range targets {
		if _, ok := o.registry.Client(src); !ok {
			o.logger.Printf("source %s has no registered client, skipping", src)
			continue
		}
		if !o.creds.Eligible(src) {
			o.logger.Printf("source %s not eligible, skipping fetch", src)
			if o.collector != nil {
				o.collector.RecordSkipped(string(src))
			}
			continue
		}
		eligible = append(eligible, src)
	}

	// Fan out fetches. A failure in one source never aborts the others.
	results := make([]fetchResult, len(eligible))
	var wg sync.WaitGroup
	for i, src := range eligible {
		client, _ := o.registry.Client(src)
		wg.Add(1)
		go func(i int, src usage.Source, client source.Client) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
			defer cancel()
			snap, err := client.Fetch(fctx)
			results[i] = fetchResult{src: src, snap: snap, err: err}
		}(i, src, client)
	}
	wg.Wait()

	// Merge. Serialized by cycleMu; stateMu protects concurrent readers.
	var cycleErr error
	o.stateMu.Lock()
	for _, res := range results {
		if res.err != nil {
			kind := source.KindOf(res.err)
			if o.collector != nil {
				o.collector.RecordFetch(string(res.src), string(kind))
			}
			if _, cached := o.aggregate[res.src]; cached {
				o.logger.Printf("source %s fetch failed (%s), keeping cached data: %v", res.src, kind, res.err)
			} else {
				o.logger.Printf("source %s fetch failed (%s), no cached data: %v", res.src, kind, res.err)
			}
			cycleErr = res.err
			continue
		}
		if o.collector != nil {
			o.collector.RecordFetch(string(res.src), "")
		}
		o.aggregate[res.src] = res.snap
	}
	// A fully clean cycle clears the diagnostic error; any failure
	// replaces it, even when cached data keeps the display populated.
	o.lastErr = cycleErr
	published := o.aggregate.Clone()
	o.stateMu.Unlock()

	o.persist(ctx, published)

	o.stateMu.RLock()
	subscribers := make([]func(usage.Aggregate), len(o.subscribers))
	copy(subscribers, o.subscribers)
	o.stateMu.RUnlock()
	for _, fn := range subscribers {
		fn(published.Clone())
	}

	if o.collector != nil {
		o.collector.RecordCycle(trigger, time.Since(started))
	}
	o.logger.Printf("refresh cycle done id=%s trigger=%s sources=%d eligible=%d duration=%s",
		cycleID, trigger, len(targets), len(eligible), time.Since(started).Round(time.Millisecond))
}

// persist writes the aggregate to the cache and the publication store and
// fires the notification. All three are best-effort: a failed write is
// logged and the in-memory aggregate remains authoritative.
func (o *Orchestrator) persist(ctx context.Context, agg usage.Aggregate) {
	var persistErr error
	if o.cache != nil {
		if err := o.cache.Save(ctx, agg); err != nil {
			o.logger.Printf("cache save failed: %v", err)
			persistErr = err
		}
	}
	if o.publisher != nil {
		if err := o.publisher.Publish(agg); err != nil {
			o.logger.Printf("publication write failed: %v", err)
			persistErr = err
		}
	}
	if o.collector != nil {
		o.collector.RecordPublish(persistErr)
	}
	if persistErr == nil && o.notifier != nil {
		o.notifier.Notify(ctx)
	}
}
