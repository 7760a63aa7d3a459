// Package collab answers ad-hoc questions about recent activity from a cached snapshot.
package collab

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codeGROOVE-dev/daily-digest/pkg/aggregate"
	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
)

// State is the lifecycle of the activity cache.
type State int32

const (
	// Empty means nothing has been cached yet.
	Empty State = iota
	// Populating means a fetch is in flight.
	Populating
	// Ready means an entry is published.
	Ready
)

func (s State) String() string {
	switch s {
	case Populating:
		return "populating"
	case Ready:
		return "ready"
	default:
		return "empty"
	}
}

// Entry is one immutable cached view. It is replaced wholesale, never mutated.
type Entry struct {
	BuiltAt    time.Time
	Snapshot   *aggregate.Snapshot
	Rendered   string
	LastReport string
}

// Loader builds a fresh snapshot and its rendered text.
type Loader func(ctx context.Context) (*aggregate.Snapshot, string, error)

const (
	populateKey            = "populate"
	defaultPopulateTimeout = 5 * time.Minute
)

// Cache holds the latest activity for the collaborator. Readers never block on writers:
// the entry is published through an atomic pointer, and concurrent refreshes share one
// in-flight load.
type Cache struct {
	load    Loader
	now     func() time.Time
	metrics *metrics.Metrics
	entry   atomic.Pointer[Entry]
	group   singleflight.Group
	ttl     time.Duration
	timeout time.Duration
	state   atomic.Int32
	stale   atomic.Bool
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	Metrics *metrics.Metrics
	// Now is the clock; nil = time.Now.
	Now func() time.Time
	// TTL is how long an entry is served before a refresh; zero never expires.
	TTL time.Duration
	// PopulateTimeout bounds one load; zero = 5m.
	PopulateTimeout time.Duration
}

// NewCache returns an empty cache backed by load.
func NewCache(load Loader, cfg CacheConfig) *Cache {
	c := &Cache{load: load, now: cfg.Now, ttl: cfg.TTL, timeout: cfg.PopulateTimeout, metrics: cfg.Metrics}
	if c.now == nil {
		c.now = time.Now
	}
	if c.timeout <= 0 {
		c.timeout = defaultPopulateTimeout
	}
	return c
}

// State returns the current lifecycle state.
func (c *Cache) State() State { return State(c.state.Load()) }

// Current returns the published entry without refreshing it; nil when empty.
func (c *Cache) Current() *Entry { return c.entry.Load() }

// Invalidate marks the entry stale so the next Get reloads it.
func (c *Cache) Invalidate() {
	if c.stale.CompareAndSwap(false, true) {
		slog.Debug("Activity cache marked stale", "component", "collab")
	}
}

// SetReport records the latest scheduled report alongside the cached activity.
func (c *Cache) SetReport(report string) {
	for {
		old := c.entry.Load()
		next := &Entry{LastReport: report}
		if old != nil {
			cp := *old
			cp.LastReport = report
			next = &cp
		}
		if c.entry.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *Cache) fresh(e *Entry) bool {
	if e == nil || e.Snapshot == nil || c.stale.Load() {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(e.BuiltAt) < c.ttl
}

// Get returns a fresh entry, loading one when the cache is empty, stale or expired.
// Concurrent callers share a single load. When a reload fails but an older entry exists,
// the older entry is returned along with a nil error.
func (c *Cache) Get(ctx context.Context) (*Entry, error) {
	if e := c.entry.Load(); c.fresh(e) {
		return e, nil
	}

	ch := c.group.DoChan(populateKey, func() (any, error) {
		// A load may have finished between the check above and joining the group.
		if e := c.entry.Load(); c.fresh(e) {
			return e, nil
		}
		return c.populate(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if prev := c.entry.Load(); prev != nil && prev.Snapshot != nil {
				slog.WarnContext(ctx, "Refresh failed, serving older activity", "component", "collab",
					"built_at", prev.BuiltAt, "error", res.Err)
				return prev, nil
			}
			return nil, res.Err
		}
		e, ok := res.Val.(*Entry)
		if !ok {
			return nil, errors.New("unexpected cache value")
		}
		return e, nil
	}
}

func (c *Cache) populate(ctx context.Context) (*Entry, error) {
	c.state.Store(int32(Populating))
	// The load outlives any single caller; it is bounded by its own timeout.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	// Cleared before loading so an invalidation during the load forces another refresh.
	c.stale.Store(false)
	start := c.now()
	snap, rendered, err := c.load(loadCtx)
	if err == nil && snap == nil {
		err = errors.New("loader returned no snapshot")
	}
	if err != nil {
		c.stale.Store(true)
		if e := c.entry.Load(); e != nil && e.Snapshot != nil {
			c.state.Store(int32(Ready))
		} else {
			c.state.Store(int32(Empty))
		}
		return nil, err
	}

	next := &Entry{BuiltAt: start, Snapshot: snap, Rendered: rendered}
	for {
		old := c.entry.Load()
		if old != nil {
			next.LastReport = old.LastReport
		}
		if c.entry.CompareAndSwap(old, next) {
			break
		}
	}
	c.state.Store(int32(Ready))
	c.metrics.CachePopulated()
	slog.InfoContext(ctx, "Activity cache populated", "component", "collab", "events", snap.Total(), "bytes", len(rendered))
	return next, nil
}
