// Package cache implements the client-side query cache for the dashboard:
// one shared map of query results keyed by entity kind plus every dimension
// the result depends on, with the invalidation and write-ordering rules that
// keep all consumers (the kepsek's own form, the admin roster, the summary
// counts) consistent after a save.
//
// A Coordinator is an explicit per-session object, not a hidden singleton;
// tests and concurrent sessions construct isolated instances.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"kepsekreport/internal/daykey"
)

// Kind is the cached entity type.
type Kind string

const (
	KindReport       Kind = "report"
	KindSchool       Kind = "school"
	KindRoster       Kind = "roster"
	KindRankings     Kind = "rankings"
	KindActiveCount  Kind = "activeSchoolsCount"
	KindActiveList   Kind = "activeSchoolsList"
	KindCallerRole   Kind = "callerRole"
	KindCallerProfil Kind = "callerProfile"
)

// Key identifies one cached query result. Every dimension the result depends
// on is part of the key: principal-scoped entries embed the principal, so
// switching identities can never surface another principal's data; day-scoped
// entries embed the day key.
type Key struct {
	Kind      Kind
	Principal string
	Day       daykey.DayKey
}

func ReportKey(principal string, day daykey.DayKey) Key {
	return Key{Kind: KindReport, Principal: principal, Day: day}
}

func SchoolKey(principal string) Key {
	return Key{Kind: KindSchool, Principal: principal}
}

func RosterKey(day daykey.DayKey) Key {
	return Key{Kind: KindRoster, Day: day}
}

func RankingsKey(day daykey.DayKey) Key {
	return Key{Kind: KindRankings, Day: day}
}

func ActiveCountKey() Key { return Key{Kind: KindActiveCount} }

func ActiveListKey() Key { return Key{Kind: KindActiveList} }

func CallerRoleKey(principal string) Key {
	return Key{Kind: KindCallerRole, Principal: principal}
}

func CallerProfileKey(principal string) Key {
	return Key{Kind: KindCallerProfil, Principal: principal}
}

// State is an entry's freshness. Loading is distinct from Miss so a consumer
// switching dates can tell "new day still fetching" from "no report that day"
// and never falls back to a previous day's value.
type State int

const (
	Miss State = iota
	Loading
	Fresh
	Stale
	Failed
)

func (s State) String() string {
	switch s {
	case Miss:
		return "miss"
	case Loading:
		return "loading"
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type entry struct {
	value     any
	state     State
	err       error
	fetchedAt time.Time
}

// Coordinator owns the cached entries, the per-key write sequencing that
// guards against stale overwrites, and the invalidation fan-out.
type Coordinator struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	nextSeq   map[Key]uint64
	applied   map[Key]uint64
	listeners []func(Key)
	log       *zap.Logger
}

// New creates an empty coordinator. logger may be nil.
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		entries: make(map[Key]*entry),
		nextSeq: make(map[Key]uint64),
		applied: make(map[Key]uint64),
		log:     logger,
	}
}

// OnInvalidate registers a listener called (outside the cache lock) whenever
// an entry is marked stale, so an active consumer can schedule a re-fetch.
func (c *Coordinator) OnInvalidate(fn func(Key)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Lookup returns the cached value and its freshness. Stale entries still
// return their last confirmed value; Loading and Miss return nil.
func (c *Coordinator) Lookup(k Key) (any, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return nil, Miss
	}
	return e.value, e.state
}

// Get is a typed Lookup.
func Get[T any](c *Coordinator, k Key) (T, State) {
	var zero T
	v, st := c.Lookup(k)
	if v == nil {
		return zero, st
	}
	typed, ok := v.(T)
	if !ok {
		return zero, Miss
	}
	return typed, st
}

// MarkLoading transitions a key to Loading ahead of a fetch. A stale entry
// keeps its last value while loading; a miss has none.
func (c *Coordinator) MarkLoading(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{}
		c.entries[k] = e
	}
	e.state = Loading
	e.err = nil
}

// Put stores a freshly fetched value.
func (c *Coordinator) Put(k Key, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k] = &entry{value: v, state: Fresh, fetchedAt: time.Now()}
}

// WriteMark returns the sequence of the last write applied to k. Fetchers
// record it at dispatch and hand it back to PutIfCurrent.
func (c *Coordinator) WriteMark(k Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied[k]
}

// PutIfCurrent stores a fetched value unless a write landed on k after the
// fetch was dispatched. A read that left before a save and returned after it
// would otherwise overwrite the saved entry with the pre-save value. Reports
// whether the value landed.
func (c *Coordinator) PutIfCurrent(k Key, mark uint64, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied[k] != mark {
		c.log.Debug("dropping stale fetch",
			zap.String("kind", string(k.Kind)),
			zap.Uint64("mark", mark),
			zap.Uint64("applied", c.applied[k]))
		return false
	}
	c.entries[k] = &entry{value: v, state: Fresh, fetchedAt: time.Now()}
	return true
}

// SetError records a fetch failure. The last confirmed value, if any, stays
// visible as stale data.
func (c *Coordinator) SetError(k Key, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok || e.value == nil {
		c.entries[k] = &entry{state: Failed, err: err}
		return
	}
	e.state = Stale
	e.err = err
}

// Err returns the last recorded fetch error for a key.
func (c *Coordinator) Err(k Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		return e.err
	}
	return nil
}

// NextWriteSeq allocates the logical write order for a save targeting k.
// Callers must allocate at dispatch time, before the request leaves, and hand
// the number to ApplyWrite on completion.
func (c *Coordinator) NextWriteSeq(k Key) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq[k]++
	return c.nextSeq[k]
}

// ApplyWrite overwrites the entry for k with a confirmed write, unless a
// later write (higher sequence) has already been applied. Completion order is
// irrelevant; only dispatch order counts. Reports whether the value landed.
func (c *Coordinator) ApplyWrite(k Key, seq uint64, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq < c.applied[k] {
		c.log.Debug("dropping stale write",
			zap.String("kind", string(k.Kind)),
			zap.Uint64("seq", seq),
			zap.Uint64("applied", c.applied[k]))
		return false
	}
	c.applied[k] = seq
	c.entries[k] = &entry{value: v, state: Fresh, fetchedAt: time.Now()}
	return true
}

// Invalidate marks entries stale and notifies listeners so active consumers
// re-fetch. Keys never cached stay misses, which already force a fetch.
func (c *Coordinator) Invalidate(keys ...Key) {
	c.mu.Lock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			e.state = Stale
		}
	}
	listeners := c.listeners
	c.mu.Unlock()

	for _, fn := range listeners {
		for _, k := range keys {
			fn(k)
		}
	}
}

// ReportSaved applies a confirmed report save for (principal, day) and
// invalidates every dependent of that pair: the per-day roster and rankings
// are computed server-side across principals and cannot be patched locally,
// and the aggregate count is invalidated on every report write (one
// consistent rule). The principal's own entry is overwritten optimistically
// so the form sees the new value without a round trip.
func (c *Coordinator) ReportSaved(principal string, day daykey.DayKey, seq uint64, rec any) bool {
	applied := c.ApplyWrite(ReportKey(principal, day), seq, rec)
	c.Invalidate(RosterKey(day), RankingsKey(day), ActiveCountKey())
	return applied
}

// SchoolSaved invalidates the dependents of a school profile write.
func (c *Coordinator) SchoolSaved(principal string) {
	c.Invalidate(SchoolKey(principal), ActiveListKey(), ActiveCountKey())
}
