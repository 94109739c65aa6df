// Package perf keeps a bounded window of request timings for the admin page.
package perf

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSize is the default number of requests kept.
const DefaultRingSize = 2048

// Entry is one timed request.
type Entry struct {
	Route      string // "METHOD /path"
	StatusCode int
	Duration   time.Duration
	At         time.Time
}

// Collector is a fixed-size ring of entries; the oldest entry is overwritten when full.
type Collector struct {
	mu      sync.Mutex
	ring    []Entry
	next    int
	total   atomic.Int64
	denied  atomic.Int64
	slowest atomic.Int64 // nanoseconds
}

// NewCollector creates a collector keeping size entries.
// PRE: none
// POST: size <= 0 falls back to DefaultRingSize
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Collector{ring: make([]Entry, size)}
}

// Record stores e.
func (c *Collector) Record(e Entry) {
	c.mu.Lock()
	c.ring[c.next] = e
	c.next = (c.next + 1) % len(c.ring)
	c.mu.Unlock()

	c.total.Add(1)
	if e.StatusCode == 401 || e.StatusCode == 403 || e.StatusCode == 429 {
		c.denied.Add(1)
	}
	for {
		cur := c.slowest.Load()
		if int64(e.Duration) <= cur || c.slowest.CompareAndSwap(cur, int64(e.Duration)) {
			break
		}
	}
}

// Total returns how many entries were ever recorded.
func (c *Collector) Total() int64 {
	return c.total.Load()
}

// RouteStat aggregates one route.
type RouteStat struct {
	Route string
	Count int
	Avg   time.Duration
	Max   time.Duration
}

// Snapshot summarizes recorded requests.
type Snapshot struct {
	Total   int64
	Denied  int64
	Slowest time.Duration
	Window  int
	P50     time.Duration
	P95     time.Duration
	Routes  []RouteStat
}

// Snapshot aggregates entries recorded at or after since, listing the topN slowest routes by average.
func (c *Collector) Snapshot(since time.Time, topN int) Snapshot {
	c.mu.Lock()
	buf := slices.Clone(c.ring)
	c.mu.Unlock()

	var durations []time.Duration
	byRoute := map[string]*RouteStat{}
	sums := map[string]time.Duration{}
	for _, e := range buf {
		if e.At.IsZero() || e.At.Before(since) {
			continue
		}
		durations = append(durations, e.Duration)
		s, ok := byRoute[e.Route]
		if !ok {
			s = &RouteStat{Route: e.Route}
			byRoute[e.Route] = s
		}
		s.Count++
		sums[e.Route] += e.Duration
		s.Max = max(s.Max, e.Duration)
	}

	routes := make([]RouteStat, 0, len(byRoute))
	for route, s := range byRoute {
		s.Avg = sums[route] / time.Duration(s.Count)
		routes = append(routes, *s)
	}
	slices.SortFunc(routes, func(a, b RouteStat) int {
		if n := cmp.Compare(b.Avg, a.Avg); n != 0 {
			return n
		}
		return cmp.Compare(a.Route, b.Route)
	})
	if topN > 0 && len(routes) > topN {
		routes = routes[:topN]
	}

	slices.Sort(durations)
	return Snapshot{
		Total:   c.total.Load(),
		Denied:  c.denied.Load(),
		Slowest: time.Duration(c.slowest.Load()),
		Window:  len(durations),
		P50:     percentile(durations, 50),
		P95:     percentile(durations, 95),
		Routes:  routes,
	}
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
