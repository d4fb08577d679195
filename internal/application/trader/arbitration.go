package trader

import (
	"sort"
	"time"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// pendingGoal is a score transition held back while the fastest source has
// a chance to confirm it.
type pendingGoal struct {
	key      string
	event    domain.EventUpdate
	source   string
	queuedAt time.Time
	stop     func() bool
}

// timerFunc schedules f after d and returns a function that cancels it.
type timerFunc func(d time.Duration, f func()) (stop func() bool)

func realTimer(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

const trackerLimit = 2000

// sourceTracker counts, per source, how often it was the first to report a
// score transition.
type sourceTracker struct {
	firsts map[string]int
	seen   map[string]struct{}
	order  []string
}

func newSourceTracker() *sourceTracker {
	return &sourceTracker{
		firsts: make(map[string]int),
		seen:   make(map[string]struct{}),
	}
}

// observe records a report of transition key by source.
func (t *sourceTracker) observe(key, source string) {
	if _, ok := t.seen[key]; ok {
		return
	}
	t.seen[key] = struct{}{}
	t.order = append(t.order, key)
	t.firsts[source]++
	if len(t.order) > trackerLimit {
		delete(t.seen, t.order[0])
		t.order = t.order[1:]
	}
}

// fastest returns the source with the most first reports, requiring at least
// minSamples of them. Ties resolve alphabetically.
func (t *sourceTracker) fastest(minSamples int) string {
	best, bestN := "", 0
	for src, n := range t.firsts {
		if n < minSamples {
			continue
		}
		if n > bestN || (n == bestN && src < best) {
			best, bestN = src, n
		}
	}
	return best
}

// stats returns a copy of the per-source first-report counts.
func (t *sourceTracker) stats() []SourceStat {
	out := make([]SourceStat, 0, len(t.firsts))
	for src, n := range t.firsts {
		out = append(out, SourceStat{Source: src, FirstReports: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstReports != out[j].FirstReports {
			return out[i].FirstReports > out[j].FirstReports
		}
		return out[i].Source < out[j].Source
	})
	return out
}
