// Package dispatch merges per-source feed reports into one canonical view per
// fixture and hands every change to the registered handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// ErrInvalidUpdate is returned for updates missing an event or source id.
var ErrInvalidUpdate = errors.New("invalid update")

// Handler receives the canonical event, the keys that changed and the
// source that changed them.
type Handler func(ctx context.Context, ev domain.EventUpdate, changed []string, source string)

// AssetRef locates an exchange asset inside a fixture.
type AssetRef struct {
	EventID   string
	MarketKey string
	Side      domain.Side
}

// defaultConfirmWindow is how recent a canonical score change must be for a
// source's first report of that score to count as a confirmation.
const defaultConfirmWindow = 2 * time.Second

type eventState struct {
	ev        domain.EventUpdate
	scores    map[string]domain.Score // last score per source
	setter    string                  // source that set the canonical score
	changedAt time.Time
}

// Router is safe for concurrent use.
type Router struct {
	mu       sync.Mutex
	events   map[string]*eventState
	assets   map[string]AssetRef
	handlers []Handler
	onAssets func(assetIDs []string)
	now      func() time.Time
	confirm  time.Duration
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		events:  make(map[string]*eventState),
		assets:  make(map[string]AssetRef),
		now:     time.Now,
		confirm: defaultConfirmWindow,
	}
}

// SetConfirmWindow sets how long after a canonical score change a source's
// first report of the same score is still passed on as a confirmation.
func (r *Router) SetConfirmWindow(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirm = d
}

// Subscribe registers h. Handlers run synchronously in registration order.
func (r *Router) Subscribe(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// OnNewAssets registers a callback for asset ids seen for the first time.
func (r *Router) OnNewAssets(f func(assetIDs []string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAssets = f
}

// Apply merges u into the canonical event and notifies the handlers when
// anything changed. It returns the changed keys.
func (r *Router) Apply(ctx context.Context, u domain.SourceUpdate) ([]string, error) {
	if u.EventID == "" || u.Source == "" {
		return nil, fmt.Errorf("dispatch.Apply: %w: event_id and source are required", ErrInvalidUpdate)
	}

	r.mu.Lock()
	st, ok := r.events[u.EventID]
	if !ok {
		st = &eventState{
			ev: domain.EventUpdate{
				EventID: u.EventID,
				Aliases: make(map[string]domain.TeamNames),
				Quotes:  make(map[string]map[string]float64),
				Assets:  make(map[string]domain.MarketAssets),
			},
			scores: make(map[string]domain.Score),
		}
		r.events[u.EventID] = st
	}
	ev := &st.ev

	if ev.Sport == "" && u.Sport != "" {
		ev.Sport = u.Sport
	}
	if u.HomeTeam != "" || u.AwayTeam != "" {
		ev.Aliases[u.Source] = domain.TeamNames{Home: u.HomeTeam, Away: u.AwayTeam}
		if ev.HomeTeam == "" {
			ev.HomeTeam = u.HomeTeam
		}
		if ev.AwayTeam == "" {
			ev.AwayTeam = u.AwayTeam
		}
	}

	var newAssets []string
	for key, a := range u.Assets {
		if ev.Assets[key] == a {
			continue
		}
		ev.Assets[key] = a
		for side, id := range map[domain.Side]string{domain.SideYes: a.Yes, domain.SideNo: a.No} {
			if id == "" {
				continue
			}
			if _, known := r.assets[id]; !known {
				newAssets = append(newAssets, id)
			}
			r.assets[id] = AssetRef{EventID: u.EventID, MarketKey: key, Side: side}
		}
	}

	at := u.ReceivedAt
	if at.IsZero() {
		at = r.now()
	}

	var changed []string
	if u.Score != nil && r.applyScore(st, u.Source, *u.Score, at) {
		changed = append(changed, domain.ScoreKey)
	}

	quoteKeys := make([]string, 0, len(u.Quotes))
	for key := range u.Quotes {
		quoteKeys = append(quoteKeys, key)
	}
	sort.Strings(quoteKeys)
	for _, key := range quoteKeys {
		q := u.Quotes[key]
		if key == domain.ScoreKey || q <= 0 || q > 1 {
			continue
		}
		m := ev.Quotes[u.Source]
		if m == nil {
			m = make(map[string]float64)
			ev.Quotes[u.Source] = m
		}
		if old, ok := m[key]; ok && old == q {
			continue
		}
		m[key] = q
		changed = append(changed, key)
	}

	ev.UpdatedAt = at

	snapshot := ev.Clone()
	handlers := append([]Handler(nil), r.handlers...)
	onAssets := r.onAssets
	r.mu.Unlock()

	if len(newAssets) > 0 && onAssets != nil {
		sort.Strings(newAssets)
		onAssets(newAssets)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	for _, h := range handlers {
		h(ctx, snapshot, changed, u.Source)
	}
	return changed, nil
}

// applyScore merges a source's score into the canonical one and reports
// whether the handlers should see it as a score change. The canonical score
// only moves forward (a higher total) or on a correction from the source
// that set it; a lagging source can never move it back. Caller holds r.mu.
func (r *Router) applyScore(st *eventState, source string, s domain.Score, at time.Time) bool {
	ev := &st.ev
	last, reported := st.scores[source]
	st.scores[source] = s
	if reported && last == s {
		return false
	}

	switch {
	case !ev.HasScore:
		ev.Score, ev.HasScore = s, true
		st.setter, st.changedAt = source, at
		return true
	case ev.Score == s:
		// confirmation of the canonical score
		if reported {
			return true
		}
		return ev.PreviousScore != nil && at.Sub(st.changedAt) <= r.confirm
	case s.Total() > ev.Score.Total() || source == st.setter:
		prev := ev.Score
		ev.PreviousScore = &prev
		ev.Score = s
		st.setter, st.changedAt = source, at
		return true
	default:
		return false
	}
}

// ApplyAssetPrice records an exchange price for one asset, converting a
// NO-token price into the market's affirmative probability.
func (r *Router) ApplyAssetPrice(ctx context.Context, source, assetID string, price float64, at time.Time) ([]string, error) {
	ref, ok := r.LookupAsset(assetID)
	if !ok {
		return nil, nil
	}
	q := price
	if ref.Side == domain.SideNo {
		q = 1 - price
	}
	return r.Apply(ctx, domain.SourceUpdate{
		EventID:    ref.EventID,
		Source:     source,
		Quotes:     map[string]float64{ref.MarketKey: q},
		ReceivedAt: at,
	})
}

// LookupAsset maps an asset id back to its fixture.
func (r *Router) LookupAsset(assetID string) (AssetRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.assets[assetID]
	return ref, ok
}

// AssetIDs returns every known asset id, sorted.
func (r *Router) AssetIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.assets))
	for id := range r.assets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Event returns a copy of one canonical event.
func (r *Router) Event(eventID string) (domain.EventUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.events[eventID]
	if !ok {
		return domain.EventUpdate{}, false
	}
	return st.ev.Clone(), true
}

// Events returns copies of all canonical events, ordered by id.
func (r *Router) Events() []domain.EventUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventUpdate, 0, len(r.events))
	for _, st := range r.events {
		out = append(out, st.ev.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}
