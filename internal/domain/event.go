package domain

import (
	"fmt"
	"time"
)

// ScoreKey is the reserved changed-field key that marks a score change.
const ScoreKey = "score"

// Market keys of a fixture's match-result markets.
const (
	MarketHome = "home"
	MarketAway = "away"
	MarketDraw = "draw"
)

// Score is the current score of a fixture.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Total returns the aggregate number of points scored.
func (s Score) Total() int {
	return s.Home + s.Away
}

// Lead returns +1 when home leads, -1 when away leads and 0 when tied.
func (s Score) Lead() int {
	switch {
	case s.Home > s.Away:
		return 1
	case s.Away > s.Home:
		return -1
	default:
		return 0
	}
}

// Delta returns the aggregate absolute change from prev to s.
func (s Score) Delta(prev Score) int {
	return abs(s.Home-prev.Home) + abs(s.Away-prev.Away)
}

func (s Score) String() string {
	return fmt.Sprintf("%d-%d", s.Home, s.Away)
}

// MarketAssets holds the exchange asset ids of one binary market.
type MarketAssets struct {
	Yes         string `json:"yes"`
	No          string `json:"no"`
	ConditionID string `json:"condition_id,omitempty"`
}

// AssetFor returns the asset id for the given side.
func (m MarketAssets) AssetFor(side Side) string {
	if side == SideNo {
		return m.No
	}
	return m.Yes
}

// TeamNames are the names a single source uses for a fixture's teams.
type TeamNames struct {
	Home string `json:"home"`
	Away string `json:"away"`
}

// EventUpdate is the canonical view of one fixture merged across sources.
type EventUpdate struct {
	EventID  string
	Sport    string
	HomeTeam string
	AwayTeam string
	Aliases  map[string]TeamNames // source → names

	Score    Score
	HasScore bool
	// PreviousScore is nil until a second score observation exists.
	PreviousScore *Score

	Quotes map[string]map[string]float64 // source → market key → affirmative probability
	Assets map[string]MarketAssets       // market key → asset ids

	UpdatedAt time.Time
}

// Quote returns the affirmative probability quoted by source for a market key.
func (e EventUpdate) Quote(source, key string) (float64, bool) {
	q, ok := e.Quotes[source][key]
	if !ok || q <= 0 {
		return 0, false
	}
	return q, true
}

// Label returns a short human readable fixture name.
func (e EventUpdate) Label() string {
	if e.HomeTeam == "" && e.AwayTeam == "" {
		return e.EventID
	}
	return e.HomeTeam + " vs " + e.AwayTeam
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e EventUpdate) Clone() EventUpdate {
	out := e
	if e.PreviousScore != nil {
		prev := *e.PreviousScore
		out.PreviousScore = &prev
	}
	out.Aliases = make(map[string]TeamNames, len(e.Aliases))
	for k, v := range e.Aliases {
		out.Aliases[k] = v
	}
	out.Quotes = make(map[string]map[string]float64, len(e.Quotes))
	for src, m := range e.Quotes {
		cp := make(map[string]float64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out.Quotes[src] = cp
	}
	out.Assets = make(map[string]MarketAssets, len(e.Assets))
	for k, v := range e.Assets {
		out.Assets[k] = v
	}
	return out
}

// SourceUpdate is one normalized report from a single feed adapter.
// Nil/empty fields mean "no information", not "cleared".
type SourceUpdate struct {
	EventID    string                  `json:"event_id"`
	Source     string                  `json:"source"`
	Sport      string                  `json:"sport,omitempty"`
	HomeTeam   string                  `json:"home_team,omitempty"`
	AwayTeam   string                  `json:"away_team,omitempty"`
	Score      *Score                  `json:"score,omitempty"`
	Quotes     map[string]float64      `json:"quotes,omitempty"`
	Assets     map[string]MarketAssets `json:"assets,omitempty"`
	ReceivedAt time.Time               `json:"received_at,omitempty"`
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
