package domain

import "time"

// Decision is the outcome recorded at an entry decision point.
type Decision string

const (
	DecisionSkip      Decision = "skip"
	DecisionPending   Decision = "pending"
	DecisionCancelled Decision = "cancelled"
	DecisionBuy       Decision = "buy"
	DecisionFailed    Decision = "failed"
)

// GoalActivity is one audit entry. Observability only.
type GoalActivity struct {
	At       time.Time
	EventID  string
	Label    string
	Source   string
	Score    string
	Goal     GoalKind
	Decision Decision
	Reason   string
}
