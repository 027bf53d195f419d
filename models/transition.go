package models

import "time"

// MatchTransition is an audit log entry for one state machine step.
// ActorID is nil for system-driven transitions (auto-confirm, walkovers).
type MatchTransition struct {
	ID        int        `json:"id" db:"id"`
	MatchID   int        `json:"match_id" db:"match_id"`
	ActorID   *int       `json:"actor_id,omitempty" db:"actor_id"`
	FromState MatchState `json:"from_state" db:"from_state"`
	ToState   MatchState `json:"to_state" db:"to_state"`
	Reason    string     `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
