package models

import (
	"fmt"
	"time"
)

// MatchCompletedEvent is published exactly once per finalized match.
// IdempotencyKey lets at-least-once consumers drop redeliveries.
type MatchCompletedEvent struct {
	IdempotencyKey string        `json:"idempotency_key"`
	TournamentID   int           `json:"tournament_id"`
	StageID        int           `json:"stage_id"`
	MatchID        int           `json:"match_id"`
	WinnerID       int           `json:"winner_id"`
	LoserID        *int          `json:"loser_id,omitempty"`
	Result         ResultPayload `json:"result"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// StageCompletedEvent is published once when a stage closes out.
type StageCompletedEvent struct {
	IdempotencyKey string        `json:"idempotency_key"`
	TournamentID   int           `json:"tournament_id"`
	StageID        int           `json:"stage_id"`
	Standings      []StandingRow `json:"standings"`
	AdvancerIDs    []int         `json:"advancer_ids"`
	NextStageID    *int          `json:"next_stage_id,omitempty"`
	CompletedAt    time.Time     `json:"completed_at"`
}

func MatchEventKey(matchID, finalizeSeq int) string {
	return fmt.Sprintf("match:%d:%d", matchID, finalizeSeq)
}

func StageEventKey(stageID int) string {
	return fmt.Sprintf("stage:%d", stageID)
}
