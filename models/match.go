package models

import "time"

type MatchState string

const (
	MatchStateAwaitingSubmission  MatchState = "awaiting_submission"
	MatchStatePendingConfirmation MatchState = "pending_confirmation"
	MatchStateDisputed            MatchState = "disputed"
	MatchStateUnderReview         MatchState = "under_review"
	MatchStateCompleted           MatchState = "completed"
	MatchStateVoided              MatchState = "voided"
)

// BracketSide places a match within a double elimination bracket.
// Empty for formats without a losers bracket.
type BracketSide string

const (
	SideWinners         BracketSide = "winners"
	SideLosers          BracketSide = "losers"
	SideGrandFinal      BracketSide = "grand_final"
	SideGrandFinalReset BracketSide = "grand_final_reset"
)

type GameScore struct {
	Score1 int `json:"score1"`
	Score2 int `json:"score2"`
}

// ResultPayload is the reported outcome of a match. Score1/Score2 follow the
// match's slot order, not the submitter's perspective.
type ResultPayload struct {
	Score1 int         `json:"score1"`
	Score2 int         `json:"score2"`
	Games  []GameScore `json:"games,omitempty"`
}

// Match is a single pairing inside a stage.
//
// Slot semantics: a slot with a participant is filled; a slot with a source
// match is pending (the winner or loser of that match will arrive); a slot
// with neither is closed — nobody will ever fill it, so the match resolves
// as a walkover the moment the other slot is populated.
type Match struct {
	ID           int    `json:"id" db:"id"`
	StageID      int    `json:"stage_id" db:"stage_id"`
	GroupID      *int   `json:"group_id,omitempty" db:"group_id"`
	Round        int    `json:"round" db:"round"`
	OrderInRound int    `json:"order_in_round" db:"order_in_round"`
	BracketUID   string `json:"bracket_uid" db:"bracket_uid"`

	Side BracketSide `json:"side,omitempty" db:"side"`

	Slot1ID *int `json:"slot1_id,omitempty" db:"slot1_id"`
	Slot2ID *int `json:"slot2_id,omitempty" db:"slot2_id"`

	SourceMatch1ID *int `json:"source_match1_id,omitempty" db:"source_match1_id"`
	SourceMatch2ID *int `json:"source_match2_id,omitempty" db:"source_match2_id"`
	// Source*TakesLoser marks losers-bracket feeds in double elimination.
	Source1TakesLoser bool `json:"source1_takes_loser,omitempty" db:"source1_takes_loser"`
	Source2TakesLoser bool `json:"source2_takes_loser,omitempty" db:"source2_takes_loser"`

	NextMatchID        *int `json:"next_match_id,omitempty" db:"next_match_id"`
	NextMatchSlot      *int `json:"next_match_slot,omitempty" db:"next_match_slot"`
	LoserNextMatchID   *int `json:"loser_next_match_id,omitempty" db:"loser_next_match_id"`
	LoserNextMatchSlot *int `json:"loser_next_match_slot,omitempty" db:"loser_next_match_slot"`

	IsBye            bool `json:"is_bye,omitempty" db:"is_bye"`
	ByeParticipantID *int `json:"bye_participant_id,omitempty" db:"bye_participant_id"`

	State    MatchState     `json:"state" db:"state"`
	WinnerID *int           `json:"winner_id,omitempty" db:"winner_id"`
	Result   *ResultPayload `json:"result,omitempty" db:"-"`

	// FinalizeSeq distinguishes finalize generations for idempotency keys.
	FinalizeSeq int `json:"-" db:"finalize_seq"`

	// RematchOfID links a replay to the match it replaces.
	RematchOfID *int `json:"rematch_of_id,omitempty" db:"rematch_of_id"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// HasParticipant reports whether the given participant occupies a slot.
func (m *Match) HasParticipant(participantID int) bool {
	return (m.Slot1ID != nil && *m.Slot1ID == participantID) ||
		(m.Slot2ID != nil && *m.Slot2ID == participantID)
}

// Opponent returns the participant on the other side, if known.
func (m *Match) Opponent(participantID int) *int {
	switch {
	case m.Slot1ID != nil && *m.Slot1ID == participantID:
		return m.Slot2ID
	case m.Slot2ID != nil && *m.Slot2ID == participantID:
		return m.Slot1ID
	}
	return nil
}

// LoserID derives the loser from the winner and the two slots.
func (m *Match) LoserID() *int {
	if m.WinnerID == nil {
		return nil
	}
	return m.Opponent(*m.WinnerID)
}

// Open reports whether the match still counts toward stage completion.
func (m *Match) Open() bool {
	return !m.IsBye && m.State != MatchStateCompleted && m.State != MatchStateVoided
}
