package models

import "time"

type DisputeResolution string

const (
	ResolutionApproveOriginal DisputeResolution = "approve_original"
	ResolutionApproveDispute  DisputeResolution = "approve_dispute"
	ResolutionOrderRematch    DisputeResolution = "order_rematch"
	ResolutionRequestMoreInfo DisputeResolution = "request_more_info"
)

// MinDisputeExplanation is the shortest accepted dispute explanation.
const MinDisputeExplanation = 20

// Dispute challenges a single ResultSubmission. It stays open until an
// organizer resolves it; request_more_info leaves it open with a note.
type Dispute struct {
	ID              int                `json:"id" db:"id"`
	SubmissionID    int                `json:"submission_id" db:"submission_id"`
	MatchID         int                `json:"match_id" db:"match_id"`
	DisputerID      int                `json:"disputer_id" db:"disputer_id"`
	Reason          string             `json:"reason" db:"reason"`
	Explanation     string             `json:"explanation" db:"explanation"`
	CounterWinnerID *int               `json:"counter_winner_id,omitempty" db:"counter_winner_id"`
	CounterPayload  *ResultPayload     `json:"counter_payload,omitempty" db:"-"`
	CounterProofKey *string            `json:"-" db:"counter_proof_key"`
	Resolution      *DisputeResolution `json:"resolution,omitempty" db:"resolution"`
	ResolutionNote  *string            `json:"resolution_note,omitempty" db:"resolution_note"`
	ResolvedBy      *int               `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}
