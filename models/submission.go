package models

import "time"

type SubmissionState string

const (
	SubmissionPending   SubmissionState = "pending"
	SubmissionConfirmed SubmissionState = "confirmed"
	SubmissionDisputed  SubmissionState = "disputed"
	SubmissionApproved  SubmissionState = "approved"
	SubmissionRejected  SubmissionState = "rejected"
)

// ResultSubmission is one side's claim about a match outcome. A match may
// accumulate several submissions (conflicting claims, voided attempts); at
// most one ever reaches approved.
type ResultSubmission struct {
	ID              int             `json:"id" db:"id"`
	MatchID         int             `json:"match_id" db:"match_id"`
	SubmitterID     int             `json:"submitter_id" db:"submitter_id"`
	ClaimedWinnerID int             `json:"claimed_winner_id" db:"claimed_winner_id"`
	Payload         ResultPayload   `json:"payload" db:"-"`
	ProofKey        *string         `json:"-" db:"proof_key"`
	ProofURL        *string         `json:"proof_url,omitempty" db:"-"`
	State           SubmissionState `json:"state" db:"state"`
	AutoConfirmAt   *time.Time      `json:"auto_confirm_at,omitempty" db:"auto_confirm_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}
