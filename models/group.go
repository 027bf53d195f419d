package models

// Group is a partition of a stage with format = group. A participant belongs
// to at most one group per stage.
type Group struct {
	ID             int    `json:"id" db:"id"`
	StageID        int    `json:"stage_id" db:"stage_id"`
	Name           string `json:"name" db:"name"`
	ParticipantIDs []int  `json:"participant_ids" db:"-"`
}
