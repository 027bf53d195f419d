package models

// StandingRow is a derived ranking entry. It is recomputed from completed
// matches on demand and never treated as a source of truth.
type StandingRow struct {
	ParticipantID int   `json:"participant_id"`
	Rank          int   `json:"rank"`
	Played        int   `json:"played"`
	Wins          int   `json:"wins"`
	Draws         int   `json:"draws"`
	Losses        int   `json:"losses"`
	Byes          int   `json:"byes"`
	Points        int   `json:"points"`
	ScoreFor      int   `json:"score_for"`
	ScoreAgainst  int   `json:"score_against"`
	ScoreDiff     int   `json:"score_diff"`
	TieBreakTrail []int `json:"tie_break_trail,omitempty"`
}
