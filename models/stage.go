package models

import "time"

// StageFormat enumerates the supported pairing formats, mirroring the ENUM in the DB.
type StageFormat string

const (
	FormatSingleElimination StageFormat = "single_elimination"
	FormatDoubleElimination StageFormat = "double_elimination"
	FormatRoundRobin        StageFormat = "round_robin"
	FormatSwiss             StageFormat = "swiss"
	FormatGroup             StageFormat = "group"
)

type StageState string

const (
	StageStatePending   StageState = "pending"
	StageStateActive    StageState = "active"
	StageStateCompleted StageState = "completed"
)

type AdvanceRuleKind string

const (
	AdvanceTopN         AdvanceRuleKind = "top_n"
	AdvanceTopNPerGroup AdvanceRuleKind = "top_n_per_group"
)

// AdvanceRule determines which participants move on once a stage completes.
type AdvanceRule struct {
	Kind AdvanceRuleKind `json:"kind"`
	N    int             `json:"n"`
}

type TieBreak string

const (
	TieBreakPoints     TieBreak = "points"
	TieBreakHeadToHead TieBreak = "head_to_head"
	TieBreakScoreDiff  TieBreak = "score_diff"
	TieBreakScoreFor   TieBreak = "score_for"
	TieBreakWins       TieBreak = "wins"
)

type GroupDistribution string

const (
	DistributionRandom GroupDistribution = "random"
	DistributionSnake  GroupDistribution = "snake"
)

// StageSettings holds format-specific parameters. Stored as a JSON column,
// same approach as format settings_json.
type StageSettings struct {
	GroupCount        int               `json:"group_count,omitempty"`
	GroupDistribution GroupDistribution `json:"group_distribution,omitempty"`
	ShuffleSeed       int64             `json:"shuffle_seed,omitempty"`

	SwissRounds int `json:"swiss_rounds,omitempty"`

	PointsPerWin  int        `json:"points_per_win"`
	PointsPerDraw int        `json:"points_per_draw"`
	PointsPerLoss int        `json:"points_per_loss"`
	TieBreaks     []TieBreak `json:"tie_breaks,omitempty"`

	// MaxScore bounds a single reported score value; zero means unbounded.
	MaxScore int `json:"max_score,omitempty"`

	// AllowDraws permits drawn results. Always false for elimination formats.
	AllowDraws bool `json:"allow_draws,omitempty"`

	// RequireOrganizerReview forces every confirmed result through organizer
	// review before it finalizes. Off by default.
	RequireOrganizerReview bool `json:"require_organizer_review,omitempty"`

	// AutoConfirmMinutes is how long the opposing side has to react before a
	// pending submission confirms itself. Zero falls back to 24h.
	AutoConfirmMinutes int `json:"auto_confirm_minutes,omitempty"`
}

const DefaultAutoConfirmWindow = 24 * time.Hour

func (s StageSettings) AutoConfirmWindow() time.Duration {
	if s.AutoConfirmMinutes > 0 {
		return time.Duration(s.AutoConfirmMinutes) * time.Minute
	}
	return DefaultAutoConfirmWindow
}

// DefaultTieBreaks is applied when a stage does not configure its own order.
func DefaultTieBreaks() []TieBreak {
	return []TieBreak{TieBreakPoints, TieBreakHeadToHead, TieBreakScoreDiff, TieBreakScoreFor}
}

// Stage is one phase of a tournament (e.g. group stage, playoffs).
// Matches of a completed stage are immutable; advancement out of a stage is
// computed exactly once.
type Stage struct {
	ID               int           `json:"id" db:"id"`
	TournamentID     int           `json:"tournament_id" db:"tournament_id"`
	Name             string        `json:"name" db:"name"`
	Order            int           `json:"order" db:"stage_order"`
	Format           StageFormat   `json:"format" db:"format"`
	State            StageState    `json:"state" db:"state"`
	AdvanceRule      AdvanceRule   `json:"advance_rule" db:"-"`
	DependsOnStageID *int          `json:"depends_on_stage_id,omitempty" db:"depends_on_stage_id"`
	Settings         StageSettings `json:"settings" db:"-"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty" db:"completed_at"`

	// Optional linked data, populated by services.
	Groups  []Group  `json:"groups,omitempty" db:"-"`
	Matches []*Match `json:"matches,omitempty" db:"-"`
}

// MinParticipants returns the smallest field a format can run with.
func (f StageFormat) MinParticipants() int {
	switch f {
	case FormatDoubleElimination:
		return 3
	default:
		return 2
	}
}

func (f StageFormat) Valid() bool {
	switch f {
	case FormatSingleElimination, FormatDoubleElimination, FormatRoundRobin, FormatSwiss, FormatGroup:
		return true
	}
	return false
}
