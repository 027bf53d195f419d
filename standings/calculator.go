// Package standings computes ranked tables from completed matches. Rows are
// derived data: recomputing from the same match set always yields the same
// ordering, and nothing here is a source of truth.
package standings

import (
	"sort"

	"github.com/Dosada05/format-engine/models"
)

type Config struct {
	PointsPerWin  int
	PointsPerDraw int
	PointsPerLoss int
	TieBreaks     []models.TieBreak
}

func DefaultConfig() Config {
	return Config{PointsPerWin: 3, PointsPerDraw: 1, TieBreaks: models.DefaultTieBreaks()}
}

func ConfigFromSettings(s models.StageSettings) Config {
	cfg := Config{
		PointsPerWin:  s.PointsPerWin,
		PointsPerDraw: s.PointsPerDraw,
		PointsPerLoss: s.PointsPerLoss,
		TieBreaks:     s.TieBreaks,
	}
	if cfg.PointsPerWin == 0 {
		cfg.PointsPerWin = 3
	}
	if len(cfg.TieBreaks) == 0 {
		cfg.TieBreaks = models.DefaultTieBreaks()
	}
	return cfg
}

// Compute builds the ranked table for the given participants from completed
// matches. Voided matches are ignored. A bye counts as a win for the record
// and awards win points, but contributes no scores.
func Compute(participantIDs []int, matches []*models.Match, cfg Config) []models.StandingRow {
	rows := make(map[int]*models.StandingRow, len(participantIDs))
	for _, id := range participantIDs {
		rows[id] = &models.StandingRow{ParticipantID: id}
	}
	row := func(id *int) *models.StandingRow {
		if id == nil {
			return nil
		}
		return rows[*id]
	}

	completed := completedMatches(matches)
	for _, m := range completed {
		if m.IsBye {
			if r := row(m.ByeParticipantID); r != nil {
				r.Byes++
				r.Wins++
				r.Points += cfg.PointsPerWin
			}
			continue
		}
		r1, r2 := row(m.Slot1ID), row(m.Slot2ID)
		if r1 == nil || r2 == nil || m.Result == nil {
			continue
		}
		res := *m.Result

		r1.Played++
		r2.Played++
		r1.ScoreFor += res.Score1
		r1.ScoreAgainst += res.Score2
		r2.ScoreFor += res.Score2
		r2.ScoreAgainst += res.Score1

		switch {
		case m.WinnerID == nil:
			r1.Draws++
			r2.Draws++
			r1.Points += cfg.PointsPerDraw
			r2.Points += cfg.PointsPerDraw
		case *m.WinnerID == *m.Slot1ID:
			r1.Wins++
			r2.Losses++
			r1.Points += cfg.PointsPerWin
			r2.Points += cfg.PointsPerLoss
		default:
			r2.Wins++
			r1.Losses++
			r2.Points += cfg.PointsPerWin
			r1.Points += cfg.PointsPerLoss
		}
	}

	ordered := make([]*models.StandingRow, 0, len(rows))
	for _, id := range participantIDs {
		r := rows[id]
		r.ScoreDiff = r.ScoreFor - r.ScoreAgainst
		ordered = append(ordered, r)
	}

	criteria := cfg.TieBreaks
	rankGroup(ordered, criteria, completed)

	out := make([]models.StandingRow, len(ordered))
	for i, r := range ordered {
		r.Rank = i + 1
		out[i] = *r
	}
	return out
}

func completedMatches(matches []*models.Match) []*models.Match {
	out := make([]*models.Match, 0, len(matches))
	for _, m := range matches {
		if m.State == models.MatchStateCompleted {
			out = append(out, m)
		}
	}
	return out
}

// rankGroup orders rows in place by applying each criterion only among rows
// still tied after the previous ones. Head-to-head is defined only between
// exactly two tied participants; larger ties skip it. When every criterion
// is exhausted the tie falls back to the lowest participant id, so the
// ordering is always total.
func rankGroup(rows []*models.StandingRow, criteria []models.TieBreak, matches []*models.Match) {
	if len(rows) <= 1 {
		return
	}
	if len(criteria) == 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].ParticipantID < rows[j].ParticipantID
		})
		return
	}

	crit := criteria[0]
	rest := criteria[1:]

	if crit == models.TieBreakHeadToHead {
		if len(rows) == 2 {
			if v := headToHead(rows[0].ParticipantID, rows[1].ParticipantID, matches); v != 0 {
				if v < 0 {
					rows[0], rows[1] = rows[1], rows[0]
				}
				rows[0].TieBreakTrail = append(rows[0].TieBreakTrail, 1)
				rows[1].TieBreakTrail = append(rows[1].TieBreakTrail, 0)
				return
			}
		}
		rankGroup(rows, rest, matches)
		return
	}

	value := criterionValue(crit)
	sort.SliceStable(rows, func(i, j int) bool {
		return value(rows[i]) > value(rows[j])
	})
	for i := 0; i < len(rows); {
		j := i
		for j < len(rows) && value(rows[j]) == value(rows[i]) {
			rows[j].TieBreakTrail = append(rows[j].TieBreakTrail, value(rows[j]))
			j++
		}
		if j-i > 1 {
			rankGroup(rows[i:j], rest, matches)
		}
		i = j
	}
}

func criterionValue(crit models.TieBreak) func(*models.StandingRow) int {
	switch crit {
	case models.TieBreakPoints:
		return func(r *models.StandingRow) int { return r.Points }
	case models.TieBreakScoreDiff:
		return func(r *models.StandingRow) int { return r.ScoreDiff }
	case models.TieBreakScoreFor:
		return func(r *models.StandingRow) int { return r.ScoreFor }
	case models.TieBreakWins:
		return func(r *models.StandingRow) int { return r.Wins }
	default:
		return func(*models.StandingRow) int { return 0 }
	}
}

// headToHead compares two participants over their mutual completed matches.
// Positive means a ranks above b, negative the reverse, zero undecided.
func headToHead(a, b int, matches []*models.Match) int {
	aWins, bWins := 0, 0
	for _, m := range matches {
		if m.IsBye || m.WinnerID == nil || !m.HasParticipant(a) || !m.HasParticipant(b) {
			continue
		}
		switch *m.WinnerID {
		case a:
			aWins++
		case b:
			bWins++
		}
	}
	return aWins - bWins
}
