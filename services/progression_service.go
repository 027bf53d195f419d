package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Dosada05/format-engine/brackets"
	"github.com/Dosada05/format-engine/models"
	"github.com/Dosada05/format-engine/repositories"
	"github.com/Dosada05/format-engine/roster"
	"github.com/Dosada05/format-engine/standings"
)

// StagePopulator materializes a stage's bracket for a given field. It is
// what lets a completed stage build its dependent without a dependency back
// onto the stage service.
type StagePopulator interface {
	PopulateStage(ctx context.Context, exec repositories.SQLExecutor, stage *models.Stage, participants []*models.Participant) error
}

// ProgressionOutcome reports what a finalize triggered beyond the match
// itself. StageEvent is non-nil exactly when this call completed the stage.
type ProgressionOutcome struct {
	StageCompleted bool
	NextStageID    *int
	StageEvent     *models.StageCompletedEvent
}

// ProgressionService advances winners (and losers, in double elimination)
// through the bracket, pairs subsequent Swiss rounds, and is the sole writer
// of stage state transitions.
type ProgressionService struct {
	stageRepo repositories.StageRepository
	matchRepo repositories.MatchRepository
	groupRepo repositories.GroupRepository
	roster    roster.Provider
	populator StagePopulator
	logger    *slog.Logger
}

func NewProgressionService(
	stageRepo repositories.StageRepository,
	matchRepo repositories.MatchRepository,
	groupRepo repositories.GroupRepository,
	rosterProvider roster.Provider,
	populator StagePopulator,
	logger *slog.Logger,
) *ProgressionService {
	return &ProgressionService{
		stageRepo: stageRepo,
		matchRepo: matchRepo,
		groupRepo: groupRepo,
		roster:    rosterProvider,
		populator: populator,
		logger:    logger,
	}
}

// OnMatchFinalized runs inside the finalize transaction, after the match row
// is committed to its terminal state in the same tx. It advances slots,
// voids the grand final reset when the winners-bracket champion defends,
// pairs the next Swiss round when the current one closes, and completes the
// stage when no open matches remain.
func (s *ProgressionService) OnMatchFinalized(ctx context.Context, exec repositories.SQLExecutor, stage *models.Stage, match *models.Match) (*ProgressionOutcome, error) {
	if err := s.advance(ctx, exec, match); err != nil {
		return nil, err
	}

	open, err := s.matchRepo.CountOpenByStage(ctx, exec, stage.ID)
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return &ProgressionOutcome{}, nil
	}

	if stage.Format == models.FormatSwiss {
		paired, err := s.pairNextSwissRound(ctx, exec, stage)
		if err != nil {
			return nil, err
		}
		if paired {
			return &ProgressionOutcome{}, nil
		}
	}

	return s.completeStage(ctx, exec, stage)
}

// advance propagates the finalized match's winner and loser into downstream
// slots, and voids the conditional grand final reset when it is not needed.
func (s *ProgressionService) advance(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	if match.State != models.MatchStateCompleted {
		// A voided match (rematch ordered) moves nobody.
		return nil
	}

	if match.Side == models.SideGrandFinal && match.WinnerID != nil &&
		match.Slot1ID != nil && *match.WinnerID == *match.Slot1ID {
		// The winners-bracket champion defended; the reset never happens.
		return s.voidReset(ctx, exec, match)
	}

	if match.NextMatchID != nil && match.WinnerID != nil {
		if err := s.fillSlot(ctx, exec, *match.NextMatchID, derefOr(match.NextMatchSlot, 1), *match.WinnerID); err != nil {
			return err
		}
	}
	if match.LoserNextMatchID != nil {
		if loser := match.LoserID(); loser != nil {
			if err := s.fillSlot(ctx, exec, *match.LoserNextMatchID, derefOr(match.LoserNextMatchSlot, 2), *loser); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ProgressionService) fillSlot(ctx context.Context, exec repositories.SQLExecutor, matchID, slot, participantID int) error {
	next, err := s.matchRepo.GetByID(ctx, exec, matchID)
	if err != nil {
		return mapMatchRepoError(err)
	}
	if !next.Open() {
		return fmt.Errorf("%w: advancing into closed match %d", ErrIntegrity, matchID)
	}
	if slot == 1 {
		next.Slot1ID = &participantID
	} else {
		next.Slot2ID = &participantID
	}
	return s.matchRepo.UpdateSlots(ctx, exec, next.ID, next.Slot1ID, next.Slot2ID)
}

func (s *ProgressionService) voidReset(ctx context.Context, exec repositories.SQLExecutor, grandFinal *models.Match) error {
	if grandFinal.NextMatchID == nil {
		return nil
	}
	err := s.matchRepo.UpdateState(ctx, exec, *grandFinal.NextMatchID,
		models.MatchStateAwaitingSubmission, models.MatchStateVoided)
	if err != nil && !errors.Is(err, repositories.ErrMatchStaleWrite) {
		return err
	}
	return nil
}

// pairNextSwissRound pairs one more round when the configured count is not
// yet reached. Returns false when the stage has played all its rounds.
func (s *ProgressionService) pairNextSwissRound(ctx context.Context, exec repositories.SQLExecutor, stage *models.Stage) (bool, error) {
	played, err := s.matchRepo.MaxRoundByStage(ctx, exec, stage.ID)
	if err != nil {
		return false, err
	}
	if stage.Settings.SwissRounds <= 0 || played >= stage.Settings.SwissRounds {
		return false, nil
	}

	matches, err := s.matchRepo.ListByStage(ctx, exec, stage.ID)
	if err != nil {
		return false, err
	}
	entries, history := swissStateFromMatches(matches, standings.ConfigFromSettings(stage.Settings))

	generated, err := brackets.PairSwissRound(brackets.SwissRoundParams{
		Round:   played + 1,
		Entries: entries,
		Played:  history,
	})
	if err != nil {
		return false, err
	}
	if err := persistGeneratedMatches(ctx, exec, s.matchRepo, stage.ID, nil, generated); err != nil {
		return false, err
	}

	s.logger.Info("swiss round paired",
		slog.Int("stage_id", stage.ID),
		slog.Int("round", played+1),
		slog.Int("matches", len(generated)))
	return true, nil
}

// swissStateFromMatches reconstructs per-participant records and the pairing
// history from a stage's matches.
func swissStateFromMatches(matches []*models.Match, cfg standings.Config) ([]brackets.SwissEntry, map[int]map[int]bool) {
	byID := make(map[int]*brackets.SwissEntry)
	entry := func(pid int) *brackets.SwissEntry {
		e, ok := byID[pid]
		if !ok {
			e = &brackets.SwissEntry{ParticipantID: pid}
			byID[pid] = e
		}
		return e
	}

	history := make(map[int]map[int]bool)
	for _, m := range matches {
		if m.Slot1ID != nil {
			entry(*m.Slot1ID)
		}
		if m.Slot2ID != nil {
			entry(*m.Slot2ID)
		}
		if m.State != models.MatchStateCompleted {
			continue
		}
		if m.IsBye {
			if m.ByeParticipantID != nil {
				e := entry(*m.ByeParticipantID)
				e.HadBye = true
				e.Wins++
				e.Score += cfg.PointsPerWin
			}
			continue
		}
		if m.Slot1ID == nil || m.Slot2ID == nil {
			continue
		}
		a, b := *m.Slot1ID, *m.Slot2ID
		if history[a] == nil {
			history[a] = make(map[int]bool)
		}
		history[a][b] = true

		ea, eb := entry(a), entry(b)
		switch {
		case m.WinnerID == nil:
			ea.Draws++
			eb.Draws++
			ea.Score += cfg.PointsPerDraw
			eb.Score += cfg.PointsPerDraw
		case *m.WinnerID == a:
			ea.Wins++
			eb.Losses++
			ea.Score += cfg.PointsPerWin
			eb.Score += cfg.PointsPerLoss
		default:
			eb.Wins++
			ea.Losses++
			eb.Score += cfg.PointsPerWin
			ea.Score += cfg.PointsPerLoss
		}
	}

	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	entries := make([]brackets.SwissEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, *byID[id])
	}
	return entries, history
}

// completeStage computes final standings, selects advancers, flips the stage
// to Completed exactly once, and materializes the dependent stage when one
// exists. The guarded state update is the single point deciding which
// concurrent finalize "wins" stage completion.
func (s *ProgressionService) completeStage(ctx context.Context, exec repositories.SQLExecutor, stage *models.Stage) (*ProgressionOutcome, error) {
	err := s.stageRepo.UpdateState(ctx, exec, stage.ID, models.StageStateActive, models.StageStateCompleted)
	if err != nil {
		if errors.Is(err, repositories.ErrStageNotFound) {
			// Another finalize got here first; the stage is not completed
			// twice, the loser simply contributes no stage event.
			return &ProgressionOutcome{}, nil
		}
		return nil, err
	}

	matches, err := s.matchRepo.ListByStage(ctx, exec, stage.ID)
	if err != nil {
		return nil, err
	}
	groups, err := s.groupRepo.ListByStage(ctx, exec, stage.ID)
	if err != nil {
		return nil, err
	}

	cfg := standings.ConfigFromSettings(stage.Settings)
	overall := standings.Compute(collectParticipants(matches, groups), matches, cfg)
	advancers := s.selectAdvancers(stage, matches, groups, overall, cfg)

	outcome := &ProgressionOutcome{StageCompleted: true}

	dependent, err := s.stageRepo.GetDependent(ctx, exec, stage.ID)
	if err != nil {
		return nil, err
	}
	if dependent != nil && dependent.State == models.StageStatePending && len(advancers) > 0 {
		if err := s.materializeDependent(ctx, exec, dependent, advancers); err != nil {
			return nil, err
		}
		outcome.NextStageID = &dependent.ID
	}

	outcome.StageEvent = &models.StageCompletedEvent{
		IdempotencyKey: models.StageEventKey(stage.ID),
		TournamentID:   stage.TournamentID,
		StageID:        stage.ID,
		Standings:      overall,
		AdvancerIDs:    advancers,
		NextStageID:    outcome.NextStageID,
		CompletedAt:    time.Now(),
	}

	s.logger.Info("stage completed",
		slog.Int("stage_id", stage.ID),
		slog.Int("advancers", len(advancers)))
	return outcome, nil
}

// selectAdvancers applies the stage's advancement rule. top_n takes the head
// of the overall table; top_n_per_group takes the head of each group table,
// interleaved rank by rank so cross-group seeding stays balanced.
func (s *ProgressionService) selectAdvancers(stage *models.Stage, matches []*models.Match, groups []*models.Group, overall []models.StandingRow, cfg standings.Config) []int {
	switch stage.AdvanceRule.Kind {
	case models.AdvanceTopN:
		n := stage.AdvanceRule.N
		if n > len(overall) {
			n = len(overall)
		}
		ids := make([]int, 0, n)
		for _, row := range overall[:n] {
			ids = append(ids, row.ParticipantID)
		}
		return ids

	case models.AdvanceTopNPerGroup:
		if len(groups) == 0 {
			return nil
		}
		n := stage.AdvanceRule.N
		perGroup := make([][]models.StandingRow, len(groups))
		for i, g := range groups {
			table := standings.Compute(g.ParticipantIDs, matchesOfGroup(matches, g.ID), cfg)
			if n < len(table) {
				table = table[:n]
			}
			perGroup[i] = table
		}
		var ids []int
		for rank := 0; rank < n; rank++ {
			for _, table := range perGroup {
				if rank < len(table) {
					ids = append(ids, table[rank].ParticipantID)
				}
			}
		}
		return ids
	}
	return nil
}

func matchesOfGroup(matches []*models.Match, groupID int) []*models.Match {
	out := make([]*models.Match, 0)
	for _, m := range matches {
		if m.GroupID != nil && *m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out
}

// collectParticipants derives the participant set of a stage from its groups
// when present, otherwise from match slots and byes, in ascending id order.
func collectParticipants(matches []*models.Match, groups []*models.Group) []int {
	seen := make(map[int]bool)
	if len(groups) > 0 {
		for _, g := range groups {
			for _, pid := range g.ParticipantIDs {
				seen[pid] = true
			}
		}
	} else {
		for _, m := range matches {
			if m.Slot1ID != nil {
				seen[*m.Slot1ID] = true
			}
			if m.Slot2ID != nil {
				seen[*m.Slot2ID] = true
			}
			if m.ByeParticipantID != nil {
				seen[*m.ByeParticipantID] = true
			}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// materializeDependent builds the next stage's bracket, seeded by final rank
// of the completed stage, and activates it.
func (s *ProgressionService) materializeDependent(ctx context.Context, exec repositories.SQLExecutor, dependent *models.Stage, advancers []int) error {
	participants := make([]*models.Participant, 0, len(advancers))
	for i, pid := range advancers {
		p, err := s.roster.GetParticipant(ctx, pid)
		if err != nil {
			return fmt.Errorf("failed to resolve advancing participant %d: %w", pid, err)
		}
		seed := i + 1
		p.Seed = &seed
		participants = append(participants, p)
	}

	if err := s.populator.PopulateStage(ctx, exec, dependent, participants); err != nil {
		return err
	}
	return s.stageRepo.UpdateState(ctx, exec, dependent.ID, models.StageStatePending, models.StageStateActive)
}

func derefOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
