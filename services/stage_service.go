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
	"golang.org/x/sync/errgroup"
)

type CreateStageInput struct {
	TournamentID     int                  `json:"tournament_id"`
	Name             string               `json:"name"`
	Order            int                  `json:"order"`
	Format           models.StageFormat   `json:"format"`
	AdvanceRule      models.AdvanceRule   `json:"advance_rule"`
	DependsOnStageID *int                 `json:"depends_on_stage_id,omitempty"`
	Settings         models.StageSettings `json:"settings"`

	// ParticipantIDs in seed order. Required for an independent stage;
	// ignored for a stage that depends on a prior one (its field arrives
	// through advancement).
	ParticipantIDs []int `json:"participant_ids,omitempty"`
}

type StageService struct {
	txr       repositories.TxRunner
	stageRepo repositories.StageRepository
	matchRepo repositories.MatchRepository
	groupRepo repositories.GroupRepository
	roster    roster.Provider
	logger    *slog.Logger
}

func NewStageService(
	txr repositories.TxRunner,
	stageRepo repositories.StageRepository,
	matchRepo repositories.MatchRepository,
	groupRepo repositories.GroupRepository,
	rosterProvider roster.Provider,
	logger *slog.Logger,
) *StageService {
	return &StageService{
		txr:       txr,
		stageRepo: stageRepo,
		matchRepo: matchRepo,
		groupRepo: groupRepo,
		roster:    rosterProvider,
		logger:    logger,
	}
}

// CreateStage validates the configuration, persists the stage and, for an
// independent stage, generates and persists its full bracket in the same
// transaction. A dependent stage is created Pending with no matches; its
// field materializes when the stage it depends on completes.
func (s *StageService) CreateStage(ctx context.Context, input CreateStageInput) (*models.Stage, error) {
	if err := s.validateCreate(ctx, &input); err != nil {
		return nil, err
	}

	stage := &models.Stage{
		TournamentID:     input.TournamentID,
		Name:             input.Name,
		Order:            input.Order,
		Format:           input.Format,
		State:            models.StageStatePending,
		AdvanceRule:      input.AdvanceRule,
		DependsOnStageID: input.DependsOnStageID,
		Settings:         input.Settings,
	}

	var participants []*models.Participant
	if input.DependsOnStageID == nil {
		var err error
		participants, err = s.resolveParticipants(ctx, input.ParticipantIDs)
		if err != nil {
			return nil, err
		}
		stage.State = models.StageStateActive
	}

	err := s.txr.InTx(ctx, func(tx repositories.SQLExecutor) error {
		if err := s.stageRepo.Create(ctx, tx, stage); err != nil {
			return mapStageRepoError(err)
		}
		if participants != nil {
			return s.PopulateStage(ctx, tx, stage, participants)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("stage created",
		slog.Int("stage_id", stage.ID),
		slog.Int("tournament_id", stage.TournamentID),
		slog.String("format", string(stage.Format)),
		slog.String("state", string(stage.State)))
	return stage, nil
}

func (s *StageService) validateCreate(ctx context.Context, input *CreateStageInput) error {
	ve := newValidationError()
	if input.Name == "" {
		ve.Fields["name"] = "required"
	}
	if input.Order < 1 {
		ve.Fields["order"] = "must be >= 1"
	}
	if !input.Format.Valid() {
		ve.Fields["format"] = fmt.Sprintf("unknown format %q", input.Format)
	}
	switch input.AdvanceRule.Kind {
	case "", models.AdvanceTopN, models.AdvanceTopNPerGroup:
	default:
		ve.Fields["advance_rule.kind"] = fmt.Sprintf("unknown kind %q", input.AdvanceRule.Kind)
	}
	if input.AdvanceRule.Kind != "" && input.AdvanceRule.N < 1 {
		ve.Fields["advance_rule.n"] = "must be >= 1"
	}

	isElimination := input.Format == models.FormatSingleElimination || input.Format == models.FormatDoubleElimination
	if isElimination && input.Settings.AllowDraws {
		ve.Fields["settings.allow_draws"] = "draws are not possible in elimination formats"
	}
	if input.Format == models.FormatGroup && input.Settings.GroupCount < 0 {
		ve.Fields["settings.group_count"] = "must be >= 0"
	}
	if input.Settings.MaxScore < 0 {
		ve.Fields["settings.max_score"] = "must be >= 0"
	}
	if input.Settings.AutoConfirmMinutes < 0 {
		ve.Fields["settings.auto_confirm_minutes"] = "must be >= 0"
	}
	// A dependent swiss stage cannot derive a default round count at
	// creation time (its field size is unknown until advancement).
	if input.Format == models.FormatSwiss && input.DependsOnStageID != nil && input.Settings.SwissRounds < 1 {
		ve.Fields["settings.swiss_rounds"] = "required for a dependent swiss stage"
	}

	if input.DependsOnStageID == nil {
		if min := input.Format.MinParticipants(); len(input.ParticipantIDs) < min {
			ve.Fields["participant_ids"] = fmt.Sprintf("format %s requires at least %d participants", input.Format, min)
		}
		seen := make(map[int]bool, len(input.ParticipantIDs))
		for _, id := range input.ParticipantIDs {
			if seen[id] {
				ve.Fields["participant_ids"] = fmt.Sprintf("participant %d listed twice", id)
			}
			seen[id] = true
		}
	}
	if len(ve.Fields) > 0 {
		return ve
	}

	if input.Format == models.FormatSwiss && input.Settings.SwissRounds == 0 {
		input.Settings.SwissRounds = brackets.SuggestedSwissRounds(len(input.ParticipantIDs))
	}

	if input.DependsOnStageID != nil {
		prior, err := s.stageRepo.GetByID(ctx, nil, *input.DependsOnStageID)
		if err != nil {
			if errors.Is(err, repositories.ErrStageNotFound) {
				return ErrDependsOnStageNotInList
			}
			return err
		}
		if prior.TournamentID != input.TournamentID {
			return ErrDependsOnStageNotInList
		}
	}
	return nil
}

func (s *StageService) resolveParticipants(ctx context.Context, ids []int) ([]*models.Participant, error) {
	participants := make([]*models.Participant, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p, err := s.roster.GetParticipant(gctx, id)
			if err != nil {
				if errors.Is(err, roster.ErrParticipantNotFound) {
					ve := newValidationError()
					ve.Fields["participant_ids"] = fmt.Sprintf("participant %d not found in roster", id)
					return ve
				}
				return err
			}
			participants[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return participants, nil
}

// PopulateStage generates the bracket for the given participants (in seed
// order) and persists it within the caller's transaction. Used at stage
// creation and again when a completed stage materializes its dependent.
func (s *StageService) PopulateStage(ctx context.Context, exec repositories.SQLExecutor, stage *models.Stage, participants []*models.Participant) error {
	generated, err := brackets.Generate(stage.Format, brackets.GenerateParams{
		Participants: participants,
		Settings:     stage.Settings,
	})
	if err != nil {
		if errors.Is(err, brackets.ErrTooFewParticipants) {
			return fmt.Errorf("%w: %v", ErrTooFewParticipants, err)
		}
		if errors.Is(err, brackets.ErrBracketCycle) {
			return ErrBracketCycleDetected
		}
		return err
	}

	groupIDs, err := s.persistGroups(ctx, exec, stage.ID, generated)
	if err != nil {
		return err
	}
	return persistGeneratedMatches(ctx, exec, s.matchRepo, stage.ID, groupIDs, generated)
}

// persistGroups stores one group row per distinct group name, with members
// derived from the matches assigned to that group.
func (s *StageService) persistGroups(ctx context.Context, exec repositories.SQLExecutor, stageID int, generated []*brackets.BracketMatch) (map[string]int, error) {
	memberSets := make(map[string]map[int]bool)
	var names []string
	for _, bm := range generated {
		if bm.Group == "" {
			continue
		}
		set, ok := memberSets[bm.Group]
		if !ok {
			set = make(map[int]bool)
			memberSets[bm.Group] = set
			names = append(names, bm.Group)
		}
		if bm.Participant1ID != nil {
			set[*bm.Participant1ID] = true
		}
		if bm.Participant2ID != nil {
			set[*bm.Participant2ID] = true
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	groupIDs := make(map[string]int, len(names))
	for _, name := range names {
		members := make([]int, 0, len(memberSets[name]))
		for pid := range memberSets[name] {
			members = append(members, pid)
		}
		sort.Ints(members)
		group := &models.Group{StageID: stageID, Name: name, ParticipantIDs: members}
		if err := s.groupRepo.Create(ctx, exec, group); err != nil {
			return nil, err
		}
		groupIDs[name] = group.ID
	}
	return groupIDs, nil
}

// persistGeneratedMatches stores a generated bracket in two passes: first
// every match row (bye matches land already completed with their winner
// set), then the cross-links once every UID has a database id.
func persistGeneratedMatches(ctx context.Context, exec repositories.SQLExecutor, matchRepo repositories.MatchRepository, stageID int, groupIDs map[string]int, generated []*brackets.BracketMatch) error {
	idByUID := make(map[string]int, len(generated))
	rows := make([]*models.Match, len(generated))

	for i, bm := range generated {
		m := &models.Match{
			StageID:          stageID,
			Round:            bm.Round,
			OrderInRound:     bm.OrderInRound,
			BracketUID:       bm.UID,
			Side:             bm.Side,
			Slot1ID:          bm.Participant1ID,
			Slot2ID:          bm.Participant2ID,
			IsBye:            bm.IsBye,
			ByeParticipantID: bm.ByeParticipantID,
			State:            models.MatchStateAwaitingSubmission,
		}
		if bm.Group != "" {
			if gid, ok := groupIDs[bm.Group]; ok {
				m.GroupID = &gid
			}
		}
		if bm.IsBye {
			now := time.Now()
			m.State = models.MatchStateCompleted
			m.WinnerID = bm.ByeParticipantID
			m.CompletedAt = &now
		}
		if err := matchRepo.Create(ctx, exec, m); err != nil {
			return mapMatchRepoError(err)
		}
		idByUID[bm.UID] = m.ID
		rows[i] = m
	}

	for i, bm := range generated {
		m := rows[i]
		resolved := false
		resolve := func(uid *string, target **int) error {
			if uid == nil {
				return nil
			}
			id, ok := idByUID[*uid]
			if !ok {
				return fmt.Errorf("%w: match %s references unknown match %s", ErrIntegrity, bm.UID, *uid)
			}
			*target = &id
			resolved = true
			return nil
		}
		if err := resolve(bm.SourceMatch1UID, &m.SourceMatch1ID); err != nil {
			return err
		}
		if err := resolve(bm.SourceMatch2UID, &m.SourceMatch2ID); err != nil {
			return err
		}
		if err := resolve(bm.NextMatchUID, &m.NextMatchID); err != nil {
			return err
		}
		if err := resolve(bm.LoserNextMatchUID, &m.LoserNextMatchID); err != nil {
			return err
		}
		if !resolved {
			continue
		}
		m.NextMatchSlot = bm.NextMatchSlot
		m.LoserNextMatchSlot = bm.LoserNextMatchSlot
		if err := matchRepo.UpdateLinks(ctx, exec, m); err != nil {
			return mapMatchRepoError(err)
		}
	}
	return nil
}

func (s *StageService) GetStage(ctx context.Context, stageID int) (*models.Stage, error) {
	stage, err := s.stageRepo.GetByID(ctx, nil, stageID)
	if err != nil {
		return nil, mapStageRepoError(err)
	}
	return stage, nil
}

// GetBracket returns the stage with its matches and groups, loaded in
// parallel.
func (s *StageService) GetBracket(ctx context.Context, stageID int) (*models.Stage, error) {
	stage, err := s.stageRepo.GetByID(ctx, nil, stageID)
	if err != nil {
		return nil, mapStageRepoError(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		matches, err := s.matchRepo.ListByStage(gctx, nil, stageID)
		if err != nil {
			return err
		}
		stage.Matches = matches
		return nil
	})
	g.Go(func() error {
		groups, err := s.groupRepo.ListByStage(gctx, nil, stageID)
		if err != nil {
			return err
		}
		for _, group := range groups {
			stage.Groups = append(stage.Groups, *group)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stage, nil
}

func (s *StageService) ListStages(ctx context.Context, tournamentID int) ([]*models.Stage, error) {
	return s.stageRepo.ListByTournament(ctx, nil, tournamentID)
}

func mapStageRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrStageNotFound):
		return ErrStageNotFound
	case errors.Is(err, repositories.ErrStageTournamentInvalid),
		errors.Is(err, repositories.ErrStageOrderConflict):
		ve := newValidationError()
		ve.Fields["stage"] = err.Error()
		return ve
	}
	return err
}

func mapMatchRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrMatchNotFound):
		return ErrMatchNotFound
	}
	return err
}
