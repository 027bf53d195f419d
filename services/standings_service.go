package services

import (
	"context"
	"log/slog"

	"github.com/Dosada05/format-engine/models"
	"github.com/Dosada05/format-engine/repositories"
	"github.com/Dosada05/format-engine/standings"
	"golang.org/x/sync/errgroup"
)

// GroupStandings is one group's ranked table.
type GroupStandings struct {
	GroupID   int                  `json:"group_id"`
	GroupName string               `json:"group_name"`
	Rows      []models.StandingRow `json:"rows"`
}

// StandingsService computes ranked tables on demand from completed matches.
type StandingsService struct {
	stageRepo repositories.StageRepository
	matchRepo repositories.MatchRepository
	groupRepo repositories.GroupRepository
	logger    *slog.Logger
}

func NewStandingsService(
	stageRepo repositories.StageRepository,
	matchRepo repositories.MatchRepository,
	groupRepo repositories.GroupRepository,
	logger *slog.Logger,
) *StandingsService {
	return &StandingsService{
		stageRepo: stageRepo,
		matchRepo: matchRepo,
		groupRepo: groupRepo,
		logger:    logger,
	}
}

// GetStandings returns the stage-wide table. For a group stage the table
// spans all groups; per-group tables come from GetGroupStandings.
func (s *StandingsService) GetStandings(ctx context.Context, stageID int) ([]models.StandingRow, error) {
	stage, matches, groups, err := s.load(ctx, stageID)
	if err != nil {
		return nil, err
	}
	cfg := standings.ConfigFromSettings(stage.Settings)
	return standings.Compute(collectParticipants(matches, groups), matches, cfg), nil
}

// GetGroupStandings returns one table per group, in group name order.
func (s *StandingsService) GetGroupStandings(ctx context.Context, stageID int) ([]GroupStandings, error) {
	stage, matches, groups, err := s.load(ctx, stageID)
	if err != nil {
		return nil, err
	}
	cfg := standings.ConfigFromSettings(stage.Settings)

	out := make([]GroupStandings, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupStandings{
			GroupID:   g.ID,
			GroupName: g.Name,
			Rows:      standings.Compute(g.ParticipantIDs, matchesOfGroup(matches, g.ID), cfg),
		})
	}
	return out, nil
}

func (s *StandingsService) load(ctx context.Context, stageID int) (*models.Stage, []*models.Match, []*models.Group, error) {
	stage, err := s.stageRepo.GetByID(ctx, nil, stageID)
	if err != nil {
		return nil, nil, nil, mapStageRepoError(err)
	}

	var (
		matches []*models.Match
		groups  []*models.Group
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		matches, err = s.matchRepo.ListByStage(gctx, nil, stageID)
		return err
	})
	g.Go(func() error {
		var err error
		groups, err = s.groupRepo.ListByStage(gctx, nil, stageID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return stage, matches, groups, nil
}
