package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Dosada05/format-engine/models"
)

func fieldError(t *testing.T, err error, field string) {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if _, ok := ve.Fields[field]; !ok {
		t.Fatalf("expected a problem on %q, got %v", field, ve.Fields)
	}
}

func TestCreateStageValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.stages.CreateStage(ctx, CreateStageInput{
		TournamentID:   1,
		Name:           "Bracket",
		Order:          1,
		Format:         models.FormatSingleElimination,
		Settings:       models.StageSettings{AllowDraws: true},
		ParticipantIDs: []int{1, 2},
	})
	fieldError(t, err, "settings.allow_draws")

	_, err = env.stages.CreateStage(ctx, CreateStageInput{
		TournamentID:   1,
		Name:           "Bracket",
		Order:          1,
		Format:         "best_of_vibes",
		ParticipantIDs: []int{1, 2},
	})
	fieldError(t, err, "format")

	_, err = env.stages.CreateStage(ctx, CreateStageInput{
		TournamentID:   1,
		Name:           "Bracket",
		Order:          1,
		Format:         models.FormatSingleElimination,
		ParticipantIDs: []int{1, 2, 2},
	})
	fieldError(t, err, "participant_ids")

	_, err = env.stages.CreateStage(ctx, CreateStageInput{
		TournamentID:   1,
		Name:           "Bracket",
		Order:          1,
		Format:         models.FormatDoubleElimination,
		ParticipantIDs: []int{1, 2},
	})
	fieldError(t, err, "participant_ids")

	// Roster misses surface as field errors, not opaque failures.
	_, err = env.stages.CreateStage(ctx, CreateStageInput{
		TournamentID:   1,
		Name:           "Bracket",
		Order:          1,
		Format:         models.FormatSingleElimination,
		ParticipantIDs: []int{1, 404},
	})
	fieldError(t, err, "participant_ids")
}

func TestCreateStageDependencyValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	missing := 777
	_, err := env.stages.CreateStage(ctx, CreateStageInput{
		TournamentID:     1,
		Name:             "Final",
		Order:            2,
		Format:           models.FormatSingleElimination,
		DependsOnStageID: &missing,
	})
	if !errors.Is(err, ErrDependsOnStageNotInList) {
		t.Fatalf("expected ErrDependsOnStageNotInList, got %v", err)
	}

	other := env.createStage(t, CreateStageInput{
		TournamentID:   2,
		Name:           "Other league",
		Order:          1,
		Format:         models.FormatRoundRobin,
		ParticipantIDs: []int{1, 2, 3},
	})
	_, err = env.stages.CreateStage(ctx, CreateStageInput{
		TournamentID:     1,
		Name:             "Final",
		Order:            2,
		Format:           models.FormatSingleElimination,
		DependsOnStageID: &other.ID,
	})
	if !errors.Is(err, ErrDependsOnStageNotInList) {
		t.Fatalf("cross-tournament dependency: expected ErrDependsOnStageNotInList, got %v", err)
	}

	// A dependent swiss stage cannot infer its round count.
	prior := env.createStage(t, CreateStageInput{
		TournamentID:   1,
		Name:           "League",
		Order:          1,
		Format:         models.FormatRoundRobin,
		ParticipantIDs: []int{1, 2, 3, 4},
	})
	_, err = env.stages.CreateStage(ctx, CreateStageInput{
		TournamentID:     1,
		Name:             "Swiss finale",
		Order:            2,
		Format:           models.FormatSwiss,
		DependsOnStageID: &prior.ID,
	})
	fieldError(t, err, "settings.swiss_rounds")
}

func TestCreateStageSwissDefaultsRounds(t *testing.T) {
	env := newTestEnv()
	stage := env.createStage(t, CreateStageInput{
		TournamentID:   1,
		Name:           "Swiss",
		Order:          1,
		Format:         models.FormatSwiss,
		ParticipantIDs: []int{1, 2, 3, 4, 5, 6, 7, 8},
	})
	if stage.Settings.SwissRounds != 3 {
		t.Fatalf("expected 3 default rounds for 8 players, got %d", stage.Settings.SwissRounds)
	}
}

func TestCreateStagePersistsBracketWithByes(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	stage := env.createStage(t, CreateStageInput{
		TournamentID:   1,
		Name:           "Bracket",
		Order:          1,
		Format:         models.FormatSingleElimination,
		ParticipantIDs: []int{1, 2, 3},
	})
	if stage.State != models.StageStateActive {
		t.Fatalf("independent stage should activate immediately, got %s", stage.State)
	}

	matches, err := env.matchRepo.ListByStage(ctx, nil, stage.ID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	var byes, playable int
	for _, m := range matches {
		if m.IsBye {
			byes++
			if m.State != models.MatchStateCompleted || m.WinnerID == nil {
				t.Errorf("bye %s should persist already completed with its winner", m.BracketUID)
			}
		} else {
			playable++
		}
	}
	if byes != 1 || playable != 2 {
		t.Fatalf("expected 1 bye and 2 playable matches, got %d and %d", byes, playable)
	}

	// Links resolved to database ids in the second pass.
	for _, m := range matches {
		if m.Round == 1 && !m.IsBye && m.NextMatchID == nil {
			t.Errorf("round-1 match %s has no resolved next match", m.BracketUID)
		}
	}
}

func TestGetBracketLoadsMatchesAndGroups(t *testing.T) {
	env := newTestEnv()
	stage := env.createStage(t, CreateStageInput{
		TournamentID:   1,
		Name:           "Groups",
		Order:          1,
		Format:         models.FormatGroup,
		Settings:       models.StageSettings{GroupCount: 2},
		ParticipantIDs: []int{1, 2, 3, 4, 5, 6, 7, 8},
	})

	loaded, err := env.stages.GetBracket(context.Background(), stage.ID)
	if err != nil {
		t.Fatalf("get bracket: %v", err)
	}
	if len(loaded.Matches) != 12 {
		t.Errorf("expected 12 matches, got %d", len(loaded.Matches))
	}
	if len(loaded.Groups) != 2 {
		t.Errorf("expected 2 groups, got %d", len(loaded.Groups))
	}
	for _, g := range loaded.Groups {
		if len(g.ParticipantIDs) != 4 {
			t.Errorf("group %s should hold 4 participants, got %d", g.Name, len(g.ParticipantIDs))
		}
	}

	if _, err := env.stages.GetBracket(context.Background(), 999); !errors.Is(err, ErrStageNotFound) {
		t.Fatalf("expected ErrStageNotFound, got %v", err)
	}
}
