package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/format-engine/models"
	"github.com/lib/pq"
)

var (
	ErrStageNotFound          = errors.New("stage not found")
	ErrStageTournamentInvalid = errors.New("stage tournament conflict or invalid")
	ErrStageOrderConflict     = errors.New("stage order already taken for this tournament")
)

type StageRepository interface {
	Create(ctx context.Context, exec SQLExecutor, stage *models.Stage) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Stage, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Stage, error)
	GetDependent(ctx context.Context, exec SQLExecutor, stageID int) (*models.Stage, error)
	UpdateState(ctx context.Context, exec SQLExecutor, id int, from, to models.StageState) error
}

type postgresStageRepository struct {
	db *sql.DB
}

func NewPostgresStageRepository(db *sql.DB) StageRepository {
	return &postgresStageRepository{db: db}
}

func (r *postgresStageRepository) exec(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const stageColumns = `id, tournament_id, name, stage_order, format, state,
	advance_kind, advance_n, depends_on_stage_id, settings_json, created_at, completed_at`

func (r *postgresStageRepository) Create(ctx context.Context, exec SQLExecutor, stage *models.Stage) error {
	settingsJSON, err := json.Marshal(stage.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal stage settings: %w", err)
	}

	query := `
		INSERT INTO stages
			(tournament_id, name, stage_order, format, state, advance_kind, advance_n,
			 depends_on_stage_id, settings_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err = r.exec(exec).QueryRowContext(ctx, query,
		stage.TournamentID,
		stage.Name,
		stage.Order,
		stage.Format,
		stage.State,
		stage.AdvanceRule.Kind,
		stage.AdvanceRule.N,
		stage.DependsOnStageID,
		string(settingsJSON),
	).Scan(&stage.ID, &stage.CreatedAt)

	return r.handleStageError(err)
}

func (r *postgresStageRepository) scanStage(scanner interface{ Scan(...interface{}) error }) (*models.Stage, error) {
	var stage models.Stage
	var settingsJSON string
	err := scanner.Scan(
		&stage.ID,
		&stage.TournamentID,
		&stage.Name,
		&stage.Order,
		&stage.Format,
		&stage.State,
		&stage.AdvanceRule.Kind,
		&stage.AdvanceRule.N,
		&stage.DependsOnStageID,
		&settingsJSON,
		&stage.CreatedAt,
		&stage.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if settingsJSON != "" {
		if err := json.Unmarshal([]byte(settingsJSON), &stage.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings for stage %d: %w", stage.ID, err)
		}
	}
	return &stage, nil
}

func (r *postgresStageRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE id = $1`
	stage, err := r.scanStage(r.exec(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStageNotFound
		}
		return nil, fmt.Errorf("failed to scan stage %d: %w", id, err)
	}
	return stage, nil
}

func (r *postgresStageRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE tournament_id = $1 ORDER BY stage_order ASC`
	rows, err := r.exec(exec).QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	stages := make([]*models.Stage, 0)
	for rows.Next() {
		stage, scanErr := r.scanStage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan stage row: %w", scanErr)
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

func (r *postgresStageRepository) GetDependent(ctx context.Context, exec SQLExecutor, stageID int) (*models.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE depends_on_stage_id = $1`
	stage, err := r.scanStage(r.exec(exec).QueryRowContext(ctx, query, stageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan dependent stage of %d: %w", stageID, err)
	}
	return stage, nil
}

// UpdateState performs a guarded transition: the row is only updated when it
// is still in the expected source state, which is what makes completing a
// stage exactly-once under concurrent finalize calls.
func (r *postgresStageRepository) UpdateState(ctx context.Context, exec SQLExecutor, id int, from, to models.StageState) error {
	var completedAt *time.Time
	if to == models.StageStateCompleted {
		now := time.Now()
		completedAt = &now
	}
	query := `UPDATE stages SET state = $1, completed_at = COALESCE($2, completed_at) WHERE id = $3 AND state = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, to, completedAt, id, from)
	if err != nil {
		return fmt.Errorf("failed to update state of stage %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrStageNotFound)
}

func (r *postgresStageRepository) handleStageError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Constraint {
		case "stages_tournament_id_fkey":
			return ErrStageTournamentInvalid
		case "stages_tournament_id_stage_order_key":
			return ErrStageOrderConflict
		}
	}
	return err
}
