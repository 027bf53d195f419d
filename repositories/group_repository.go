package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/format-engine/models"
	"github.com/lib/pq"
)

var (
	ErrGroupNotFound            = errors.New("group not found")
	ErrGroupParticipantConflict = errors.New("participant already assigned to a group in this stage")
)

type GroupRepository interface {
	Create(ctx context.Context, exec SQLExecutor, group *models.Group) error
	ListByStage(ctx context.Context, exec SQLExecutor, stageID int) ([]*models.Group, error)
}

type postgresGroupRepository struct {
	db *sql.DB
}

func NewPostgresGroupRepository(db *sql.DB) GroupRepository {
	return &postgresGroupRepository{db: db}
}

func (r *postgresGroupRepository) exec(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresGroupRepository) Create(ctx context.Context, exec SQLExecutor, group *models.Group) error {
	executor := r.exec(exec)
	query := `INSERT INTO groups (stage_id, name) VALUES ($1, $2) RETURNING id`
	if err := executor.QueryRowContext(ctx, query, group.StageID, group.Name).Scan(&group.ID); err != nil {
		return fmt.Errorf("failed to create group %q: %w", group.Name, err)
	}

	for _, pid := range group.ParticipantIDs {
		// The unique index on (stage_id, participant_id) enforces the
		// one-group-per-stage invariant at the storage layer too.
		_, err := executor.ExecContext(ctx,
			`INSERT INTO group_members (group_id, stage_id, participant_id) VALUES ($1, $2, $3)`,
			group.ID, group.StageID, pid)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("%w: participant %d", ErrGroupParticipantConflict, pid)
			}
			return fmt.Errorf("failed to add participant %d to group %d: %w", pid, group.ID, err)
		}
	}
	return nil
}

func (r *postgresGroupRepository) ListByStage(ctx context.Context, exec SQLExecutor, stageID int) ([]*models.Group, error) {
	executor := r.exec(exec)
	rows, err := executor.QueryContext(ctx,
		`SELECT id, stage_id, name FROM groups WHERE stage_id = $1 ORDER BY name ASC`, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups for stage %d: %w", stageID, err)
	}
	defer rows.Close()

	groups := make([]*models.Group, 0)
	byID := make(map[int]*models.Group)
	for rows.Next() {
		var g models.Group
		if scanErr := rows.Scan(&g.ID, &g.StageID, &g.Name); scanErr != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", scanErr)
		}
		groups = append(groups, &g)
		byID[g.ID] = &g
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memberRows, err := executor.QueryContext(ctx,
		`SELECT group_id, participant_id FROM group_members WHERE stage_id = $1 ORDER BY id ASC`, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members for stage %d: %w", stageID, err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var groupID, participantID int
		if scanErr := memberRows.Scan(&groupID, &participantID); scanErr != nil {
			return nil, fmt.Errorf("failed to scan group member row: %w", scanErr)
		}
		if g, ok := byID[groupID]; ok {
			g.ParticipantIDs = append(g.ParticipantIDs, participantID)
		}
	}
	return groups, memberRows.Err()
}
