package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Dosada05/format-engine/models"
)

// TransitionRepository is the append-only audit log of state machine steps.
type TransitionRepository interface {
	Append(ctx context.Context, exec SQLExecutor, t *models.MatchTransition) error
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchTransition, error)
}

type postgresTransitionRepository struct {
	db *sql.DB
}

func NewPostgresTransitionRepository(db *sql.DB) TransitionRepository {
	return &postgresTransitionRepository{db: db}
}

func (r *postgresTransitionRepository) exec(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresTransitionRepository) Append(ctx context.Context, exec SQLExecutor, t *models.MatchTransition) error {
	query := `
		INSERT INTO match_transitions (match_id, actor_id, from_state, to_state, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.exec(exec).QueryRowContext(ctx, query,
		t.MatchID, t.ActorID, t.FromState, t.ToState, t.Reason,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append transition for match %d: %w", t.MatchID, err)
	}
	return nil
}

func (r *postgresTransitionRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.MatchTransition, error) {
	query := `
		SELECT id, match_id, actor_id, from_state, to_state, reason, created_at
		FROM match_transitions WHERE match_id = $1 ORDER BY id ASC`
	rows, err := r.exec(exec).QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions for match %d: %w", matchID, err)
	}
	defer rows.Close()

	transitions := make([]*models.MatchTransition, 0)
	for rows.Next() {
		var t models.MatchTransition
		if scanErr := rows.Scan(&t.ID, &t.MatchID, &t.ActorID, &t.FromState, &t.ToState, &t.Reason, &t.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan transition row: %w", scanErr)
		}
		transitions = append(transitions, &t)
	}
	return transitions, rows.Err()
}
