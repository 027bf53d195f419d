package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/format-engine/models"
)

var ErrDisputeNotFound = errors.New("dispute not found")

type DisputeRepository interface {
	Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error
	GetOpenByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error)
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.Dispute, error)
	Resolve(ctx context.Context, exec SQLExecutor, id int, resolution models.DisputeResolution, note *string, resolvedBy int) error
	AddNote(ctx context.Context, exec SQLExecutor, id int, note string) error
}

type postgresDisputeRepository struct {
	db *sql.DB
}

func NewPostgresDisputeRepository(db *sql.DB) DisputeRepository {
	return &postgresDisputeRepository{db: db}
}

func (r *postgresDisputeRepository) exec(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const disputeColumns = `id, submission_id, match_id, disputer_id, reason, explanation,
	counter_winner_id, counter_payload_json, counter_proof_key,
	resolution, resolution_note, resolved_by, resolved_at, created_at`

func (r *postgresDisputeRepository) Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error {
	var counterJSON *string
	if dispute.CounterPayload != nil {
		raw, err := json.Marshal(dispute.CounterPayload)
		if err != nil {
			return fmt.Errorf("failed to marshal counter payload: %w", err)
		}
		s := string(raw)
		counterJSON = &s
	}
	query := `
		INSERT INTO disputes
			(submission_id, match_id, disputer_id, reason, explanation,
			 counter_winner_id, counter_payload_json, counter_proof_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	return r.exec(exec).QueryRowContext(ctx, query,
		dispute.SubmissionID,
		dispute.MatchID,
		dispute.DisputerID,
		dispute.Reason,
		dispute.Explanation,
		dispute.CounterWinnerID,
		counterJSON,
		dispute.CounterProofKey,
	).Scan(&dispute.ID, &dispute.CreatedAt)
}

func (r *postgresDisputeRepository) scanDispute(scanner interface{ Scan(...interface{}) error }) (*models.Dispute, error) {
	var d models.Dispute
	var counterJSON sql.NullString
	err := scanner.Scan(
		&d.ID, &d.SubmissionID, &d.MatchID, &d.DisputerID, &d.Reason, &d.Explanation,
		&d.CounterWinnerID, &counterJSON, &d.CounterProofKey,
		&d.Resolution, &d.ResolutionNote, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if counterJSON.Valid && counterJSON.String != "" {
		var payload models.ResultPayload
		if err := json.Unmarshal([]byte(counterJSON.String), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal counter payload for dispute %d: %w", d.ID, err)
		}
		d.CounterPayload = &payload
	}
	return &d, nil
}

// GetOpenByMatch returns the unresolved dispute for a match, or nil.
func (r *postgresDisputeRepository) GetOpenByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes
		WHERE match_id = $1 AND resolution IS NULL
		ORDER BY id DESC LIMIT 1`
	d, err := r.scanDispute(r.exec(exec).QueryRowContext(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan open dispute for match %d: %w", matchID, err)
	}
	return d, nil
}

func (r *postgresDisputeRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE match_id = $1 ORDER BY id ASC`
	rows, err := r.exec(exec).QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query disputes for match %d: %w", matchID, err)
	}
	defer rows.Close()

	disputes := make([]*models.Dispute, 0)
	for rows.Next() {
		d, scanErr := r.scanDispute(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan dispute row: %w", scanErr)
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

func (r *postgresDisputeRepository) Resolve(ctx context.Context, exec SQLExecutor, id int, resolution models.DisputeResolution, note *string, resolvedBy int) error {
	query := `
		UPDATE disputes SET resolution = $1, resolution_note = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $5 AND resolution IS NULL`
	result, err := r.exec(exec).ExecContext(ctx, query, resolution, note, resolvedBy, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve dispute %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrDisputeNotFound)
}

// AddNote records an organizer note without closing the dispute
// (request_more_info path).
func (r *postgresDisputeRepository) AddNote(ctx context.Context, exec SQLExecutor, id int, note string) error {
	query := `UPDATE disputes SET resolution_note = $1 WHERE id = $2 AND resolution IS NULL`
	result, err := r.exec(exec).ExecContext(ctx, query, note, id)
	if err != nil {
		return fmt.Errorf("failed to add note to dispute %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrDisputeNotFound)
}
