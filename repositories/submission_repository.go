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

var (
	ErrSubmissionNotFound   = errors.New("result submission not found")
	ErrSubmissionStaleWrite = errors.New("result submission modified concurrently")
)

type SubmissionRepository interface {
	Create(ctx context.Context, exec SQLExecutor, sub *models.ResultSubmission) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.ResultSubmission, error)
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.ResultSubmission, error)
	UpdateState(ctx context.Context, exec SQLExecutor, id int, from, to models.SubmissionState) error
	RejectOthers(ctx context.Context, exec SQLExecutor, matchID, approvedSubmissionID int) error
	ListExpired(ctx context.Context, exec SQLExecutor, cutoff time.Time, limit int) ([]*models.ResultSubmission, error)
}

type postgresSubmissionRepository struct {
	db *sql.DB
}

func NewPostgresSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &postgresSubmissionRepository{db: db}
}

func (r *postgresSubmissionRepository) exec(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const submissionColumns = `id, match_id, submitter_id, claimed_winner_id, payload_json,
	proof_key, state, auto_confirm_at, created_at, updated_at`

func (r *postgresSubmissionRepository) Create(ctx context.Context, exec SQLExecutor, sub *models.ResultSubmission) error {
	payloadJSON, err := json.Marshal(sub.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal submission payload: %w", err)
	}
	query := `
		INSERT INTO result_submissions
			(match_id, submitter_id, claimed_winner_id, payload_json, proof_key, state, auto_confirm_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.exec(exec).QueryRowContext(ctx, query,
		sub.MatchID,
		sub.SubmitterID,
		sub.ClaimedWinnerID,
		string(payloadJSON),
		sub.ProofKey,
		sub.State,
		sub.AutoConfirmAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
}

func (r *postgresSubmissionRepository) scanSubmission(scanner interface{ Scan(...interface{}) error }) (*models.ResultSubmission, error) {
	var s models.ResultSubmission
	var payloadJSON string
	err := scanner.Scan(
		&s.ID, &s.MatchID, &s.SubmitterID, &s.ClaimedWinnerID, &payloadJSON,
		&s.ProofKey, &s.State, &s.AutoConfirmAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &s.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload for submission %d: %w", s.ID, err)
	}
	return &s, nil
}

func (r *postgresSubmissionRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.ResultSubmission, error) {
	query := `SELECT ` + submissionColumns + ` FROM result_submissions WHERE id = $1`
	s, err := r.scanSubmission(r.exec(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to scan submission %d: %w", id, err)
	}
	return s, nil
}

func (r *postgresSubmissionRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.ResultSubmission, error) {
	query := `SELECT ` + submissionColumns + ` FROM result_submissions WHERE match_id = $1 ORDER BY id ASC`
	rows, err := r.exec(exec).QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions for match %d: %w", matchID, err)
	}
	defer rows.Close()

	subs := make([]*models.ResultSubmission, 0)
	for rows.Next() {
		s, scanErr := r.scanSubmission(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan submission row: %w", scanErr)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *postgresSubmissionRepository) UpdateState(ctx context.Context, exec SQLExecutor, id int, from, to models.SubmissionState) error {
	query := `UPDATE result_submissions SET state = $1, updated_at = NOW() WHERE id = $2 AND state = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update state for submission %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrSubmissionStaleWrite)
}

// RejectOthers marks every non-approved sibling submission rejected once one
// submission wins; part of the finalize contract.
func (r *postgresSubmissionRepository) RejectOthers(ctx context.Context, exec SQLExecutor, matchID, approvedSubmissionID int) error {
	query := `
		UPDATE result_submissions SET state = 'rejected', updated_at = NOW()
		WHERE match_id = $1 AND id <> $2 AND state NOT IN ('approved', 'rejected')`
	_, err := r.exec(exec).ExecContext(ctx, query, matchID, approvedSubmissionID)
	if err != nil {
		return fmt.Errorf("failed to reject sibling submissions for match %d: %w", matchID, err)
	}
	return nil
}

// ListExpired returns pending submissions whose confirmation deadline has
// passed, for the auto-confirm sweep.
func (r *postgresSubmissionRepository) ListExpired(ctx context.Context, exec SQLExecutor, cutoff time.Time, limit int) ([]*models.ResultSubmission, error) {
	query := `SELECT ` + submissionColumns + `
		FROM result_submissions
		WHERE state = 'pending' AND auto_confirm_at IS NOT NULL AND auto_confirm_at <= $1
		ORDER BY auto_confirm_at ASC
		LIMIT $2`
	rows, err := r.exec(exec).QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired submissions: %w", err)
	}
	defer rows.Close()

	subs := make([]*models.ResultSubmission, 0)
	for rows.Next() {
		s, scanErr := r.scanSubmission(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan expired submission row: %w", scanErr)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
