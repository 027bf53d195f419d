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
	ErrMatchNotFound     = errors.New("match not found")
	ErrMatchStageInvalid = errors.New("match stage conflict or invalid")
	ErrMatchUIDConflict  = errors.New("bracket match uid already exists in stage")
	ErrMatchStaleWrite   = errors.New("match modified concurrently")
)

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	ListByStage(ctx context.Context, exec SQLExecutor, stageID int) ([]*models.Match, error)
	UpdateLinks(ctx context.Context, exec SQLExecutor, match *models.Match) error
	UpdateSlots(ctx context.Context, exec SQLExecutor, id int, slot1, slot2 *int) error
	UpdateState(ctx context.Context, exec SQLExecutor, id int, from, to models.MatchState) error
	Finalize(ctx context.Context, exec SQLExecutor, match *models.Match) error
	CountOpenByStage(ctx context.Context, exec SQLExecutor, stageID int) (int, error)
	MaxRoundByStage(ctx context.Context, exec SQLExecutor, stageID int) (int, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) exec(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `id, stage_id, group_id, round, order_in_round, bracket_uid, side,
	slot1_id, slot2_id, source_match1_id, source_match2_id, source1_takes_loser, source2_takes_loser,
	next_match_id, next_match_slot, loser_next_match_id, loser_next_match_slot,
	is_bye, bye_participant_id, state, winner_id, result_json, finalize_seq, rematch_of_id,
	created_at, completed_at`

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	resultJSON, err := marshalResult(match.Result)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO matches
			(stage_id, group_id, round, order_in_round, bracket_uid, side,
			 slot1_id, slot2_id, source_match1_id, source_match2_id,
			 source1_takes_loser, source2_takes_loser,
			 next_match_id, next_match_slot, loser_next_match_id, loser_next_match_slot,
			 is_bye, bye_participant_id, state, winner_id, result_json, finalize_seq, rematch_of_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING id, created_at`

	err = r.exec(exec).QueryRowContext(ctx, query,
		match.StageID,
		match.GroupID,
		match.Round,
		match.OrderInRound,
		match.BracketUID,
		match.Side,
		match.Slot1ID,
		match.Slot2ID,
		match.SourceMatch1ID,
		match.SourceMatch2ID,
		match.Source1TakesLoser,
		match.Source2TakesLoser,
		match.NextMatchID,
		match.NextMatchSlot,
		match.LoserNextMatchID,
		match.LoserNextMatchSlot,
		match.IsBye,
		match.ByeParticipantID,
		match.State,
		match.WinnerID,
		resultJSON,
		match.FinalizeSeq,
		match.RematchOfID,
		match.CompletedAt,
	).Scan(&match.ID, &match.CreatedAt)

	return r.handleMatchError(err)
}

func (r *postgresMatchRepository) scanMatch(scanner interface{ Scan(...interface{}) error }) (*models.Match, error) {
	var m models.Match
	var resultJSON sql.NullString
	err := scanner.Scan(
		&m.ID, &m.StageID, &m.GroupID, &m.Round, &m.OrderInRound, &m.BracketUID, &m.Side,
		&m.Slot1ID, &m.Slot2ID, &m.SourceMatch1ID, &m.SourceMatch2ID,
		&m.Source1TakesLoser, &m.Source2TakesLoser,
		&m.NextMatchID, &m.NextMatchSlot, &m.LoserNextMatchID, &m.LoserNextMatchSlot,
		&m.IsBye, &m.ByeParticipantID, &m.State, &m.WinnerID, &resultJSON,
		&m.FinalizeSeq, &m.RematchOfID, &m.CreatedAt, &m.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var payload models.ResultPayload
		if err := json.Unmarshal([]byte(resultJSON.String), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result for match %d: %w", m.ID, err)
		}
		m.Result = &payload
	}
	return &m, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := r.scanMatch(r.exec(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match %d: %w", id, err)
	}
	return m, nil
}

func (r *postgresMatchRepository) ListByStage(ctx context.Context, exec SQLExecutor, stageID int) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE stage_id = $1 ORDER BY round ASC, order_in_round ASC, id ASC`
	rows, err := r.exec(exec).QueryContext(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for stage %d: %w", stageID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, scanErr := r.scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// UpdateLinks fills in the cross-references resolved after the two-pass
// bracket persist (next match ids and source match ids).
func (r *postgresMatchRepository) UpdateLinks(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		UPDATE matches SET
			source_match1_id = $1, source_match2_id = $2,
			next_match_id = $3, next_match_slot = $4,
			loser_next_match_id = $5, loser_next_match_slot = $6
		WHERE id = $7`
	result, err := r.exec(exec).ExecContext(ctx, query,
		match.SourceMatch1ID, match.SourceMatch2ID,
		match.NextMatchID, match.NextMatchSlot,
		match.LoserNextMatchID, match.LoserNextMatchSlot,
		match.ID)
	if err != nil {
		return fmt.Errorf("failed to update links for match %d: %w", match.ID, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) UpdateSlots(ctx context.Context, exec SQLExecutor, id int, slot1, slot2 *int) error {
	query := `UPDATE matches SET slot1_id = $1, slot2_id = $2 WHERE id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, slot1, slot2, id)
	if err != nil {
		return fmt.Errorf("failed to update slots for match %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

// UpdateState is a guarded transition; a stale source state surfaces as
// ErrMatchStaleWrite so callers re-fetch instead of overwriting.
func (r *postgresMatchRepository) UpdateState(ctx context.Context, exec SQLExecutor, id int, from, to models.MatchState) error {
	query := `UPDATE matches SET state = $1 WHERE id = $2 AND state = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update state for match %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchStaleWrite)
}

// Finalize commits the definitive result. Guarded on non-terminal state so a
// losing race observes the already-finalized row instead of overwriting it.
func (r *postgresMatchRepository) Finalize(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	resultJSON, err := marshalResult(match.Result)
	if err != nil {
		return err
	}
	now := time.Now()
	match.CompletedAt = &now
	query := `
		UPDATE matches SET
			state = $1, winner_id = $2, result_json = $3, finalize_seq = $4, completed_at = $5
		WHERE id = $6 AND state NOT IN ('completed', 'voided')`
	result, err := r.exec(exec).ExecContext(ctx, query,
		match.State, match.WinnerID, resultJSON, match.FinalizeSeq, match.CompletedAt, match.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize match %d: %w", match.ID, err)
	}
	return checkAffectedRows(result, ErrMatchStaleWrite)
}

func (r *postgresMatchRepository) CountOpenByStage(ctx context.Context, exec SQLExecutor, stageID int) (int, error) {
	query := `
		SELECT COUNT(*) FROM matches
		WHERE stage_id = $1 AND is_bye = FALSE AND state NOT IN ('completed', 'voided')`
	var count int
	if err := r.exec(exec).QueryRowContext(ctx, query, stageID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open matches for stage %d: %w", stageID, err)
	}
	return count, nil
}

func (r *postgresMatchRepository) MaxRoundByStage(ctx context.Context, exec SQLExecutor, stageID int) (int, error) {
	query := `SELECT COALESCE(MAX(round), 0) FROM matches WHERE stage_id = $1`
	var round int
	if err := r.exec(exec).QueryRowContext(ctx, query, stageID).Scan(&round); err != nil {
		return 0, fmt.Errorf("failed to find max round for stage %d: %w", stageID, err)
	}
	return round, nil
}

func marshalResult(result *models.ResultPayload) (*string, error) {
	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result payload: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Constraint {
		case "matches_stage_id_fkey":
			return ErrMatchStageInvalid
		case "matches_stage_id_bracket_uid_key":
			return ErrMatchUIDConflict
		}
	}
	return err
}
