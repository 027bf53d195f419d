package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден
	ErrNotFound           = errors.New("requested resource not found")
	ErrStageNotFound      = errors.New("stage not found")
	ErrMatchNotFound      = errors.New("match not found")
	ErrSubmissionNotFound = errors.New("result submission not found")
	ErrDisputeNotFound    = errors.New("dispute not found")

	// Ошибки валидации и бизнес-правил
	ErrValidationFailed        = errors.New("validation failed")
	ErrTooFewParticipants      = errors.New("not enough participants for the stage format")
	ErrExplanationTooShort     = errors.New("dispute explanation is too short")
	ErrStageSettingsInvalid    = errors.New("stage settings are invalid")
	ErrUnknownResolveDecision  = errors.New("unknown dispute resolution decision")
	ErrDependsOnStageNotInList = errors.New("depends_on stage must belong to the same tournament")

	// Конфликты состояний
	ErrStateConflict          = errors.New("operation not valid in the current state")
	ErrMatchAlreadyFinalized  = errors.New("match result is already finalized")
	ErrMatchNotAwaitingResult = errors.New("match is not accepting result submissions")
	ErrMatchNotPending        = errors.New("match has no submission pending confirmation")
	ErrMatchNotUnderReview    = errors.New("match is not under organizer review")
	ErrStageNotActive         = errors.New("stage is not active")
	ErrStageAlreadyCompleted  = errors.New("stage is already completed")
	ErrConflictingSubmission  = errors.New("the opposing side already submitted a conflicting result")

	// Ошибки доступа
	ErrNotMatchParticipant = errors.New("actor is not a participant of this match")
	ErrOwnSubmission       = errors.New("actor cannot act on their own submission")
	ErrForbiddenOperation  = errors.New("operation not allowed for the current user")

	// Фатальные нарушения инвариантов; требуют вмешательства оператора.
	ErrIntegrity            = errors.New("integrity violation")
	ErrBracketCycleDetected = fmt.Errorf("%w: bracket links contain a cycle", ErrIntegrity)
	ErrStageDoubleCompleted = fmt.Errorf("%w: stage completed twice", ErrIntegrity)
)

// ValidationError carries field-level problems with a submitted payload.
// Callers fix their input and retry; it is never retried automatically.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidationFailed.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}
