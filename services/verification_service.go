package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/format-engine/models"
	"github.com/Dosada05/format-engine/notify"
	"github.com/Dosada05/format-engine/repositories"
	"github.com/google/uuid"
)

// EventPublisher receives domain events after the owning transaction
// commits. *events.Propagator is the production implementation.
type EventPublisher interface {
	PublishMatchCompleted(event models.MatchCompletedEvent)
	PublishStageCompleted(event models.StageCompletedEvent)
}

type SubmitResultInput struct {
	// ClaimedWinnerID is 0 for a draw.
	ClaimedWinnerID int                  `json:"claimed_winner_id"`
	Payload         models.ResultPayload `json:"payload"`
	ProofKey        *string              `json:"proof_key,omitempty"`
}

type DisputeInput struct {
	Reason          string                `json:"reason"`
	Explanation     string                `json:"explanation"`
	CounterWinnerID *int                  `json:"counter_winner_id,omitempty"`
	CounterPayload  *models.ResultPayload `json:"counter_payload,omitempty"`
	CounterProofKey *string               `json:"counter_proof_key,omitempty"`
}

type ResolveInput struct {
	Decision models.DisputeResolution `json:"decision"`
	Note     *string                  `json:"note,omitempty"`
}

type OverrideInput struct {
	// WinnerID is 0 for a draw.
	WinnerID int                  `json:"winner_id"`
	Payload  models.ResultPayload `json:"payload"`
	Reason   string               `json:"reason"`
}

// VerificationService drives a match result from submission through
// confirmation, dispute and adjudication to its finalized state. All state
// transitions on one match are serialized by a per-match lock and committed
// through guarded SQL updates, so a concurrent attempt loses cleanly
// instead of overwriting.
type VerificationService struct {
	txr            repositories.TxRunner
	stageRepo      repositories.StageRepository
	matchRepo      repositories.MatchRepository
	submissionRepo repositories.SubmissionRepository
	disputeRepo    repositories.DisputeRepository
	transitionRepo repositories.TransitionRepository
	progression    *ProgressionService
	publisher      EventPublisher
	notifier       notify.Notifier
	locks          *matchLocks
	logger         *slog.Logger
}

func NewVerificationService(
	txr repositories.TxRunner,
	stageRepo repositories.StageRepository,
	matchRepo repositories.MatchRepository,
	submissionRepo repositories.SubmissionRepository,
	disputeRepo repositories.DisputeRepository,
	transitionRepo repositories.TransitionRepository,
	progression *ProgressionService,
	publisher EventPublisher,
	notifier notify.Notifier,
	logger *slog.Logger,
) *VerificationService {
	return &VerificationService{
		txr:            txr,
		stageRepo:      stageRepo,
		matchRepo:      matchRepo,
		submissionRepo: submissionRepo,
		disputeRepo:    disputeRepo,
		transitionRepo: transitionRepo,
		progression:    progression,
		publisher:      publisher,
		notifier:       notifier,
		locks:          newMatchLocks(),
		logger:         logger,
	}
}

// SubmitResult records one side's claim and moves the match to
// PendingConfirmation. The same side may resubmit while pending (the earlier
// claim is rejected); the opposing side must confirm or dispute instead.
func (s *VerificationService) SubmitResult(ctx context.Context, actorID, matchID int, input SubmitResultInput) (*models.ResultSubmission, error) {
	s.locks.Lock(matchID)
	defer s.locks.Unlock(matchID)

	var (
		sub      *models.ResultSubmission
		opponent *int
	)
	err := s.txr.InTx(ctx, func(tx repositories.SQLExecutor) error {
		match, stage, err := s.loadMatchStage(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if err := checkSubmittable(stage, match, actorID); err != nil {
			return err
		}
		if err := validateResult(stage, match, input.ClaimedWinnerID, &input.Payload); err != nil {
			return err
		}

		if match.State == models.MatchStatePendingConfirmation {
			pending, err := s.pendingSubmission(ctx, tx, matchID)
			if err != nil {
				return err
			}
			if pending == nil {
				return fmt.Errorf("%w: match %d pending without a submission", ErrIntegrity, matchID)
			}
			if pending.SubmitterID != actorID {
				return ErrConflictingSubmission
			}
			// Same side correcting their claim; the earlier one is discarded.
			if err := s.submissionRepo.UpdateState(ctx, tx, pending.ID, models.SubmissionPending, models.SubmissionRejected); err != nil {
				return err
			}
		}

		deadline := time.Now().Add(stage.Settings.AutoConfirmWindow())
		sub = &models.ResultSubmission{
			MatchID:         matchID,
			SubmitterID:     actorID,
			ClaimedWinnerID: input.ClaimedWinnerID,
			Payload:         input.Payload,
			ProofKey:        input.ProofKey,
			State:           models.SubmissionPending,
			AutoConfirmAt:   &deadline,
		}
		if err := s.submissionRepo.Create(ctx, tx, sub); err != nil {
			return err
		}

		if match.State == models.MatchStateAwaitingSubmission {
			if err := s.transition(ctx, tx, match, models.MatchStatePendingConfirmation, &actorID, "result submitted"); err != nil {
				return err
			}
		}
		opponent = match.Opponent(actorID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opponent != nil {
		s.notifyAsync(*opponent, notify.TemplateResultSubmitted, map[string]interface{}{
			"match_id": matchID, "submission_id": sub.ID,
		})
	}
	return sub, nil
}

// ConfirmResult accepts the pending claim from the opposing side. With
// mandatory organizer review configured the match parks UnderReview instead
// of finalizing. Confirming an already finalized match is a no-op returning
// the finalized row.
func (s *VerificationService) ConfirmResult(ctx context.Context, actorID, matchID int) (*models.Match, error) {
	s.locks.Lock(matchID)
	defer s.locks.Unlock(matchID)

	var (
		result  *models.Match
		effects *finalizeEffects
	)
	err := s.txr.InTx(ctx, func(tx repositories.SQLExecutor) error {
		match, stage, err := s.loadMatchStage(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if match.State == models.MatchStateCompleted {
			result = match
			return nil
		}
		if stage.State != models.StageStateActive {
			return ErrStageNotActive
		}
		if match.State != models.MatchStatePendingConfirmation {
			return ErrMatchNotPending
		}
		pending, err := s.pendingSubmission(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if pending == nil {
			return ErrMatchNotPending
		}
		if pending.SubmitterID == actorID {
			return ErrOwnSubmission
		}
		if !match.HasParticipant(actorID) {
			return ErrNotMatchParticipant
		}

		if err := s.submissionRepo.UpdateState(ctx, tx, pending.ID, models.SubmissionPending, models.SubmissionConfirmed); err != nil {
			return err
		}
		pending.State = models.SubmissionConfirmed

		if stage.Settings.RequireOrganizerReview {
			if err := s.transition(ctx, tx, match, models.MatchStateUnderReview, &actorID, "confirmed, awaiting organizer review"); err != nil {
				return err
			}
			result = match
			return nil
		}

		effects, err = s.finalizeTx(ctx, tx, stage, match, pending.ClaimedWinnerID, &pending.Payload, pending, &actorID, "confirmed by opponent")
		if err != nil {
			return err
		}
		result = effects.match
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(effects)
	return result, nil
}

// DisputeResult challenges the pending claim. Per the workflow, a dispute
// moves the match through Disputed straight into UnderReview.
func (s *VerificationService) DisputeResult(ctx context.Context, actorID, matchID int, input DisputeInput) (*models.Dispute, error) {
	if len(strings.TrimSpace(input.Explanation)) < models.MinDisputeExplanation {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrExplanationTooShort, models.MinDisputeExplanation)
	}

	s.locks.Lock(matchID)
	defer s.locks.Unlock(matchID)

	var (
		dispute   *models.Dispute
		submitter int
	)
	err := s.txr.InTx(ctx, func(tx repositories.SQLExecutor) error {
		match, stage, err := s.loadMatchStage(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if match.State == models.MatchStateCompleted || match.State == models.MatchStateVoided {
			return ErrMatchAlreadyFinalized
		}
		if stage.State != models.StageStateActive {
			return ErrStageNotActive
		}
		if match.State != models.MatchStatePendingConfirmation {
			return ErrMatchNotPending
		}
		pending, err := s.pendingSubmission(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if pending == nil {
			return ErrMatchNotPending
		}
		if pending.SubmitterID == actorID {
			return ErrOwnSubmission
		}
		if !match.HasParticipant(actorID) {
			return ErrNotMatchParticipant
		}
		if input.CounterWinnerID != nil && input.CounterPayload != nil {
			if err := validateResult(stage, match, *input.CounterWinnerID, input.CounterPayload); err != nil {
				return err
			}
		}

		dispute = &models.Dispute{
			SubmissionID:    pending.ID,
			MatchID:         matchID,
			DisputerID:      actorID,
			Reason:          input.Reason,
			Explanation:     input.Explanation,
			CounterWinnerID: input.CounterWinnerID,
			CounterPayload:  input.CounterPayload,
			CounterProofKey: input.CounterProofKey,
		}
		if err := s.disputeRepo.Create(ctx, tx, dispute); err != nil {
			return err
		}
		if err := s.submissionRepo.UpdateState(ctx, tx, pending.ID, models.SubmissionPending, models.SubmissionDisputed); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, match, models.MatchStateDisputed, &actorID, "result disputed: "+input.Reason); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, match, models.MatchStateUnderReview, nil, "escalated to organizer review"); err != nil {
			return err
		}
		submitter = pending.SubmitterID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyAsync(submitter, notify.TemplateResultDisputed, map[string]interface{}{
		"match_id": matchID, "dispute_id": dispute.ID,
	})
	return dispute, nil
}

// ResolveDispute is the organizer's adjudication of a match UnderReview.
// With no open dispute (mandatory-review confirmations) only ApproveOriginal
// and OrderRematch apply.
func (s *VerificationService) ResolveDispute(ctx context.Context, organizerID, matchID int, input ResolveInput) (*models.Match, error) {
	s.locks.Lock(matchID)
	defer s.locks.Unlock(matchID)

	var (
		result  *models.Match
		effects *finalizeEffects
		rematch *models.Match
		sides   []int
	)
	err := s.txr.InTx(ctx, func(tx repositories.SQLExecutor) error {
		match, stage, err := s.loadMatchStage(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if match.State != models.MatchStateUnderReview {
			return ErrMatchNotUnderReview
		}

		dispute, err := s.disputeRepo.GetOpenByMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}

		var subject *models.ResultSubmission
		if dispute != nil {
			subject, err = s.submissionRepo.GetByID(ctx, tx, dispute.SubmissionID)
		} else {
			subject, err = s.confirmedSubmission(ctx, tx, matchID)
		}
		if err != nil {
			return err
		}
		if subject == nil {
			return fmt.Errorf("%w: match %d under review without a submission", ErrIntegrity, matchID)
		}

		switch input.Decision {
		case models.ResolutionApproveOriginal:
			effects, err = s.finalizeTx(ctx, tx, stage, match, subject.ClaimedWinnerID, &subject.Payload, subject, &organizerID, "organizer approved original result")
			if err != nil {
				return err
			}
			if dispute != nil {
				if err := s.disputeRepo.Resolve(ctx, tx, dispute.ID, models.ResolutionApproveOriginal, input.Note, organizerID); err != nil {
					return err
				}
			}
			result = effects.match
			return nil

		case models.ResolutionApproveDispute:
			if dispute == nil {
				return ErrDisputeNotFound
			}
			if dispute.CounterWinnerID == nil || dispute.CounterPayload == nil {
				ve := newValidationError()
				ve.Fields["decision"] = "dispute carries no counter result to approve"
				return ve
			}
			effects, err = s.finalizeTx(ctx, tx, stage, match, *dispute.CounterWinnerID, dispute.CounterPayload, nil, &organizerID, "organizer approved disputed counter result")
			if err != nil {
				return err
			}
			if err := s.disputeRepo.Resolve(ctx, tx, dispute.ID, models.ResolutionApproveDispute, input.Note, organizerID); err != nil {
				return err
			}
			result = effects.match
			return nil

		case models.ResolutionOrderRematch:
			rematch, err = s.orderRematch(ctx, tx, match, organizerID)
			if err != nil {
				return err
			}
			if dispute != nil {
				if err := s.disputeRepo.Resolve(ctx, tx, dispute.ID, models.ResolutionOrderRematch, input.Note, organizerID); err != nil {
					return err
				}
			}
			for _, pid := range []*int{match.Slot1ID, match.Slot2ID} {
				if pid != nil {
					sides = append(sides, *pid)
				}
			}
			result = rematch
			return nil

		case models.ResolutionRequestMoreInfo:
			if dispute == nil {
				return ErrDisputeNotFound
			}
			if input.Note == nil || strings.TrimSpace(*input.Note) == "" {
				ve := newValidationError()
				ve.Fields["note"] = "request_more_info requires a note"
				return ve
			}
			if err := s.disputeRepo.AddNote(ctx, tx, dispute.ID, *input.Note); err != nil {
				return err
			}
			result = match
			return nil
		}
		return ErrUnknownResolveDecision
	})
	if err != nil {
		return nil, err
	}

	s.publish(effects)
	if rematch != nil {
		for _, pid := range sides {
			s.notifyAsync(pid, notify.TemplateRematchOrdered, map[string]interface{}{
				"match_id": matchID, "rematch_id": rematch.ID,
			})
		}
	}
	return result, nil
}

// orderRematch voids the reviewed match and creates a fresh one in its
// bracket position. History of the voided attempt is retained.
func (s *VerificationService) orderRematch(ctx context.Context, tx repositories.SQLExecutor, match *models.Match, organizerID int) (*models.Match, error) {
	if err := s.transition(ctx, tx, match, models.MatchStateVoided, &organizerID, "rematch ordered"); err != nil {
		return nil, err
	}
	if err := s.submissionRepo.RejectOthers(ctx, tx, match.ID, 0); err != nil {
		return nil, err
	}

	rematch := &models.Match{
		StageID:            match.StageID,
		GroupID:            match.GroupID,
		Round:              match.Round,
		OrderInRound:       match.OrderInRound,
		BracketUID:         fmt.Sprintf("%s-r%s", match.BracketUID, uuid.NewString()[:8]),
		Side:               match.Side,
		Slot1ID:            match.Slot1ID,
		Slot2ID:            match.Slot2ID,
		NextMatchID:        match.NextMatchID,
		NextMatchSlot:      match.NextMatchSlot,
		LoserNextMatchID:   match.LoserNextMatchID,
		LoserNextMatchSlot: match.LoserNextMatchSlot,
		State:              models.MatchStateAwaitingSubmission,
		RematchOfID:        &match.ID,
	}
	if err := s.matchRepo.Create(ctx, tx, rematch); err != nil {
		return nil, mapMatchRepoError(err)
	}
	return rematch, nil
}

// OverrideResult is the organizer's manual entry path, bypassing participant
// confirmation. A match already under review must go through ResolveDispute
// instead. Always logged with the supplied reason.
func (s *VerificationService) OverrideResult(ctx context.Context, organizerID, matchID int, input OverrideInput) (*models.Match, error) {
	if strings.TrimSpace(input.Reason) == "" {
		ve := newValidationError()
		ve.Fields["reason"] = "override requires a reason"
		return nil, ve
	}

	s.locks.Lock(matchID)
	defer s.locks.Unlock(matchID)

	var effects *finalizeEffects
	err := s.txr.InTx(ctx, func(tx repositories.SQLExecutor) error {
		match, stage, err := s.loadMatchStage(ctx, tx, matchID)
		if err != nil {
			return err
		}
		switch match.State {
		case models.MatchStateAwaitingSubmission, models.MatchStatePendingConfirmation:
		case models.MatchStateCompleted, models.MatchStateVoided:
			return ErrMatchAlreadyFinalized
		default:
			return ErrStateConflict
		}
		if stage.State != models.StageStateActive {
			return ErrStageNotActive
		}
		if match.IsBye || match.Slot1ID == nil || match.Slot2ID == nil {
			return ErrMatchNotAwaitingResult
		}
		if err := validateResult(stage, match, input.WinnerID, &input.Payload); err != nil {
			return err
		}
		effects, err = s.finalizeTx(ctx, tx, stage, match, input.WinnerID, &input.Payload, nil, &organizerID, "organizer override: "+input.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(effects)
	return effects.match, nil
}

// RunAutoConfirmSweep confirms submissions whose deadline passed with no
// reaction from the opposing side. State is re-checked under the match lock
// immediately before each transition, so a manual confirm or dispute that
// races the sweep always wins.
func (s *VerificationService) RunAutoConfirmSweep(ctx context.Context, limit int) (int, error) {
	expired, err := s.submissionRepo.ListExpired(ctx, nil, time.Now(), limit)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for _, sub := range expired {
		if err := s.autoConfirmOne(ctx, sub.ID, sub.MatchID); err != nil {
			s.logger.Error("auto-confirm failed",
				slog.Int("submission_id", sub.ID),
				slog.Int("match_id", sub.MatchID),
				slog.String("error", err.Error()))
			continue
		}
		confirmed++
	}
	return confirmed, nil
}

func (s *VerificationService) autoConfirmOne(ctx context.Context, submissionID, matchID int) error {
	s.locks.Lock(matchID)
	defer s.locks.Unlock(matchID)

	var effects *finalizeEffects
	err := s.txr.InTx(ctx, func(tx repositories.SQLExecutor) error {
		sub, err := s.submissionRepo.GetByID(ctx, tx, submissionID)
		if err != nil {
			return err
		}
		if sub.State != models.SubmissionPending {
			// Someone confirmed or disputed while the sweep was queued.
			return nil
		}
		match, stage, err := s.loadMatchStage(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if match.State != models.MatchStatePendingConfirmation {
			return nil
		}

		if err := s.submissionRepo.UpdateState(ctx, tx, sub.ID, models.SubmissionPending, models.SubmissionConfirmed); err != nil {
			return err
		}
		sub.State = models.SubmissionConfirmed

		if stage.Settings.RequireOrganizerReview {
			return s.transition(ctx, tx, match, models.MatchStateUnderReview, nil, "auto-confirmed on timeout, awaiting organizer review")
		}

		effects, err = s.finalizeTx(ctx, tx, stage, match, sub.ClaimedWinnerID, &sub.Payload, sub, nil, "auto-confirmed on timeout")
		return err
	})
	if err != nil {
		return err
	}
	s.publish(effects)
	return nil
}

// GetMatchHistory returns the audit trail of one match's transitions.
func (s *VerificationService) GetMatchHistory(ctx context.Context, matchID int) ([]*models.MatchTransition, error) {
	if _, err := s.matchRepo.GetByID(ctx, nil, matchID); err != nil {
		return nil, mapMatchRepoError(err)
	}
	return s.transitionRepo.ListByMatch(ctx, nil, matchID)
}

type finalizeEffects struct {
	match   *models.Match
	event   *models.MatchCompletedEvent
	outcome *ProgressionOutcome
}

// finalizeTx commits the definitive result inside the caller's transaction:
// terminal match write, submission approval, sibling rejection, audit entry,
// then bracket progression. claimedWinnerID 0 records a draw.
func (s *VerificationService) finalizeTx(ctx context.Context, tx repositories.SQLExecutor, stage *models.Stage, match *models.Match, claimedWinnerID int, payload *models.ResultPayload, approved *models.ResultSubmission, actorID *int, reason string) (*finalizeEffects, error) {
	fromState := match.State
	match.State = models.MatchStateCompleted
	match.WinnerID = winnerPtr(claimedWinnerID)
	match.Result = payload
	match.FinalizeSeq++

	if err := s.matchRepo.Finalize(ctx, tx, match); err != nil {
		if errors.Is(err, repositories.ErrMatchStaleWrite) {
			return nil, ErrMatchAlreadyFinalized
		}
		return nil, err
	}

	approvedID := 0
	if approved != nil {
		if err := s.submissionRepo.UpdateState(ctx, tx, approved.ID, approved.State, models.SubmissionApproved); err != nil {
			return nil, err
		}
		approvedID = approved.ID
	}
	if err := s.submissionRepo.RejectOthers(ctx, tx, match.ID, approvedID); err != nil {
		return nil, err
	}
	if err := s.transitionRepo.Append(ctx, tx, &models.MatchTransition{
		MatchID:   match.ID,
		ActorID:   actorID,
		FromState: fromState,
		ToState:   models.MatchStateCompleted,
		Reason:    reason,
	}); err != nil {
		return nil, err
	}

	outcome, err := s.progression.OnMatchFinalized(ctx, tx, stage, match)
	if err != nil {
		return nil, err
	}

	event := &models.MatchCompletedEvent{
		IdempotencyKey: models.MatchEventKey(match.ID, match.FinalizeSeq),
		TournamentID:   stage.TournamentID,
		StageID:        stage.ID,
		MatchID:        match.ID,
		WinnerID:       claimedWinnerID,
		LoserID:        match.LoserID(),
		Result:         *payload,
		CompletedAt:    time.Now(),
	}
	return &finalizeEffects{match: match, event: event, outcome: outcome}, nil
}

// publish emits post-commit events. Safe to call with nil effects (paths
// that did not finalize anything).
func (s *VerificationService) publish(effects *finalizeEffects) {
	if effects == nil {
		return
	}
	s.publisher.PublishMatchCompleted(*effects.event)
	if effects.outcome != nil && effects.outcome.StageEvent != nil {
		s.publisher.PublishStageCompleted(*effects.outcome.StageEvent)
	}
}

// transition applies a guarded state change and records it in the audit log.
func (s *VerificationService) transition(ctx context.Context, tx repositories.SQLExecutor, match *models.Match, to models.MatchState, actorID *int, reason string) error {
	from := match.State
	if err := s.matchRepo.UpdateState(ctx, tx, match.ID, from, to); err != nil {
		if errors.Is(err, repositories.ErrMatchStaleWrite) {
			return ErrStateConflict
		}
		return err
	}
	match.State = to
	return s.transitionRepo.Append(ctx, tx, &models.MatchTransition{
		MatchID:   match.ID,
		ActorID:   actorID,
		FromState: from,
		ToState:   to,
		Reason:    reason,
	})
}

func (s *VerificationService) loadMatchStage(ctx context.Context, tx repositories.SQLExecutor, matchID int) (*models.Match, *models.Stage, error) {
	match, err := s.matchRepo.GetByID(ctx, tx, matchID)
	if err != nil {
		return nil, nil, mapMatchRepoError(err)
	}
	stage, err := s.stageRepo.GetByID(ctx, tx, match.StageID)
	if err != nil {
		return nil, nil, mapStageRepoError(err)
	}
	return match, stage, nil
}

func checkSubmittable(stage *models.Stage, match *models.Match, actorID int) error {
	if stage.State != models.StageStateActive {
		if stage.State == models.StageStateCompleted {
			return ErrStageAlreadyCompleted
		}
		return ErrStageNotActive
	}
	switch match.State {
	case models.MatchStateCompleted, models.MatchStateVoided:
		return ErrMatchAlreadyFinalized
	case models.MatchStateDisputed, models.MatchStateUnderReview:
		return ErrStateConflict
	}
	if match.IsBye || match.Slot1ID == nil || match.Slot2ID == nil {
		return ErrMatchNotAwaitingResult
	}
	if !match.HasParticipant(actorID) {
		return ErrNotMatchParticipant
	}
	return nil
}

// pendingSubmission returns the latest pending submission of a match, nil
// when there is none.
func (s *VerificationService) pendingSubmission(ctx context.Context, tx repositories.SQLExecutor, matchID int) (*models.ResultSubmission, error) {
	subs, err := s.submissionRepo.ListByMatch(ctx, tx, matchID)
	if err != nil {
		return nil, err
	}
	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i].State == models.SubmissionPending {
			return subs[i], nil
		}
	}
	return nil, nil
}

func (s *VerificationService) confirmedSubmission(ctx context.Context, tx repositories.SQLExecutor, matchID int) (*models.ResultSubmission, error) {
	subs, err := s.submissionRepo.ListByMatch(ctx, tx, matchID)
	if err != nil {
		return nil, err
	}
	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i].State == models.SubmissionConfirmed {
			return subs[i], nil
		}
	}
	return nil, nil
}

// notifyAsync fires a notification outside any lock or transaction; delivery
// failures are logged, never surfaced.
func (s *VerificationService) notifyAsync(recipientID int, template notify.Template, data map[string]interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, recipientID, template, data); err != nil {
			s.logger.Warn("notification delivery failed",
				slog.Int("recipient", recipientID),
				slog.String("template", string(template)),
				slog.String("error", err.Error()))
		}
	}()
}

// validateResult enforces the stage's result schema: numeric ranges and
// winner-score consistency. Violations come back as a field-level error
// list, never silently coerced.
func validateResult(stage *models.Stage, match *models.Match, claimedWinnerID int, payload *models.ResultPayload) error {
	ve := newValidationError()

	checkScore := func(field string, v int) {
		if v < 0 {
			ve.Fields[field] = "must be >= 0"
		} else if stage.Settings.MaxScore > 0 && v > stage.Settings.MaxScore {
			ve.Fields[field] = fmt.Sprintf("must be <= %d", stage.Settings.MaxScore)
		}
	}
	checkScore("payload.score1", payload.Score1)
	checkScore("payload.score2", payload.Score2)
	for i, g := range payload.Games {
		checkScore(fmt.Sprintf("payload.games[%d].score1", i), g.Score1)
		checkScore(fmt.Sprintf("payload.games[%d].score2", i), g.Score2)
	}

	isElimination := stage.Format == models.FormatSingleElimination || stage.Format == models.FormatDoubleElimination
	if claimedWinnerID == 0 {
		switch {
		case isElimination || !stage.Settings.AllowDraws:
			ve.Fields["claimed_winner_id"] = "draws are not allowed in this stage"
		case payload.Score1 != payload.Score2:
			ve.Fields["claimed_winner_id"] = "a draw requires level scores"
		}
	} else {
		if !match.HasParticipant(claimedWinnerID) {
			ve.Fields["claimed_winner_id"] = "winner must be a participant of the match"
		} else if payload.Score1 != payload.Score2 {
			higher := match.Slot1ID
			if payload.Score2 > payload.Score1 {
				higher = match.Slot2ID
			}
			if higher != nil && *higher != claimedWinnerID {
				ve.Fields["claimed_winner_id"] = "winner is inconsistent with the reported scores"
			}
		} else if len(payload.Games) == 0 {
			ve.Fields["payload"] = "level scores need game details or a draw"
		}
	}

	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func winnerPtr(claimedWinnerID int) *int {
	if claimedWinnerID == 0 {
		return nil
	}
	return &claimedWinnerID
}
