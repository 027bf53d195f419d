package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dosada05/format-engine/models"
)

func singleMatchStage(t *testing.T, env *testEnv, settings models.StageSettings) (*models.Stage, *models.Match) {
	t.Helper()
	stage := env.createStage(t, CreateStageInput{
		TournamentID:   1,
		Name:           "Final",
		Order:          1,
		Format:         models.FormatSingleElimination,
		Settings:       settings,
		ParticipantIDs: []int{1, 2},
	})
	open := env.openMatches(t, stage.ID)
	if len(open) != 1 {
		t.Fatalf("expected a single open match, got %d", len(open))
	}
	return stage, open[0]
}

func TestSubmitConfirmFinalize(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	stage, match := singleMatchStage(t, env, models.StageSettings{})

	sub, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 2, Score2: 1},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.State != models.SubmissionPending || sub.AutoConfirmAt == nil {
		t.Fatalf("submission not pending with a deadline: %+v", sub)
	}
	if got := env.getMatch(t, match.ID).State; got != models.MatchStatePendingConfirmation {
		t.Fatalf("expected pending_confirmation, got %s", got)
	}

	finalized, err := env.verification.ConfirmResult(ctx, 2, match.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if finalized.State != models.MatchStateCompleted || finalized.WinnerID == nil || *finalized.WinnerID != 1 {
		t.Fatalf("match not finalized for winner 1: %+v", finalized)
	}

	stored, err := env.subRepo.GetByID(ctx, nil, sub.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if stored.State != models.SubmissionApproved {
		t.Errorf("expected approved submission, got %s", stored.State)
	}

	// The only match closed out the stage.
	if got := env.getStage(t, stage.ID).State; got != models.StageStateCompleted {
		t.Errorf("expected completed stage, got %s", got)
	}
	if env.publisher.matchEventCount() != 1 || env.publisher.stageEventCount() != 1 {
		t.Errorf("expected 1 match and 1 stage event, got %d and %d",
			env.publisher.matchEventCount(), env.publisher.stageEventCount())
	}
}

func TestConfirmIsIdempotentAfterFinalize(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, match := singleMatchStage(t, env, models.StageSettings{})

	if _, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.verification.ConfirmResult(ctx, 2, match.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	again, err := env.verification.ConfirmResult(ctx, 2, match.ID)
	if err != nil {
		t.Fatalf("repeated confirm should be a no-op, got %v", err)
	}
	if again.State != models.MatchStateCompleted {
		t.Fatalf("expected the finalized match back, got %s", again.State)
	}
	if env.publisher.matchEventCount() != 1 {
		t.Errorf("repeated confirm published a second event")
	}
}

func TestSubmitPermissionsAndConflicts(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, match := singleMatchStage(t, env, models.StageSettings{})

	if _, err := env.verification.SubmitResult(ctx, 7, match.ID, SubmitResultInput{
		ClaimedWinnerID: 7,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	}); !errors.Is(err, ErrNotMatchParticipant) {
		t.Fatalf("outsider submit: expected ErrNotMatchParticipant, got %v", err)
	}

	first, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The opposing side must confirm or dispute, never counter-submit.
	if _, err := env.verification.SubmitResult(ctx, 2, match.ID, SubmitResultInput{
		ClaimedWinnerID: 2,
		Payload:         models.ResultPayload{Score1: 0, Score2: 1},
	}); !errors.Is(err, ErrConflictingSubmission) {
		t.Fatalf("opponent submit: expected ErrConflictingSubmission, got %v", err)
	}

	// The same side may correct their claim; the earlier one is discarded.
	second, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 2, Score2: 0},
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	replaced, err := env.subRepo.GetByID(ctx, nil, first.ID)
	if err != nil {
		t.Fatalf("get first submission: %v", err)
	}
	if replaced.State != models.SubmissionRejected {
		t.Errorf("superseded submission should be rejected, got %s", replaced.State)
	}
	if second.State != models.SubmissionPending {
		t.Errorf("replacement submission should be pending, got %s", second.State)
	}
}

func TestConfirmRejectsSubmitter(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, match := singleMatchStage(t, env, models.StageSettings{})

	if _, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := env.verification.ConfirmResult(ctx, 1, match.ID); !errors.Is(err, ErrOwnSubmission) {
		t.Fatalf("expected ErrOwnSubmission, got %v", err)
	}
	if _, err := env.verification.ConfirmResult(ctx, 9, match.ID); !errors.Is(err, ErrNotMatchParticipant) {
		t.Fatalf("expected ErrNotMatchParticipant, got %v", err)
	}
}

func TestDisputeEscalatesToReview(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, match := singleMatchStage(t, env, models.StageSettings{})

	if _, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 2, Score2: 1},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := env.verification.DisputeResult(ctx, 2, match.ID, DisputeInput{
		Reason:      "wrong score",
		Explanation: "short",
	}); !errors.Is(err, ErrExplanationTooShort) {
		t.Fatalf("expected ErrExplanationTooShort, got %v", err)
	}

	counterWinner := 2
	dispute, err := env.verification.DisputeResult(ctx, 2, match.ID, DisputeInput{
		Reason:          "wrong score",
		Explanation:     "the reported score is backwards, I won the last game",
		CounterWinnerID: &counterWinner,
		CounterPayload:  &models.ResultPayload{Score1: 1, Score2: 2},
	})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if dispute.Resolution != nil {
		t.Fatal("fresh dispute should be open")
	}
	if got := env.getMatch(t, match.ID).State; got != models.MatchStateUnderReview {
		t.Fatalf("dispute should park the match under review, got %s", got)
	}

	// Nobody can pile on while the organizer reviews.
	if _, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 2, Score2: 1},
	}); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict while under review, got %v", err)
	}
}

func TestResolveApproveDispute(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	stage := env.createStage(t, CreateStageInput{
		TournamentID:   1,
		Name:           "Playoffs",
		Order:          1,
		Format:         models.FormatSingleElimination,
		ParticipantIDs: []int{1, 2, 3, 4},
	})
	open := env.openMatches(t, stage.ID)
	match := open[0] // 1 vs 4

	sub, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 2, Score2: 1},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	counterWinner := 4
	if _, err := env.verification.DisputeResult(ctx, 4, match.ID, DisputeInput{
		Reason:          "score reversed",
		Explanation:     "the final game went to me, the claim has it backwards",
		CounterWinnerID: &counterWinner,
		CounterPayload:  &models.ResultPayload{Score1: 1, Score2: 2},
	}); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	resolved, err := env.verification.ResolveDispute(ctx, 99, match.ID, ResolveInput{
		Decision: models.ResolutionApproveDispute,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.WinnerID == nil || *resolved.WinnerID != 4 {
		t.Fatalf("expected the counter claim to win, got %+v", resolved.WinnerID)
	}

	original, err := env.subRepo.GetByID(ctx, nil, sub.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if original.State != models.SubmissionRejected {
		t.Errorf("original claim should be rejected, got %s", original.State)
	}

	openDispute, err := env.disputeRepo.GetOpenByMatch(ctx, nil, match.ID)
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if openDispute != nil {
		t.Error("dispute should be closed after resolution")
	}

	// The adjudicated winner advanced into the next round.
	next := env.getMatch(t, *resolved.NextMatchID)
	if next.Slot1ID == nil || *next.Slot1ID != 4 {
		t.Errorf("winner 4 should occupy the next match, got %+v", next.Slot1ID)
	}
}

func TestResolveRequiresReviewState(t *testing.T) {
	env := newTestEnv()
	_, match := singleMatchStage(t, env, models.StageSettings{})

	_, err := env.verification.ResolveDispute(context.Background(), 99, match.ID, ResolveInput{
		Decision: models.ResolutionApproveOriginal,
	})
	if !errors.Is(err, ErrMatchNotUnderReview) {
		t.Fatalf("expected ErrMatchNotUnderReview, got %v", err)
	}
}

func TestResolveUnknownDecision(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, match := singleMatchStage(t, env, models.StageSettings{})

	if _, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.verification.DisputeResult(ctx, 2, match.ID, DisputeInput{
		Reason:      "wrong",
		Explanation: "this result does not match what actually happened",
	}); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	_, err := env.verification.ResolveDispute(ctx, 99, match.ID, ResolveInput{Decision: "split_the_difference"})
	if !errors.Is(err, ErrUnknownResolveDecision) {
		t.Fatalf("expected ErrUnknownResolveDecision, got %v", err)
	}
}

func TestOrderRematchVoidsAndRecreates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	stage, match := singleMatchStage(t, env, models.StageSettings{})

	if _, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.verification.DisputeResult(ctx, 2, match.ID, DisputeInput{
		Reason:      "irregularity",
		Explanation: "the match was interrupted and finished under protest",
	}); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	rematch, err := env.verification.ResolveDispute(ctx, 99, match.ID, ResolveInput{
		Decision: models.ResolutionOrderRematch,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rematch.ID == match.ID {
		t.Fatal("rematch should be a fresh match")
	}
	if rematch.RematchOfID == nil || *rematch.RematchOfID != match.ID {
		t.Errorf("rematch should link back to the voided match")
	}
	if rematch.State != models.MatchStateAwaitingSubmission {
		t.Errorf("rematch should await submissions, got %s", rematch.State)
	}
	if got := env.getMatch(t, match.ID).State; got != models.MatchStateVoided {
		t.Errorf("original match should be voided, got %s", got)
	}
	// Voided attempts keep the stage open; no events were published.
	if got := env.getStage(t, stage.ID).State; got != models.StageStateActive {
		t.Errorf("stage should stay active, got %s", got)
	}
	if env.publisher.matchEventCount() != 0 {
		t.Errorf("a rematch order should publish no completion event")
	}

	// The replay runs through the normal flow.
	if _, err := env.verification.SubmitResult(ctx, 2, rematch.ID, SubmitResultInput{
		ClaimedWinnerID: 2,
		Payload:         models.ResultPayload{Score1: 0, Score2: 1},
	}); err != nil {
		t.Fatalf("submit on rematch: %v", err)
	}
	if _, err := env.verification.ConfirmResult(ctx, 1, rematch.ID); err != nil {
		t.Fatalf("confirm on rematch: %v", err)
	}
	if got := env.getStage(t, stage.ID).State; got != models.StageStateCompleted {
		t.Errorf("stage should complete after the replay, got %s", got)
	}
}

func TestOverrideResult(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, match := singleMatchStage(t, env, models.StageSettings{})

	if _, err := env.verification.OverrideResult(ctx, 99, match.ID, OverrideInput{
		WinnerID: 2,
		Payload:  models.ResultPayload{Score1: 0, Score2: 1},
	}); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("override without a reason: expected validation error, got %v", err)
	}

	pending, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	result, err := env.verification.OverrideResult(ctx, 99, match.ID, OverrideInput{
		WinnerID: 2,
		Payload:  models.ResultPayload{Score1: 0, Score2: 1},
		Reason:   "opponent no-show confirmed by stream footage",
	})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if result.WinnerID == nil || *result.WinnerID != 2 {
		t.Fatalf("expected winner 2, got %+v", result.WinnerID)
	}

	overruled, err := env.subRepo.GetByID(ctx, nil, pending.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if overruled.State != models.SubmissionRejected {
		t.Errorf("overridden match should reject the pending claim, got %s", overruled.State)
	}

	history, err := env.verification.GetMatchHistory(ctx, match.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := history[len(history)-1]
	if last.ToState != models.MatchStateCompleted || last.ActorID == nil || *last.ActorID != 99 {
		t.Errorf("override should be audited with the acting organizer: %+v", last)
	}

	if _, err := env.verification.OverrideResult(ctx, 99, match.ID, OverrideInput{
		WinnerID: 1,
		Payload:  models.ResultPayload{Score1: 1, Score2: 0},
		Reason:   "changed my mind",
	}); !errors.Is(err, ErrMatchAlreadyFinalized) {
		t.Fatalf("second override: expected ErrMatchAlreadyFinalized, got %v", err)
	}
}

func TestMandatoryReviewParksConfirmedResult(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, match := singleMatchStage(t, env, models.StageSettings{RequireOrganizerReview: true})

	if _, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	parked, err := env.verification.ConfirmResult(ctx, 2, match.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if parked.State != models.MatchStateUnderReview {
		t.Fatalf("expected under_review, got %s", parked.State)
	}
	if env.publisher.matchEventCount() != 0 {
		t.Fatal("nothing should be published before the organizer signs off")
	}

	final, err := env.verification.ResolveDispute(ctx, 99, match.ID, ResolveInput{
		Decision: models.ResolutionApproveOriginal,
	})
	if err != nil {
		t.Fatalf("approve original: %v", err)
	}
	if final.State != models.MatchStateCompleted || *final.WinnerID != 1 {
		t.Fatalf("expected the confirmed claim to finalize, got %+v", final)
	}
	if env.publisher.matchEventCount() != 1 {
		t.Errorf("expected exactly one completion event after review")
	}
}

func TestValidateResultRejections(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, match := singleMatchStage(t, env, models.StageSettings{MaxScore: 10})

	cases := []struct {
		name  string
		input SubmitResultInput
	}{
		{"negative score", SubmitResultInput{ClaimedWinnerID: 1, Payload: models.ResultPayload{Score1: -1, Score2: 0}}},
		{"score above cap", SubmitResultInput{ClaimedWinnerID: 1, Payload: models.ResultPayload{Score1: 11, Score2: 0}}},
		{"draw in elimination", SubmitResultInput{ClaimedWinnerID: 0, Payload: models.ResultPayload{Score1: 1, Score2: 1}}},
		{"winner not in match", SubmitResultInput{ClaimedWinnerID: 5, Payload: models.ResultPayload{Score1: 1, Score2: 0}}},
		{"winner contradicts scores", SubmitResultInput{ClaimedWinnerID: 1, Payload: models.ResultPayload{Score1: 0, Score2: 3}}},
		{"level scores without games", SubmitResultInput{ClaimedWinnerID: 1, Payload: models.ResultPayload{Score1: 2, Score2: 2}}},
	}
	for _, tc := range cases {
		if _, err := env.verification.SubmitResult(ctx, 1, match.ID, tc.input); !errors.Is(err, ErrValidationFailed) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	// Level aggregate scores are fine when per-game detail backs the winner.
	if _, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload: models.ResultPayload{
			Score1: 1, Score2: 1,
			Games: []models.GameScore{{Score1: 10, Score2: 5}, {Score1: 4, Score2: 9}},
		},
	}); err != nil {
		t.Fatalf("tied aggregate with games should pass: %v", err)
	}
}

func TestAutoConfirmSweep(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	stage, match := singleMatchStage(t, env, models.StageSettings{})

	sub, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Nothing expires yet.
	confirmed, err := env.verification.RunAutoConfirmSweep(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if confirmed != 0 {
		t.Fatalf("expected no expirations, got %d", confirmed)
	}

	expireSubmission(env, sub.ID)

	confirmed, err = env.verification.RunAutoConfirmSweep(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if confirmed != 1 {
		t.Fatalf("expected 1 auto-confirmation, got %d", confirmed)
	}
	if got := env.getMatch(t, match.ID).State; got != models.MatchStateCompleted {
		t.Fatalf("expected completed match, got %s", got)
	}
	if got := env.getStage(t, stage.ID).State; got != models.StageStateCompleted {
		t.Errorf("expected completed stage, got %s", got)
	}
	if env.publisher.matchEventCount() != 1 {
		t.Errorf("expected one completion event, got %d", env.publisher.matchEventCount())
	}

	history, err := env.verification.GetMatchHistory(ctx, match.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := history[len(history)-1]
	if last.ActorID != nil {
		t.Errorf("auto-confirm should be recorded without an actor: %+v", last)
	}
}

// A sweep entry whose match moved on while the sweep was queued is skipped
// without touching anything.
func TestAutoConfirmLosesRaceQuietly(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, match := singleMatchStage(t, env, models.StageSettings{})

	sub, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	expireSubmission(env, sub.ID)

	// The opponent disputes between the expiry query and the per-match lock.
	if _, err := env.verification.DisputeResult(ctx, 2, match.ID, DisputeInput{
		Reason:      "wrong result",
		Explanation: "that score is not what happened in our series",
	}); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	if _, err := env.verification.RunAutoConfirmSweep(ctx, 10); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := env.getMatch(t, match.ID).State; got != models.MatchStateUnderReview {
		t.Fatalf("sweep must not override the dispute, got %s", got)
	}
	if env.publisher.matchEventCount() != 0 {
		t.Errorf("no event should be published for the lost race")
	}
}

// expireSubmission backdates a pending submission's confirmation deadline.
func expireSubmission(env *testEnv, submissionID int) {
	env.subRepo.mu.Lock()
	defer env.subRepo.mu.Unlock()
	past := time.Now().Add(-time.Hour)
	env.subRepo.submissions[submissionID].AutoConfirmAt = &past
}

func TestSubmitOnCompletedStage(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	stage, match := singleMatchStage(t, env, models.StageSettings{})
	env.overrideWinner(t, match, 1)

	if got := env.getStage(t, stage.ID).State; got != models.StageStateCompleted {
		t.Fatalf("expected completed stage, got %s", got)
	}
	_, err := env.verification.SubmitResult(ctx, 1, match.ID, SubmitResultInput{
		ClaimedWinnerID: 1,
		Payload:         models.ResultPayload{Score1: 1, Score2: 0},
	})
	if !errors.Is(err, ErrStageAlreadyCompleted) && !errors.Is(err, ErrMatchAlreadyFinalized) {
		t.Fatalf("expected a completed-stage rejection, got %v", err)
	}
}
