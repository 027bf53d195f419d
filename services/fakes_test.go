package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/format-engine/models"
	"github.com/Dosada05/format-engine/notify"
	"github.com/Dosada05/format-engine/repositories"
	"github.com/Dosada05/format-engine/roster"
)

// In-memory repositories mirroring the guarded-update semantics of the
// postgres implementations, so the services can be exercised without a
// database.

type memTxRunner struct{}

func (memTxRunner) InTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return fn(nil)
}

type memStageRepo struct {
	mu     sync.Mutex
	nextID int
	stages map[int]*models.Stage
}

func newMemStageRepo() *memStageRepo {
	return &memStageRepo{stages: make(map[int]*models.Stage)}
}

func (r *memStageRepo) Create(_ context.Context, _ repositories.SQLExecutor, stage *models.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	stage.ID = r.nextID
	stage.CreatedAt = time.Now()
	clone := *stage
	r.stages[stage.ID] = &clone
	return nil
}

func (r *memStageRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Stage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stage, ok := r.stages[id]
	if !ok {
		return nil, repositories.ErrStageNotFound
	}
	clone := *stage
	return &clone, nil
}

func (r *memStageRepo) ListByTournament(_ context.Context, _ repositories.SQLExecutor, tournamentID int) ([]*models.Stage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Stage
	for _, stage := range r.stages {
		if stage.TournamentID == tournamentID {
			clone := *stage
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (r *memStageRepo) GetDependent(_ context.Context, _ repositories.SQLExecutor, stageID int) (*models.Stage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stage := range r.stages {
		if stage.DependsOnStageID != nil && *stage.DependsOnStageID == stageID {
			clone := *stage
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memStageRepo) UpdateState(_ context.Context, _ repositories.SQLExecutor, id int, from, to models.StageState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stage, ok := r.stages[id]
	if !ok || stage.State != from {
		return repositories.ErrStageNotFound
	}
	stage.State = to
	if to == models.StageStateCompleted {
		now := time.Now()
		stage.CompletedAt = &now
	}
	return nil
}

type memMatchRepo struct {
	mu      sync.Mutex
	nextID  int
	matches map[int]*models.Match
}

func newMemMatchRepo() *memMatchRepo {
	return &memMatchRepo{matches: make(map[int]*models.Match)}
}

func (r *memMatchRepo) Create(_ context.Context, _ repositories.SQLExecutor, match *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	match.ID = r.nextID
	match.CreatedAt = time.Now()
	clone := *match
	r.matches[match.ID] = &clone
	return nil
}

func (r *memMatchRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	match, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	clone := *match
	return &clone, nil
}

func (r *memMatchRepo) ListByStage(_ context.Context, _ repositories.SQLExecutor, stageID int) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Match
	for _, match := range r.matches {
		if match.StageID == stageID {
			clone := *match
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		if a.OrderInRound != b.OrderInRound {
			return a.OrderInRound < b.OrderInRound
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (r *memMatchRepo) UpdateLinks(_ context.Context, _ repositories.SQLExecutor, match *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.matches[match.ID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	stored.SourceMatch1ID = match.SourceMatch1ID
	stored.SourceMatch2ID = match.SourceMatch2ID
	stored.NextMatchID = match.NextMatchID
	stored.NextMatchSlot = match.NextMatchSlot
	stored.LoserNextMatchID = match.LoserNextMatchID
	stored.LoserNextMatchSlot = match.LoserNextMatchSlot
	return nil
}

func (r *memMatchRepo) UpdateSlots(_ context.Context, _ repositories.SQLExecutor, id int, slot1, slot2 *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	stored.Slot1ID = slot1
	stored.Slot2ID = slot2
	return nil
}

func (r *memMatchRepo) UpdateState(_ context.Context, _ repositories.SQLExecutor, id int, from, to models.MatchState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.matches[id]
	if !ok || stored.State != from {
		return repositories.ErrMatchStaleWrite
	}
	stored.State = to
	return nil
}

func (r *memMatchRepo) Finalize(_ context.Context, _ repositories.SQLExecutor, match *models.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.matches[match.ID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	if stored.State == models.MatchStateCompleted || stored.State == models.MatchStateVoided {
		return repositories.ErrMatchStaleWrite
	}
	now := time.Now()
	match.CompletedAt = &now
	stored.State = match.State
	stored.WinnerID = match.WinnerID
	stored.Result = match.Result
	stored.FinalizeSeq = match.FinalizeSeq
	stored.CompletedAt = match.CompletedAt
	return nil
}

func (r *memMatchRepo) CountOpenByStage(_ context.Context, _ repositories.SQLExecutor, stageID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, match := range r.matches {
		if match.StageID == stageID && !match.IsBye &&
			match.State != models.MatchStateCompleted && match.State != models.MatchStateVoided {
			count++
		}
	}
	return count, nil
}

func (r *memMatchRepo) MaxRoundByStage(_ context.Context, _ repositories.SQLExecutor, stageID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, match := range r.matches {
		if match.StageID == stageID && match.Round > max {
			max = match.Round
		}
	}
	return max, nil
}

type memSubmissionRepo struct {
	mu          sync.Mutex
	nextID      int
	submissions map[int]*models.ResultSubmission
}

func newMemSubmissionRepo() *memSubmissionRepo {
	return &memSubmissionRepo{submissions: make(map[int]*models.ResultSubmission)}
}

func (r *memSubmissionRepo) Create(_ context.Context, _ repositories.SQLExecutor, sub *models.ResultSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = r.nextID
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	clone := *sub
	r.submissions[sub.ID] = &clone
	return nil
}

func (r *memSubmissionRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.ResultSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[id]
	if !ok {
		return nil, repositories.ErrSubmissionNotFound
	}
	clone := *sub
	return &clone, nil
}

func (r *memSubmissionRepo) ListByMatch(_ context.Context, _ repositories.SQLExecutor, matchID int) ([]*models.ResultSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ResultSubmission
	for _, sub := range r.submissions {
		if sub.MatchID == matchID {
			clone := *sub
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memSubmissionRepo) UpdateState(_ context.Context, _ repositories.SQLExecutor, id int, from, to models.SubmissionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[id]
	if !ok || sub.State != from {
		return repositories.ErrSubmissionStaleWrite
	}
	sub.State = to
	sub.UpdatedAt = time.Now()
	return nil
}

func (r *memSubmissionRepo) RejectOthers(_ context.Context, _ repositories.SQLExecutor, matchID, approvedSubmissionID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.submissions {
		if sub.MatchID != matchID || sub.ID == approvedSubmissionID {
			continue
		}
		if sub.State == models.SubmissionApproved || sub.State == models.SubmissionRejected {
			continue
		}
		sub.State = models.SubmissionRejected
		sub.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memSubmissionRepo) ListExpired(_ context.Context, _ repositories.SQLExecutor, cutoff time.Time, limit int) ([]*models.ResultSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ResultSubmission
	for _, sub := range r.submissions {
		if sub.State == models.SubmissionPending && sub.AutoConfirmAt != nil && sub.AutoConfirmAt.Before(cutoff) {
			clone := *sub
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AutoConfirmAt.Before(*out[j].AutoConfirmAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memDisputeRepo struct {
	mu       sync.Mutex
	nextID   int
	disputes map[int]*models.Dispute
}

func newMemDisputeRepo() *memDisputeRepo {
	return &memDisputeRepo{disputes: make(map[int]*models.Dispute)}
}

func (r *memDisputeRepo) Create(_ context.Context, _ repositories.SQLExecutor, dispute *models.Dispute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	dispute.ID = r.nextID
	dispute.CreatedAt = time.Now()
	clone := *dispute
	r.disputes[dispute.ID] = &clone
	return nil
}

func (r *memDisputeRepo) GetOpenByMatch(_ context.Context, _ repositories.SQLExecutor, matchID int) (*models.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Dispute
	for _, d := range r.disputes {
		if d.MatchID == matchID && d.Resolution == nil {
			if latest == nil || d.ID > latest.ID {
				latest = d
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (r *memDisputeRepo) ListByMatch(_ context.Context, _ repositories.SQLExecutor, matchID int) ([]*models.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Dispute
	for _, d := range r.disputes {
		if d.MatchID == matchID {
			clone := *d
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memDisputeRepo) Resolve(_ context.Context, _ repositories.SQLExecutor, id int, resolution models.DisputeResolution, note *string, resolvedBy int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[id]
	if !ok || d.Resolution != nil {
		return repositories.ErrDisputeNotFound
	}
	now := time.Now()
	d.Resolution = &resolution
	d.ResolutionNote = note
	d.ResolvedBy = &resolvedBy
	d.ResolvedAt = &now
	return nil
}

func (r *memDisputeRepo) AddNote(_ context.Context, _ repositories.SQLExecutor, id int, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[id]
	if !ok || d.Resolution != nil {
		return repositories.ErrDisputeNotFound
	}
	d.ResolutionNote = &note
	return nil
}

type memTransitionRepo struct {
	mu          sync.Mutex
	nextID      int
	transitions []*models.MatchTransition
}

func newMemTransitionRepo() *memTransitionRepo {
	return &memTransitionRepo{}
}

func (r *memTransitionRepo) Append(_ context.Context, _ repositories.SQLExecutor, t *models.MatchTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	t.CreatedAt = time.Now()
	clone := *t
	r.transitions = append(r.transitions, &clone)
	return nil
}

func (r *memTransitionRepo) ListByMatch(_ context.Context, _ repositories.SQLExecutor, matchID int) ([]*models.MatchTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MatchTransition
	for _, t := range r.transitions {
		if t.MatchID == matchID {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}

type memGroupRepo struct {
	mu     sync.Mutex
	nextID int
	groups map[int]*models.Group
}

func newMemGroupRepo() *memGroupRepo {
	return &memGroupRepo{groups: make(map[int]*models.Group)}
}

func (r *memGroupRepo) Create(_ context.Context, _ repositories.SQLExecutor, group *models.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	group.ID = r.nextID
	clone := *group
	r.groups[group.ID] = &clone
	return nil
}

func (r *memGroupRepo) ListByStage(_ context.Context, _ repositories.SQLExecutor, stageID int) ([]*models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Group
	for _, g := range r.groups {
		if g.StageID == stageID {
			clone := *g
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type capturingPublisher struct {
	mu          sync.Mutex
	matchEvents []models.MatchCompletedEvent
	stageEvents []models.StageCompletedEvent
}

func (p *capturingPublisher) PublishMatchCompleted(event models.MatchCompletedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matchEvents = append(p.matchEvents, event)
}

func (p *capturingPublisher) PublishStageCompleted(event models.StageCompletedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stageEvents = append(p.stageEvents, event)
}

func (p *capturingPublisher) matchEventCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.matchEvents)
}

func (p *capturingPublisher) stageEventCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stageEvents)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv wires the full service stack over in-memory repositories with a
// fixed sixteen-participant roster.
type testEnv struct {
	stageRepo      *memStageRepo
	matchRepo      *memMatchRepo
	subRepo        *memSubmissionRepo
	disputeRepo    *memDisputeRepo
	transitionRepo *memTransitionRepo
	groupRepo      *memGroupRepo
	publisher      *capturingPublisher

	stages       *StageService
	progression  *ProgressionService
	verification *VerificationService
}

func newTestEnv() *testEnv {
	logger := discardLogger()
	provider := roster.NewStaticProvider()
	for id := 1; id <= 16; id++ {
		provider.Add(&models.Participant{
			ID:          id,
			DisplayName: fmt.Sprintf("Player %d", id),
		})
	}

	env := &testEnv{
		stageRepo:      newMemStageRepo(),
		matchRepo:      newMemMatchRepo(),
		subRepo:        newMemSubmissionRepo(),
		disputeRepo:    newMemDisputeRepo(),
		transitionRepo: newMemTransitionRepo(),
		groupRepo:      newMemGroupRepo(),
		publisher:      &capturingPublisher{},
	}
	env.stages = NewStageService(memTxRunner{}, env.stageRepo, env.matchRepo, env.groupRepo, provider, logger)
	env.progression = NewProgressionService(env.stageRepo, env.matchRepo, env.groupRepo, provider, env.stages, logger)
	env.verification = NewVerificationService(
		memTxRunner{},
		env.stageRepo,
		env.matchRepo,
		env.subRepo,
		env.disputeRepo,
		env.transitionRepo,
		env.progression,
		env.publisher,
		&notify.LogNotifier{Logger: logger},
		logger,
	)
	return env
}

func (env *testEnv) createStage(t *testing.T, input CreateStageInput) *models.Stage {
	t.Helper()
	stage, err := env.stages.CreateStage(context.Background(), input)
	if err != nil {
		t.Fatalf("create stage: %v", err)
	}
	return stage
}

// openMatches returns a stage's open (playable, unfinished) matches in
// bracket order.
func (env *testEnv) openMatches(t *testing.T, stageID int) []*models.Match {
	t.Helper()
	all, err := env.matchRepo.ListByStage(context.Background(), nil, stageID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	var open []*models.Match
	for _, m := range all {
		if m.Open() && m.Slot1ID != nil && m.Slot2ID != nil {
			open = append(open, m)
		}
	}
	return open
}

// overrideWinner finalizes a match through the organizer path with a 1-0
// style result for the given winner.
func (env *testEnv) overrideWinner(t *testing.T, match *models.Match, winnerID int) {
	t.Helper()
	payload := models.ResultPayload{Score1: 1, Score2: 0}
	if match.Slot2ID != nil && *match.Slot2ID == winnerID {
		payload = models.ResultPayload{Score1: 0, Score2: 1}
	}
	_, err := env.verification.OverrideResult(context.Background(), 99, match.ID, OverrideInput{
		WinnerID: winnerID,
		Payload:  payload,
		Reason:   "scripted playout",
	})
	if err != nil {
		t.Fatalf("override match %d: %v", match.ID, err)
	}
}

func (env *testEnv) getStage(t *testing.T, id int) *models.Stage {
	t.Helper()
	stage, err := env.stageRepo.GetByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("get stage %d: %v", id, err)
	}
	return stage
}

func (env *testEnv) getMatch(t *testing.T, id int) *models.Match {
	t.Helper()
	match, err := env.matchRepo.GetByID(context.Background(), nil, id)
	if err != nil {
		t.Fatalf("get match %d: %v", id, err)
	}
	return match
}
