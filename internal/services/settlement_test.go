package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/idempotency"
	"github.com/captainace/backend/internal/ledger"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/policy"
	"github.com/captainace/backend/internal/repository"
)

type fixture struct {
	t      *testing.T
	store  *repository.MemoryStore
	engine *Engine
	now    time.Time

	poster models.Actor
	doer   models.Actor
	admin  models.Actor

	mu       sync.Mutex
	notified []models.Notification
}

type fixtureOpt func(*fixture)

func withLimiter(l RateLimiter) fixtureOpt {
	return func(f *fixture) { f.engine.limiter = l }
}

func newFixture(t *testing.T, posterCompleted int, opts ...fixtureOpt) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		store:  repository.NewMemoryStore(),
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		poster: models.Actor{UserID: uuid.New(), Role: models.RoleCaptain},
		doer:   models.Actor{UserID: uuid.New(), Role: models.RoleAce},
		admin:  models.Actor{UserID: uuid.New(), Role: models.RoleAdmin},
	}
	f.store.SetNotifier(func(ctx context.Context, n models.Notification) error {
		f.mu.Lock()
		f.notified = append(f.notified, n)
		f.mu.Unlock()
		return nil
	})
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		for _, p := range []*models.Profile{
			{ID: f.poster.UserID, Email: "poster@example.com", Role: models.RoleCaptain, CompletedTasks: posterCompleted},
			{ID: f.doer.UserID, Email: "doer@example.com", Role: models.RoleAce},
			{ID: f.admin.UserID, Email: "admin@example.com", Role: models.RoleAdmin},
		} {
			if err := tx.CreateProfile(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed profiles: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = NewEngine(f.store, ledger.NewService(logger), policy.NewProfileFreeze(f.store), nil, Options{
		AutoReleaseWindow: 24 * time.Hour,
		Now:               func() time.Time { return f.now },
		Logger:            logger,
	})
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *fixture) createTask(gross int64) *TaskResult {
	f.t.Helper()
	res, err := f.engine.CreateTask(context.Background(), f.poster, CreateTaskInput{Title: "Walk the dog", GrossAmount: gross})
	if err != nil {
		f.t.Fatalf("CreateTask: %v", err)
	}
	return res
}

// submitted drives a new task through accept, start and submit.
func (f *fixture) submitted(gross int64) *TaskResult {
	f.t.Helper()
	ctx := context.Background()
	id := f.createTask(gross).Task.ID
	if _, err := f.engine.AcceptTask(ctx, f.doer, id); err != nil {
		f.t.Fatalf("AcceptTask: %v", err)
	}
	if _, err := f.engine.StartTask(ctx, f.doer, id); err != nil {
		f.t.Fatalf("StartTask: %v", err)
	}
	res, err := f.engine.SubmitTask(ctx, f.doer, id, SubmitInput{Message: "done"})
	if err != nil {
		f.t.Fatalf("SubmitTask: %v", err)
	}
	return res
}

func (f *fixture) wallet(userID uuid.UUID) *WalletView {
	f.t.Helper()
	w, err := f.engine.GetWallet(context.Background(), f.admin, userID)
	if err != nil {
		f.t.Fatalf("GetWallet: %v", err)
	}
	return w
}

func (f *fixture) profile(userID uuid.UUID) *models.Profile {
	f.t.Helper()
	var p *models.Profile
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		p, err = tx.GetProfile(ctx, userID)
		return err
	})
	if err != nil {
		f.t.Fatalf("GetProfile: %v", err)
	}
	return p
}

func (f *fixture) notificationsFor(userID uuid.UUID, typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, x := range f.notified {
		if x.UserID == userID && x.Type == typ {
			n++
		}
	}
	return n
}

func TestCreateTask_FeeLockedIntoEscrow(t *testing.T) {
	f := newFixture(t, 5)
	res := f.createTask(10000)

	if res.Task.Status != models.TaskStatusOpen || res.Task.Code == "" {
		t.Errorf("task = %+v", res.Task)
	}
	if res.Escrow.Status != models.EscrowStatusInEscrow {
		t.Errorf("escrow status = %s, want in_escrow", res.Escrow.Status)
	}
	if res.Escrow.PlatformFee != 2000 || res.Escrow.NetPayout != 8000 {
		t.Errorf("fee/net = %d/%d, want 2000/8000", res.Escrow.PlatformFee, res.Escrow.NetPayout)
	}
	if !res.Escrow.FeePercentage.Equal(decimal.NewFromInt(20)) {
		t.Errorf("fee percentage = %s, want 20", res.Escrow.FeePercentage)
	}
	if res.Quote.ValueBasedFeePercent != nil {
		t.Errorf("unexpected value tier %s", res.Quote.ValueBasedFeePercent)
	}
}

func TestCreateTask_ValueTierApplies(t *testing.T) {
	f := newFixture(t, 60)
	res := f.createTask(50000)
	if !res.Quote.TaskBasedFeePercent.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("task tier = %s, want 12.5", res.Quote.TaskBasedFeePercent)
	}
	if res.Escrow.PlatformFee != 5000 || res.Escrow.NetPayout != 45000 {
		t.Errorf("fee/net = %d/%d, want 5000/45000", res.Escrow.PlatformFee, res.Escrow.NetPayout)
	}
}

func TestCreateTask_Rejects(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	cases := []struct {
		name  string
		actor models.Actor
		in    CreateTaskInput
		want  error
	}{
		{"ace cannot post", f.doer, CreateTaskInput{Title: "x", GrossAmount: 1000}, apperr.ErrForbidden},
		{"blank title", f.poster, CreateTaskInput{Title: "  ", GrossAmount: 1000}, apperr.ErrValidation},
		{"below minimum", f.poster, CreateTaskInput{Title: "x", GrossAmount: 99}, apperr.ErrValidation},
		{"above maximum", f.poster, CreateTaskInput{Title: "x", GrossAmount: 10_000_001}, apperr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.CreateTask(ctx, tc.actor, tc.in); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLifecycle_ApproveReleasesNetPayout(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	sub := f.submitted(10000)

	if sub.Task.AutoReleaseAt == nil || !sub.Task.AutoReleaseAt.Equal(f.now.Add(24*time.Hour)) {
		t.Fatalf("auto_release_at = %v", sub.Task.AutoReleaseAt)
	}
	if sub.Escrow.AutoReleaseAt == nil || sub.Escrow.DoerID == nil || *sub.Escrow.DoerID != f.doer.UserID {
		t.Fatalf("escrow not stamped on accept/submit: %+v", sub.Escrow)
	}
	if got := len(f.store.Submissions()); got != 1 {
		t.Errorf("submissions = %d, want 1", got)
	}

	res, err := f.engine.ApproveTask(ctx, f.poster, sub.Task.ID)
	if err != nil {
		t.Fatalf("ApproveTask: %v", err)
	}
	if res.ReleasedAmount != 8000 {
		t.Errorf("released = %d, want 8000", res.ReleasedAmount)
	}
	if res.Task.Status != models.TaskStatusCompleted || res.Task.ApprovedAt == nil || res.Task.CompletedAt == nil {
		t.Errorf("task = %+v", res.Task)
	}
	if res.Escrow.Status != models.EscrowStatusReleased || res.Escrow.ReleasedAt == nil {
		t.Errorf("escrow = %+v", res.Escrow)
	}

	w := f.wallet(f.doer.UserID)
	if w.Balance != 8000 || len(w.Events) != 1 || w.Events[0].EventType != models.WalletEventEscrowRelease {
		t.Errorf("doer wallet = %+v", w)
	}
	if f.profile(f.doer.UserID).CompletedTasks != 1 || f.profile(f.poster.UserID).CompletedTasks != 6 {
		t.Error("completed task counters not incremented")
	}
	if f.notificationsFor(f.poster.UserID, models.NotifyTaskAccepted) != 1 ||
		f.notificationsFor(f.poster.UserID, models.NotifyTaskSubmitted) != 1 ||
		f.notificationsFor(f.doer.UserID, models.NotifyPaymentReleased) != 1 {
		t.Errorf("notifications = %+v", f.notified)
	}

	events, err := f.engine.TaskEvents(ctx, f.poster, sub.Task.ID)
	if err != nil {
		t.Fatalf("TaskEvents: %v", err)
	}
	want := []string{
		models.TaskEventCreated, models.TaskEventAccepted, models.TaskEventStarted,
		models.TaskEventSubmitted, models.TaskEventApproved, models.TaskEventPaymentReleased,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.EventType != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, ev.EventType, want[i])
		}
	}
}

func TestApprove_ConcurrentCallsReleaseOnce(t *testing.T) {
	f := newFixture(t, 5)
	sub := f.submitted(10000)

	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 2 {
			case 0:
				_, err = f.engine.ApproveTask(context.Background(), f.poster, sub.Task.ID)
			default:
				_, err = f.engine.ReleasePayment(context.Background(), f.poster, sub.Task.ID)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || conflicts != callers-1 {
		t.Fatalf("successes=%d conflicts=%d", successes, conflicts)
	}
	if w := f.wallet(f.doer.UserID); len(w.Events) != 1 || w.Balance != 8000 {
		t.Errorf("doer wallet = %+v, want exactly one release", w)
	}
}

func TestAccept_ConcurrentAcesOneWinner(t *testing.T) {
	f := newFixture(t, 0)
	task := f.createTask(5000).Task

	aces := make([]models.Actor, 8)
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		for i := range aces {
			aces[i] = models.Actor{UserID: uuid.New(), Role: models.RoleAce}
			if err := tx.CreateProfile(ctx, &models.Profile{ID: aces[i].UserID, Email: aces[i].UserID.String() + "@example.com", Role: models.RoleAce}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed aces: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(aces))
	for i, a := range aces {
		wg.Add(1)
		go func(i int, a models.Actor) {
			defer wg.Done()
			_, errs[i] = f.engine.AcceptTask(context.Background(), a, task.ID)
		}(i, a)
	}
	wg.Wait()

	var winners int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case !errors.Is(err, apperr.ErrConflict):
			t.Errorf("loser error = %v, want conflict", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
}

func TestAccept_Rules(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	task := f.createTask(5000).Task

	if _, err := f.engine.AcceptTask(ctx, f.poster, task.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("captain accept = %v, want forbidden", err)
	}
	if _, err := f.engine.AcceptTask(ctx, f.doer, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing task = %v, want not found", err)
	}
	if _, err := f.engine.StartTask(ctx, f.doer, task.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("start before accept = %v, want forbidden", err)
	}
	if _, err := f.engine.AcceptTask(ctx, f.doer, task.ID); err != nil {
		t.Fatalf("AcceptTask: %v", err)
	}
	if _, err := f.engine.SubmitTask(ctx, f.doer, task.ID, SubmitInput{}); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("submit before start = %v, want invalid transition", err)
	}
	if _, err := f.engine.ApproveTask(ctx, f.poster, task.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("approve accepted task = %v, want invalid transition", err)
	}
}

func TestFrozenAccountRejected(t *testing.T) {
	f := newFixture(t, 0)
	frozen := models.Actor{UserID: uuid.New(), Role: models.RoleCaptain}
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateProfile(ctx, &models.Profile{ID: frozen.UserID, Email: "frozen@example.com", Role: models.RoleCaptain, IsFrozen: true})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = f.engine.CreateTask(context.Background(), frozen, CreateTaskInput{Title: "x", GrossAmount: 1000})
	if !errors.Is(err, apperr.ErrAccountFrozen) {
		t.Errorf("err = %v, want account frozen", err)
	}
}

func TestFrozenAdminRejected(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	frozen := models.Actor{UserID: uuid.New(), Role: models.RoleAdmin}
	err := f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateProfile(ctx, &models.Profile{ID: frozen.UserID, Email: "frozen-admin@example.com", Role: models.RoleAdmin, IsFrozen: true})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	task := f.submitted(1000)
	if _, err := f.engine.ForceComplete(ctx, frozen, task.Task.ID, "stuck"); !errors.Is(err, apperr.ErrAccountFrozen) {
		t.Errorf("force complete = %v, want account frozen", err)
	}

	disputed, err := f.engine.DisputeTask(ctx, f.poster, f.submitted(1000).Task.ID, DisputeInput{Reason: "x"})
	if err != nil {
		t.Fatalf("DisputeTask: %v", err)
	}
	if _, err := f.engine.ReviewDispute(ctx, frozen, disputed.Dispute.ID, ReviewInput{Status: models.DisputeStatusUnderReview}); !errors.Is(err, apperr.ErrAccountFrozen) {
		t.Errorf("review = %v, want account frozen", err)
	}
	if _, err := f.engine.ResolveDispute(ctx, frozen, disputed.Dispute.ID, ResolveInput{Type: models.ResolutionFullRefund}); !errors.Is(err, apperr.ErrAccountFrozen) {
		t.Errorf("resolve = %v, want account frozen", err)
	}

	// Nothing was paid out.
	if got := f.wallet(f.doer.UserID); len(got.Events) != 0 {
		t.Errorf("doer wallet events = %d, want 0", len(got.Events))
	}
}

func TestRateLimitedCreate(t *testing.T) {
	limiter := policy.NewMemoryLimiter(policy.Limits{"create_task": 2}, time.Hour, nil)
	f := newFixture(t, 0, withLimiter(limiter))
	ctx := context.Background()
	in := CreateTaskInput{Title: "x", GrossAmount: 1000}
	for i := 0; i < 2; i++ {
		if _, err := f.engine.CreateTask(ctx, f.poster, in); err != nil {
			t.Fatalf("create %d: %v", i+1, err)
		}
	}
	if _, err := f.engine.CreateTask(ctx, f.poster, in); !errors.Is(err, apperr.ErrRateLimited) {
		t.Errorf("third create = %v, want rate limited", err)
	}
}

func TestAutoReleaseDue(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	due := f.submitted(10000)
	approved := f.submitted(10000)
	if _, err := f.engine.ApproveTask(ctx, f.poster, approved.Task.ID); err != nil {
		t.Fatalf("ApproveTask: %v", err)
	}

	rep, err := f.engine.AutoReleaseDue(ctx, f.now.Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("AutoReleaseDue: %v", err)
	}
	if rep.Due != 0 {
		t.Fatalf("released before window: %+v", rep)
	}

	f.now = f.now.Add(25 * time.Hour)
	rep, err = f.engine.AutoReleaseDue(ctx, f.now, 100)
	if err != nil {
		t.Fatalf("AutoReleaseDue: %v", err)
	}
	if rep.Released != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	got, err := f.engine.GetTask(ctx, f.poster, due.Task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Task.Status != models.TaskStatusCompleted || got.Escrow.Status != models.EscrowStatusReleased {
		t.Errorf("after auto-release: task %s escrow %s", got.Task.Status, got.Escrow.Status)
	}
	if w := f.wallet(f.doer.UserID); w.Balance != 16000 || len(w.Events) != 2 {
		t.Errorf("doer wallet = %d over %d events", w.Balance, len(w.Events))
	}

	rep, err = f.engine.AutoReleaseDue(ctx, f.now, 100)
	if err != nil || rep.Due != 0 {
		t.Errorf("second sweep = %+v, %v", rep, err)
	}
}

func TestForceComplete(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	sub := f.submitted(10000)

	if _, err := f.engine.ForceComplete(ctx, f.poster, sub.Task.ID, "stuck"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("poster force = %v, want forbidden", err)
	}
	res, err := f.engine.ForceComplete(ctx, f.admin, sub.Task.ID, "stuck")
	if err != nil {
		t.Fatalf("ForceComplete: %v", err)
	}
	if res.Task.Status != models.TaskStatusCompleted || res.ReleasedAmount != 8000 {
		t.Errorf("res = %+v", res)
	}
	actions := f.store.AdminActions()
	if len(actions) != 1 || actions[0].Action != models.AdminActionForceComplete {
		t.Errorf("admin actions = %+v", actions)
	}
	if _, err := f.engine.ForceComplete(ctx, f.admin, sub.Task.ID, "again"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second force = %v, want conflict", err)
	}
}

func TestCancelTask_RefundsPoster(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	task := f.createTask(5000).Task
	if _, err := f.engine.AcceptTask(ctx, f.doer, task.ID); err != nil {
		t.Fatalf("AcceptTask: %v", err)
	}
	if _, err := f.engine.CancelTask(ctx, f.doer, task.ID, "changed mind"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("doer cancel = %v, want forbidden", err)
	}

	res, err := f.engine.CancelTask(ctx, f.poster, task.ID, "changed mind")
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if res.Task.Status != models.TaskStatusCancelled || res.Escrow.Status != models.EscrowStatusRefunded {
		t.Errorf("task %s escrow %s", res.Task.Status, res.Escrow.Status)
	}
	w := f.wallet(f.poster.UserID)
	if w.Balance != 5000 || len(w.Events) != 1 || w.Events[0].EventType != models.WalletEventEscrowRefund {
		t.Errorf("poster wallet = %+v", w)
	}
	if f.notificationsFor(f.doer.UserID, models.NotifyTaskCancelled) != 1 {
		t.Error("doer not notified of cancellation")
	}
	if _, err := f.engine.CancelTask(ctx, f.poster, task.ID, "again"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second cancel = %v, want conflict", err)
	}
}

func TestCancelTask_AfterSubmitRejected(t *testing.T) {
	f := newFixture(t, 0)
	sub := f.submitted(5000)
	_, err := f.engine.CancelTask(context.Background(), f.poster, sub.Task.ID, "")
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("err = %v, want invalid transition", err)
	}
}

func TestGetTask_HidesEscrowFromOutsiders(t *testing.T) {
	f := newFixture(t, 0)
	task := f.createTask(5000).Task
	outsider := models.Actor{UserID: uuid.New(), Role: models.RoleAce}

	got, err := f.engine.GetTask(context.Background(), outsider, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Escrow != nil {
		t.Error("escrow visible to outsider")
	}
	if _, err := f.engine.TaskEvents(context.Background(), outsider, task.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("outsider events = %v, want forbidden", err)
	}
}

func TestIdempotentApproveRetry(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	sub := f.submitted(10000)
	req := idempotency.Request{Key: "approve-1", UserID: f.poster.UserID, Endpoint: "approve_task", Body: []byte(`{}`)}

	approve := func(ctx context.Context) (*ReleaseResult, error) {
		return f.engine.ApproveTask(ctx, f.poster, sub.Task.ID)
	}
	first, err := idempotency.Do(ctx, f.store, req, approve)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := idempotency.Do(ctx, f.store, req, approve)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if second.ReleasedAmount != first.ReleasedAmount || second.WalletEvent.ID != first.WalletEvent.ID {
		t.Errorf("retry returned a different response: %+v vs %+v", second, first)
	}
	if w := f.wallet(f.doer.UserID); len(w.Events) != 1 {
		t.Errorf("wallet events = %d, want 1", len(w.Events))
	}

	req.Body = []byte(`{"note":"different"}`)
	if _, err := idempotency.Do(ctx, f.store, req, approve); !errors.Is(err, apperr.ErrIdempotencyConflict) {
		t.Errorf("different body = %v, want idempotency conflict", err)
	}
}

func TestWallet_DepositWithdraw(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.engine.SandboxDeposit(ctx, f.doer, AmountInput{Amount: 3000}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	res, err := f.engine.SandboxWithdraw(ctx, f.doer, AmountInput{Amount: 1000})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Balance != 2000 || res.Event.Amount != -1000 {
		t.Errorf("withdraw result = %+v", res)
	}
	if _, err := f.engine.SandboxWithdraw(ctx, f.doer, AmountInput{Amount: 2001}); !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Errorf("overdraw = %v, want insufficient balance", err)
	}
	if _, err := f.engine.SandboxDeposit(ctx, f.doer, AmountInput{Amount: 0}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("zero deposit = %v, want validation", err)
	}
	if _, err := f.engine.GetWallet(ctx, f.poster, f.doer.UserID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("foreign wallet = %v, want forbidden", err)
	}
	err = f.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return ledger.Verify(ctx, tx, f.doer.UserID)
	})
	if err != nil {
		t.Errorf("ledger chain: %v", err)
	}
}

func TestAdminCredit(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	in := AdminCreditInput{UserID: f.doer.UserID, Amount: 700, Reason: "goodwill"}
	if _, err := f.engine.AdminCredit(ctx, f.poster, in); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("non-admin = %v, want forbidden", err)
	}
	res, err := f.engine.AdminCredit(ctx, f.admin, in)
	if err != nil {
		t.Fatalf("AdminCredit: %v", err)
	}
	if res.Balance != 700 || res.Event.EventType != models.WalletEventAdminCredit {
		t.Errorf("res = %+v", res)
	}
	actions := f.store.AdminActions()
	if len(actions) != 1 || actions[0].Action != models.AdminActionWalletCredit || actions[0].TargetID != f.doer.UserID {
		t.Errorf("admin actions = %+v", actions)
	}
	in.UserID = uuid.New()
	if _, err := f.engine.AdminCredit(ctx, f.admin, in); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown user = %v, want not found", err)
	}
}

