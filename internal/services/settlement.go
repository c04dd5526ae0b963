package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/config"
	"github.com/captainace/backend/internal/fees"
	"github.com/captainace/backend/internal/ledger"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
	"github.com/captainace/backend/internal/transitions"
)

// FreezeChecker reports whether a user is barred from mutating anything.
type FreezeChecker interface {
	IsFrozen(ctx context.Context, userID uuid.UUID) (bool, error)
}

// RateLimiter counts a call and rejects once the caller's window ceiling is exceeded.
type RateLimiter interface {
	Allow(ctx context.Context, userID uuid.UUID, endpoint string) error
}

type Options struct {
	AutoReleaseWindow time.Duration
	MinGrossAmount    int64
	MaxGrossAmount    int64
	Now               func() time.Time
	Logger            *slog.Logger
}

// Engine runs every task, escrow and wallet mutation. Each public operation
// is one unit of work on the store; callers that need idempotency wrap the
// call in idempotency.Do, which joins the same unit of work.
type Engine struct {
	store   repository.Store
	ledger  *ledger.Service
	freeze  FreezeChecker
	limiter RateLimiter
	logger  *slog.Logger
	now     func() time.Time

	window   time.Duration
	minGross int64
	maxGross int64
}

func NewEngine(store repository.Store, ledgerSvc *ledger.Service, freeze FreezeChecker, limiter RateLimiter, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AutoReleaseWindow <= 0 {
		opts.AutoReleaseWindow = 24 * time.Hour
	}
	if opts.MinGrossAmount <= 0 {
		opts.MinGrossAmount = models.MinGrossAmount
	}
	if opts.MaxGrossAmount <= 0 {
		opts.MaxGrossAmount = models.MaxGrossAmount
	}
	return &Engine{
		store:    store,
		ledger:   ledgerSvc,
		freeze:   freeze,
		limiter:  limiter,
		logger:   opts.Logger,
		now:      opts.Now,
		window:   opts.AutoReleaseWindow,
		minGross: opts.MinGrossAmount,
		maxGross: opts.MaxGrossAmount,
	}
}

// ---- inputs and results ----

type CreateTaskInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	GrossAmount int64            `json:"gross_amount"`
	Deadline    *time.Time       `json:"deadline,omitempty"`
	InPerson    bool             `json:"in_person"`
	Location    *models.Location `json:"location,omitempty"`
}

type SubmitInput struct {
	Message     string   `json:"message"`
	Attachments []string `json:"attachments"`
}

type DisputeInput struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

type TaskResult struct {
	Task   *models.Task              `json:"task"`
	Escrow *models.EscrowTransaction `json:"escrow,omitempty"`
	Quote  *fees.Quote               `json:"fee_quote,omitempty"`
}

type ReleaseResult struct {
	Task           *models.Task              `json:"task"`
	Escrow         *models.EscrowTransaction `json:"escrow"`
	ReleasedAmount int64                     `json:"released_amount"`
	WalletEvent    *models.WalletEvent       `json:"wallet_event"`
}

type DisputeResult struct {
	Task    *models.Task              `json:"task"`
	Escrow  *models.EscrowTransaction `json:"escrow"`
	Dispute *models.Dispute           `json:"dispute"`
}

type WalletResult struct {
	Balance int64               `json:"balance"`
	Event   *models.WalletEvent `json:"wallet_event"`
}

type WalletView struct {
	UserID  uuid.UUID             `json:"user_id"`
	Balance int64                 `json:"balance"`
	Events  []*models.WalletEvent `json:"events"`
}

// AutoReleaseReport summarizes one auto-release sweep.
type AutoReleaseReport struct {
	Due       int `json:"due"`
	Released  int `json:"released"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

type releaseMode string

const (
	releaseApprove releaseMode = "approve"
	releaseManual  releaseMode = "manual"
	releaseAuto    releaseMode = "auto"
	releaseForce   releaseMode = "force"
)

// ---- task lifecycle ----

// CreateTask creates an open task and its funded escrow. The fee tier is
// keyed on the poster's completed tasks and locked into the escrow here.
func (e *Engine) CreateTask(ctx context.Context, actor models.Actor, in CreateTaskInput) (*TaskResult, error) {
	if actor.Role != models.RoleCaptain {
		return nil, apperr.Forbidden("only captains can post tasks")
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, apperr.Validation("title is required")
	}
	if in.GrossAmount < e.minGross || in.GrossAmount > e.maxGross {
		return nil, apperr.Validation("gross_amount must be between %d and %d, got %d", e.minGross, e.maxGross, in.GrossAmount)
	}
	if in.Location != nil && !in.InPerson {
		return nil, apperr.Validation("location is only allowed for in-person tasks")
	}
	if err := e.precheck(ctx, actor, config.EndpointCreateTask); err != nil {
		return nil, err
	}

	var res *TaskResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		poster, err := tx.GetProfile(ctx, actor.UserID)
		if err != nil {
			return notFound(err, "profile", actor.UserID)
		}
		quote, err := fees.Calculate(in.GrossAmount, poster.CompletedTasks)
		if err != nil {
			return apperr.Validation("%v", err)
		}

		id := uuid.New()
		task := &models.Task{
			ID:          id,
			Code:        models.TaskCode(id),
			Title:       in.Title,
			Description: in.Description,
			Category:    in.Category,
			GrossAmount: in.GrossAmount,
			Deadline:    in.Deadline,
			InPerson:    in.InPerson,
			Location:    in.Location,
			Status:      models.TaskStatusOpen,
			PosterID:    actor.UserID,
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		escrow := &models.EscrowTransaction{
			ID:            uuid.New(),
			TaskID:        id,
			PosterID:      actor.UserID,
			GrossAmount:   in.GrossAmount,
			PlatformFee:   quote.PlatformFee,
			NetPayout:     quote.NetPayout,
			FeePercentage: quote.AppliedFeePercent,
			Status:        models.EscrowStatusInEscrow,
		}
		if err := e.checkAmounts(escrow); err != nil {
			return err
		}
		if err := tx.InsertEscrow(ctx, escrow); err != nil {
			return err
		}
		err = e.audit(ctx, tx, id, actor, models.TaskEventCreated, "", string(models.TaskStatusOpen), map[string]any{
			"gross_amount":   in.GrossAmount,
			"platform_fee":   quote.PlatformFee,
			"net_payout":     quote.NetPayout,
			"fee_percentage": quote.AppliedFeePercent.String(),
		})
		if err != nil {
			return err
		}
		res = &TaskResult{Task: task, Escrow: escrow, Quote: &quote}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("task created", "task_id", res.Task.ID, "poster_id", actor.UserID, "gross_amount", in.GrossAmount, "platform_fee", res.Escrow.PlatformFee)
	return res, nil
}

// AcceptTask assigns the caller as doer. Of concurrent accepts on one open
// task exactly one succeeds; the rest get a conflict.
func (e *Engine) AcceptTask(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*TaskResult, error) {
	if actor.Role != models.RoleAce {
		return nil, apperr.Forbidden("only aces can accept tasks")
	}
	if err := e.precheck(ctx, actor, config.EndpointAcceptTask); err != nil {
		return nil, err
	}

	var res *TaskResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, escrow, err := loadTaskEscrow(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.PosterID == actor.UserID {
			return apperr.Forbidden("cannot accept your own task")
		}
		if task.DoerID != nil {
			return apperr.Conflict("task already accepted")
		}
		if err := transitions.Task(task.Status, models.TaskStatusAccepted); err != nil {
			return err
		}

		now := e.now().UTC()
		doer := actor.UserID
		if err := guardTask(ctx, tx, task.ID, models.TaskStatusOpen, repository.TaskFields{
			Status: models.TaskStatusAccepted, DoerID: &doer, AcceptedAt: &now,
		}); err != nil {
			return err
		}
		if err := guardEscrow(ctx, tx, escrow.ID, models.EscrowStatusInEscrow, repository.EscrowFields{
			Status: models.EscrowStatusInEscrow, DoerID: &doer,
		}); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventAccepted, string(task.Status), string(models.TaskStatusAccepted), nil); err != nil {
			return err
		}
		if err := tx.EnqueueNotification(ctx, models.Notification{
			UserID:  task.PosterID,
			Type:    models.NotifyTaskAccepted,
			Title:   fmt.Sprintf("%s was accepted", task.Code),
			Payload: map[string]any{"task_id": task.ID, "doer_id": doer},
		}); err != nil {
			return err
		}
		res, err = reload(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// StartTask moves an accepted task to in_progress. Only the assigned doer may call it.
func (e *Engine) StartTask(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*TaskResult, error) {
	if err := e.precheck(ctx, actor, ""); err != nil {
		return nil, err
	}
	var res *TaskResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, err := loadTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !isDoer(task, actor.UserID) {
			return apperr.Forbidden("only the assigned doer can start this task")
		}
		if err := transitions.Task(task.Status, models.TaskStatusInProgress); err != nil {
			return err
		}
		now := e.now().UTC()
		if err := guardTask(ctx, tx, task.ID, task.Status, repository.TaskFields{
			Status: models.TaskStatusInProgress, StartedAt: &now,
		}); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventStarted, string(task.Status), string(models.TaskStatusInProgress), nil); err != nil {
			return err
		}
		res, err = reload(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SubmitTask records the doer's submission and starts the auto-release clock
// on both the task and its escrow.
func (e *Engine) SubmitTask(ctx context.Context, actor models.Actor, taskID uuid.UUID, in SubmitInput) (*TaskResult, error) {
	if err := e.precheck(ctx, actor, ""); err != nil {
		return nil, err
	}
	var res *TaskResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, escrow, err := loadTaskEscrow(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !isDoer(task, actor.UserID) {
			return apperr.Forbidden("only the assigned doer can submit this task")
		}
		if err := transitions.Task(task.Status, models.TaskStatusSubmitted); err != nil {
			return err
		}

		now := e.now().UTC()
		releaseAt := now.Add(e.window)
		if err := guardTask(ctx, tx, task.ID, task.Status, repository.TaskFields{
			Status: models.TaskStatusSubmitted, SubmittedAt: &now, AutoReleaseAt: &releaseAt,
		}); err != nil {
			return err
		}
		if err := guardEscrow(ctx, tx, escrow.ID, models.EscrowStatusInEscrow, repository.EscrowFields{
			Status: models.EscrowStatusInEscrow, AutoReleaseAt: &releaseAt,
		}); err != nil {
			return err
		}
		if err := tx.InsertSubmission(ctx, &models.Submission{
			ID: uuid.New(), TaskID: task.ID, DoerID: actor.UserID, Message: in.Message, Attachments: in.Attachments,
		}); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventSubmitted, string(task.Status), string(models.TaskStatusSubmitted), map[string]any{
			"auto_release_at": releaseAt,
		}); err != nil {
			return err
		}
		if err := tx.EnqueueNotification(ctx, models.Notification{
			UserID:  task.PosterID,
			Type:    models.NotifyTaskSubmitted,
			Title:   fmt.Sprintf("%s was submitted for review", task.Code),
			Payload: map[string]any{"task_id": task.ID, "auto_release_at": releaseAt},
		}); err != nil {
			return err
		}
		res, err = reload(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApproveTask is the poster accepting the submission. It releases the escrow
// to the doer in the same unit of work.
func (e *Engine) ApproveTask(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*ReleaseResult, error) {
	return e.posterRelease(ctx, actor, taskID, releaseApprove)
}

// ReleasePayment is the poster's manual release. It shares the approve path,
// so at most one of the two ever succeeds for an escrow.
func (e *Engine) ReleasePayment(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*ReleaseResult, error) {
	return e.posterRelease(ctx, actor, taskID, releaseManual)
}

func (e *Engine) posterRelease(ctx context.Context, actor models.Actor, taskID uuid.UUID, mode releaseMode) (*ReleaseResult, error) {
	if err := e.precheck(ctx, actor, ""); err != nil {
		return nil, err
	}
	var res *ReleaseResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, escrow, err := loadTaskEscrow(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.PosterID != actor.UserID {
			return apperr.Forbidden("only the poster can release payment")
		}
		if escrow.Status.IsSettled() {
			return apperr.Conflict("payment already released")
		}
		if err := transitions.Task(task.Status, models.TaskStatusApproved); err != nil {
			return err
		}
		res, err = e.release(ctx, tx, actor, task, escrow, mode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ForceComplete lets an admin complete a submitted task and release its escrow.
func (e *Engine) ForceComplete(ctx context.Context, actor models.Actor, taskID uuid.UUID, reason string) (*ReleaseResult, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("admin only")
	}
	if err := e.precheck(ctx, actor, ""); err != nil {
		return nil, err
	}
	var res *ReleaseResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, escrow, err := loadTaskEscrow(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if escrow.Status.IsSettled() {
			return apperr.Conflict("payment already released")
		}
		if task.Status == models.TaskStatusDisputed {
			return apperr.Conflict("task is disputed; resolve the dispute instead")
		}
		if err := transitions.Task(task.Status, models.TaskStatusCompleted); err != nil {
			return err
		}
		res, err = e.release(ctx, tx, actor, task, escrow, releaseForce)
		if err != nil {
			return err
		}
		return tx.InsertAdminAction(ctx, &models.AdminAction{
			ID:         uuid.New(),
			AdminID:    actor.UserID,
			Action:     models.AdminActionForceComplete,
			TargetType: "task",
			TargetID:   task.ID,
			Metadata:   map[string]any{"reason": reason, "released_amount": res.ReleasedAmount},
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AutoReleaseDue releases every submitted task whose auto-release time has
// passed. Each task is its own unit of work; losing a race to the poster is
// counted as a conflict, not an error.
func (e *Engine) AutoReleaseDue(ctx context.Context, now time.Time, limit int) (AutoReleaseReport, error) {
	var ids []uuid.UUID
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		ids, err = tx.ListDueForAutoRelease(ctx, now, limit)
		return err
	})
	if err != nil {
		return AutoReleaseReport{}, fmt.Errorf("list due tasks: %w", err)
	}

	rep := AutoReleaseReport{Due: len(ids)}
	system := models.SystemActor()
	for _, id := range ids {
		err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			task, escrow, err := loadTaskEscrow(ctx, tx, id)
			if err != nil {
				return err
			}
			if task.Status != models.TaskStatusSubmitted || escrow.Status.IsSettled() {
				return apperr.Conflict("task no longer awaiting release")
			}
			if task.AutoReleaseAt == nil || task.AutoReleaseAt.After(now) {
				return apperr.Conflict("auto-release time moved")
			}
			_, err = e.release(ctx, tx, system, task, escrow, releaseAuto)
			return err
		})
		switch {
		case err == nil:
			rep.Released++
		case errors.Is(err, apperr.ErrConflict):
			rep.Conflicts++
		default:
			rep.Failed++
			e.logger.Error("auto-release failed", "task_id", id, "error", err)
		}
	}
	if rep.Due > 0 {
		e.logger.Info("auto-release sweep", "due", rep.Due, "released", rep.Released, "conflicts", rep.Conflicts, "failed", rep.Failed)
	}
	return rep, nil
}

// release settles a submitted task in the doer's favor: task to completed,
// escrow to released, net payout credited, counters bumped, events written.
func (e *Engine) release(ctx context.Context, tx repository.Tx, actor models.Actor, task *models.Task, escrow *models.EscrowTransaction, mode releaseMode) (*ReleaseResult, error) {
	if task.DoerID == nil {
		return nil, e.invariant("task %s has no doer at release", task.ID)
	}
	if err := e.checkAmounts(escrow); err != nil {
		return nil, err
	}
	if err := transitions.Escrow(escrow.Status, models.EscrowStatusReleased); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	switch mode {
	case releaseApprove, releaseManual:
		if err := guardTask(ctx, tx, task.ID, models.TaskStatusSubmitted, repository.TaskFields{
			Status: models.TaskStatusApproved, ApprovedAt: &now,
		}); err != nil {
			return nil, err
		}
		if err := transitions.Task(models.TaskStatusApproved, models.TaskStatusCompleted); err != nil {
			return nil, err
		}
		if err := guardTask(ctx, tx, task.ID, models.TaskStatusApproved, repository.TaskFields{
			Status: models.TaskStatusCompleted, CompletedAt: &now,
		}); err != nil {
			return nil, err
		}
	default:
		if err := guardTask(ctx, tx, task.ID, models.TaskStatusSubmitted, repository.TaskFields{
			Status: models.TaskStatusCompleted, CompletedAt: &now,
		}); err != nil {
			return nil, err
		}
	}
	if err := guardEscrow(ctx, tx, escrow.ID, escrow.Status, repository.EscrowFields{
		Status: models.EscrowStatusReleased, ReleasedAt: &now,
	}); err != nil {
		return nil, err
	}

	actorID := actor.UserID
	ev, err := e.ledger.Credit(ctx, tx, ledger.Entry{
		UserID:   *task.DoerID,
		Amount:   escrow.NetPayout,
		Type:     models.WalletEventEscrowRelease,
		TaskID:   &task.ID,
		EscrowID: &escrow.ID,
		ActorID:  &actorID,
		Metadata: map[string]any{"release": string(mode), "platform_fee": escrow.PlatformFee},
	})
	if err != nil {
		return nil, err
	}
	for _, uid := range []uuid.UUID{task.PosterID, *task.DoerID} {
		if err := tx.IncrementCompletedTasks(ctx, uid); err != nil {
			return nil, notFound(err, "profile", uid)
		}
	}

	meta := map[string]any{"net_payout": escrow.NetPayout, "escrow_id": escrow.ID, "release": string(mode)}
	switch mode {
	case releaseApprove, releaseManual:
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventApproved, string(models.TaskStatusSubmitted), string(models.TaskStatusApproved), nil); err != nil {
			return nil, err
		}
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventPaymentReleased, string(models.TaskStatusApproved), string(models.TaskStatusCompleted), meta); err != nil {
			return nil, err
		}
	case releaseAuto:
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventAutoReleased, string(models.TaskStatusSubmitted), string(models.TaskStatusCompleted), meta); err != nil {
			return nil, err
		}
	case releaseForce:
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventForceCompleted, string(models.TaskStatusSubmitted), string(models.TaskStatusCompleted), meta); err != nil {
			return nil, err
		}
	}
	if err := tx.EnqueueNotification(ctx, models.Notification{
		UserID:  *task.DoerID,
		Type:    models.NotifyPaymentReleased,
		Title:   fmt.Sprintf("Payment for %s released", task.Code),
		Payload: map[string]any{"task_id": task.ID, "amount": escrow.NetPayout},
	}); err != nil {
		return nil, err
	}

	res, err := reload(ctx, tx, task.ID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("escrow released", "task_id", task.ID, "escrow_id", escrow.ID, "doer_id", *task.DoerID, "amount", escrow.NetPayout, "mode", string(mode))
	return &ReleaseResult{Task: res.Task, Escrow: res.Escrow, ReleasedAmount: escrow.NetPayout, WalletEvent: ev}, nil
}

// DisputeTask freezes a submitted task's escrow and opens a dispute. Either
// participant or an admin may raise it.
func (e *Engine) DisputeTask(ctx context.Context, actor models.Actor, taskID uuid.UUID, in DisputeInput) (*DisputeResult, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return nil, apperr.Validation("reason is required")
	}
	if err := e.precheck(ctx, actor, ""); err != nil {
		return nil, err
	}

	var res *DisputeResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, escrow, err := loadTaskEscrow(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !task.IsParticipant(actor.UserID) && !actor.IsAdmin() {
			return apperr.Forbidden("only the poster or doer can dispute this task")
		}
		if task.Status == models.TaskStatusDisputed {
			return apperr.Conflict("task already disputed")
		}
		if escrow.Status.IsSettled() {
			return apperr.Conflict("payment already released")
		}
		if err := transitions.Task(task.Status, models.TaskStatusDisputed); err != nil {
			return err
		}
		if err := transitions.Escrow(escrow.Status, models.EscrowStatusDisputed); err != nil {
			return err
		}
		if err := guardTask(ctx, tx, task.ID, task.Status, repository.TaskFields{Status: models.TaskStatusDisputed}); err != nil {
			return err
		}
		if err := guardEscrow(ctx, tx, escrow.ID, escrow.Status, repository.EscrowFields{Status: models.EscrowStatusDisputed}); err != nil {
			return err
		}

		d := &models.Dispute{
			ID:           uuid.New(),
			TaskID:       task.ID,
			EscrowID:     &escrow.ID,
			RaisedBy:     actor.UserID,
			RaisedByRole: actor.Role,
			Reason:       in.Reason,
			Description:  in.Description,
			Status:       models.DisputeStatusOpen,
		}
		if err := tx.InsertDispute(ctx, d); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventDisputed, string(task.Status), string(models.TaskStatusDisputed), map[string]any{
			"dispute_id": d.ID, "reason": in.Reason,
		}); err != nil {
			return err
		}
		for _, uid := range counterparties(task, actor.UserID) {
			if err := tx.EnqueueNotification(ctx, models.Notification{
				UserID:  uid,
				Type:    models.NotifyTaskDisputed,
				Title:   fmt.Sprintf("%s was disputed", task.Code),
				Payload: map[string]any{"task_id": task.ID, "dispute_id": d.ID, "reason": in.Reason},
			}); err != nil {
				return err
			}
		}
		r, err := reload(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		res = &DisputeResult{Task: r.Task, Escrow: r.Escrow, Dispute: d}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelTask withdraws a task before work is submitted and refunds the full
// gross amount to the poster.
func (e *Engine) CancelTask(ctx context.Context, actor models.Actor, taskID uuid.UUID, reason string) (*TaskResult, error) {
	if err := e.precheck(ctx, actor, ""); err != nil {
		return nil, err
	}
	var res *TaskResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, escrow, err := loadTaskEscrow(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.PosterID != actor.UserID && !actor.IsAdmin() {
			return apperr.Forbidden("only the poster can cancel this task")
		}
		if escrow.Status.IsSettled() {
			return apperr.Conflict("escrow already settled")
		}
		if task.Status != models.TaskStatusOpen && task.Status != models.TaskStatusAccepted {
			return apperr.InvalidTransition(string(task.Status), string(models.TaskStatusCancelled))
		}
		if err := transitions.Task(task.Status, models.TaskStatusCancelled); err != nil {
			return err
		}
		if err := transitions.Escrow(escrow.Status, models.EscrowStatusRefunded); err != nil {
			return err
		}

		now := e.now().UTC()
		if err := guardTask(ctx, tx, task.ID, task.Status, repository.TaskFields{
			Status: models.TaskStatusCancelled, CancelledAt: &now,
		}); err != nil {
			return err
		}
		if err := guardEscrow(ctx, tx, escrow.ID, escrow.Status, repository.EscrowFields{
			Status: models.EscrowStatusRefunded, RefundedAt: &now,
		}); err != nil {
			return err
		}
		actorID := actor.UserID
		if _, err := e.ledger.Credit(ctx, tx, ledger.Entry{
			UserID:   task.PosterID,
			Amount:   escrow.GrossAmount,
			Type:     models.WalletEventEscrowRefund,
			TaskID:   &task.ID,
			EscrowID: &escrow.ID,
			ActorID:  &actorID,
			Metadata: map[string]any{"reason": reason},
		}); err != nil {
			return err
		}
		if err := e.audit(ctx, tx, task.ID, actor, models.TaskEventCancelled, string(task.Status), string(models.TaskStatusCancelled), map[string]any{
			"reason": reason, "refunded": escrow.GrossAmount,
		}); err != nil {
			return err
		}
		if task.DoerID != nil {
			if err := tx.EnqueueNotification(ctx, models.Notification{
				UserID:  *task.DoerID,
				Type:    models.NotifyTaskCancelled,
				Title:   fmt.Sprintf("%s was cancelled", task.Code),
				Payload: map[string]any{"task_id": task.ID, "reason": reason},
			}); err != nil {
				return err
			}
		}
		res, err = reload(ctx, tx, task.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ---- reads ----

// GetTask returns a task. The escrow is included for participants and admins.
func (e *Engine) GetTask(ctx context.Context, actor models.Actor, taskID uuid.UUID) (*TaskResult, error) {
	var res *TaskResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := reload(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !r.Task.IsParticipant(actor.UserID) && !actor.IsAdmin() {
			r.Escrow = nil
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TaskEvents returns a task's audit trail to its participants and admins.
func (e *Engine) TaskEvents(ctx context.Context, actor models.Actor, taskID uuid.UUID) ([]*models.TaskEvent, error) {
	var events []*models.TaskEvent
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		task, err := loadTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !task.IsParticipant(actor.UserID) && !actor.IsAdmin() {
			return apperr.Forbidden("not a participant of this task")
		}
		events, err = tx.ListTaskEvents(ctx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ---- helpers ----

// precheck runs the frozen-account and rate-limit policies. An empty
// endpoint skips rate limiting. Scheduled work is never frozen.
func (e *Engine) precheck(ctx context.Context, actor models.Actor, endpoint string) error {
	if actor.Role == models.RoleSystem {
		return nil
	}
	if e.freeze != nil {
		frozen, err := e.freeze.IsFrozen(ctx, actor.UserID)
		if err != nil {
			return fmt.Errorf("freeze check: %w", err)
		}
		if frozen {
			return apperr.AccountFrozen()
		}
	}
	if endpoint != "" && e.limiter != nil {
		if err := e.limiter.Allow(ctx, actor.UserID, endpoint); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkAmounts(escrow *models.EscrowTransaction) error {
	if !escrow.AmountsBalance() {
		return e.invariant("escrow %s amounts do not balance: gross %d, fee %d, net %d", escrow.ID, escrow.GrossAmount, escrow.PlatformFee, escrow.NetPayout)
	}
	return nil
}

func (e *Engine) invariant(format string, args ...any) error {
	err := apperr.Invariant(format, args...)
	e.logger.Error("invariant violation", "error", err)
	return err
}

func (e *Engine) audit(ctx context.Context, tx repository.Tx, taskID uuid.UUID, actor models.Actor, eventType, from, to string, meta map[string]any) error {
	actorID := actor.UserID
	return tx.InsertTaskEvent(ctx, &models.TaskEvent{
		ID:        uuid.New(),
		TaskID:    taskID,
		ActorID:   &actorID,
		ActorRole: actor.Role,
		EventType: eventType,
		OldState:  from,
		NewState:  to,
		Metadata:  meta,
	})
}

func guardTask(ctx context.Context, tx repository.Tx, id uuid.UUID, expected models.TaskStatus, f repository.TaskFields) error {
	out, err := tx.UpdateTask(ctx, repository.TaskGuard{ID: id, Expected: expected, Fields: f})
	if err != nil {
		return err
	}
	return out.Err()
}

func guardEscrow(ctx context.Context, tx repository.Tx, id uuid.UUID, expected models.EscrowStatus, f repository.EscrowFields) error {
	out, err := tx.UpdateEscrow(ctx, repository.EscrowGuard{ID: id, Expected: expected, Fields: f})
	if err != nil {
		return err
	}
	return out.Err()
}

func loadTask(ctx context.Context, tx repository.Tx, id uuid.UUID) (*models.Task, error) {
	task, err := tx.GetTask(ctx, id)
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	return task, nil
}

func loadTaskEscrow(ctx context.Context, tx repository.Tx, taskID uuid.UUID) (*models.Task, *models.EscrowTransaction, error) {
	task, err := loadTask(ctx, tx, taskID)
	if err != nil {
		return nil, nil, err
	}
	escrow, err := tx.GetEscrowByTask(ctx, taskID)
	if err != nil {
		return nil, nil, notFound(err, "escrow for task", taskID)
	}
	return task, escrow, nil
}

func reload(ctx context.Context, tx repository.Tx, taskID uuid.UUID) (*TaskResult, error) {
	task, escrow, err := loadTaskEscrow(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskResult{Task: task, Escrow: escrow}, nil
}

// notFound maps repository.ErrNotFound to the typed error and passes any
// other error through.
func notFound(err error, entity string, id any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(entity, id)
	}
	return err
}

func isDoer(task *models.Task, userID uuid.UUID) bool {
	return task.DoerID != nil && *task.DoerID == userID
}

// counterparties returns the participants other than userID.
func counterparties(task *models.Task, userID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	if task.PosterID != userID {
		out = append(out, task.PosterID)
	}
	if task.DoerID != nil && *task.DoerID != userID {
		out = append(out, *task.DoerID)
	}
	return out
}
