package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/idempotency"
	"github.com/captainace/backend/internal/middleware"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
	"github.com/captainace/backend/internal/services"
)

// TaskHandler serves the /v1 task, dispute and wallet endpoints. Every
// mutation is schema-validated, then run through the idempotency guard so
// a retried request with the same Idempotency-Key replays the first result.
type TaskHandler struct {
	Store     repository.Store
	Engine    *services.Engine
	Validator *services.Validator
	Logger    *slog.Logger
}

// operation describes one mutating endpoint.
type operation struct {
	endpoint string // idempotency record + log label
	schema   string // "" means no body is expected
	status   int
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// --- tasks ---

// CreateTask handles POST /v1/tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	op := operation{endpoint: "POST /v1/tasks", schema: services.SchemaCreateTask, status: http.StatusCreated}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*services.TaskResult, error) {
		var in services.CreateTaskInput
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.CreateTask(ctx, actor, in)
	})
}

// AcceptTask handles POST /v1/tasks/{id}/accept.
func (h *TaskHandler) AcceptTask(w http.ResponseWriter, r *http.Request) {
	op := operation{endpoint: "POST /v1/tasks/{id}/accept", status: http.StatusOK}
	withID(h, w, r, op, h.Engine.AcceptTask)
}

// StartTask handles POST /v1/tasks/{id}/start.
func (h *TaskHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	op := operation{endpoint: "POST /v1/tasks/{id}/start", status: http.StatusOK}
	withID(h, w, r, op, h.Engine.StartTask)
}

// SubmitTask handles POST /v1/tasks/{id}/submit.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	op := operation{endpoint: "POST /v1/tasks/{id}/submit", schema: services.SchemaSubmitTask, status: http.StatusOK}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*services.TaskResult, error) {
		var in services.SubmitInput
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.SubmitTask(ctx, actor, id, in)
	})
}

// ApproveTask handles POST /v1/tasks/{id}/approve.
func (h *TaskHandler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	op := operation{endpoint: "POST /v1/tasks/{id}/approve", status: http.StatusOK}
	withID(h, w, r, op, h.Engine.ApproveTask)
}

// ReleasePayment handles POST /v1/tasks/{id}/release.
func (h *TaskHandler) ReleasePayment(w http.ResponseWriter, r *http.Request) {
	op := operation{endpoint: "POST /v1/tasks/{id}/release", status: http.StatusOK}
	withID(h, w, r, op, h.Engine.ReleasePayment)
}

// DisputeTask handles POST /v1/tasks/{id}/dispute.
func (h *TaskHandler) DisputeTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	op := operation{endpoint: "POST /v1/tasks/{id}/dispute", schema: services.SchemaDisputeTask, status: http.StatusCreated}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*services.DisputeResult, error) {
		var in services.DisputeInput
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.DisputeTask(ctx, actor, id, in)
	})
}

// CancelTask handles POST /v1/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	op := operation{endpoint: "POST /v1/tasks/{id}/cancel", schema: services.SchemaReason, status: http.StatusOK}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*services.TaskResult, error) {
		var in reasonRequest
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.CancelTask(ctx, actor, id, in.Reason)
	})
}

// GetTask handles GET /v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	res, err := h.Engine.GetTask(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- disputes ---

// ResolveDispute handles POST /v1/disputes/{id}/resolve (admin).
func (h *TaskHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	op := operation{endpoint: "POST /v1/disputes/{id}/resolve", schema: services.SchemaResolveDispute, status: http.StatusOK}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*services.Resolution, error) {
		var in services.ResolveInput
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.ResolveDispute(ctx, actor, id, in)
	})
}

// ReviewDispute handles POST /v1/disputes/{id}/review (admin).
func (h *TaskHandler) ReviewDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	op := operation{endpoint: "POST /v1/disputes/{id}/review", schema: services.SchemaReviewDispute, status: http.StatusOK}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*models.Dispute, error) {
		var in services.ReviewInput
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.ReviewDispute(ctx, actor, id, in)
	})
}

// GetDispute handles GET /v1/disputes/{id}.
func (h *TaskHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	d, err := h.Engine.GetDispute(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- wallet ---

// Deposit handles POST /v1/wallet/deposit (sandbox funds).
func (h *TaskHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	op := operation{endpoint: "POST /v1/wallet/deposit", schema: services.SchemaWalletAmount, status: http.StatusOK}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*services.WalletResult, error) {
		var in services.AmountInput
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.SandboxDeposit(ctx, actor, in)
	})
}

// Withdraw handles POST /v1/wallet/withdraw.
func (h *TaskHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	op := operation{endpoint: "POST /v1/wallet/withdraw", schema: services.SchemaWalletAmount, status: http.StatusOK}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*services.WalletResult, error) {
		var in services.AmountInput
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.SandboxWithdraw(ctx, actor, in)
	})
}

// GetWallet handles GET /v1/wallet (own) and GET /v1/admin/wallets/{user_id}.
func (h *TaskHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	userID := actor.UserID
	if r.PathValue("user_id") != "" {
		if userID, ok = pathID(w, r, "user_id"); !ok {
			return
		}
	}
	view, err := h.Engine.GetWallet(r.Context(), actor, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- admin ---

// AdminCredit handles POST /v1/admin/wallet/credit.
func (h *TaskHandler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	op := operation{endpoint: "POST /v1/admin/wallet/credit", schema: services.SchemaAdminCredit, status: http.StatusOK}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*services.WalletResult, error) {
		var in services.AdminCreditInput
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.AdminCredit(ctx, actor, in)
	})
}

// ForceComplete handles POST /v1/admin/tasks/{id}/force-complete.
func (h *TaskHandler) ForceComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	op := operation{endpoint: "POST /v1/admin/tasks/{id}/force-complete", schema: services.SchemaReason, status: http.StatusOK}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, body []byte) (*services.ReleaseResult, error) {
		var in reasonRequest
		if err := decode(body, &in); err != nil {
			return nil, err
		}
		return h.Engine.ForceComplete(ctx, actor, id, in.Reason)
	})
}

// --- helpers ---

// mutate runs one guarded mutation: actor, body, schema, idempotency, engine.
func mutate[T any](h *TaskHandler, w http.ResponseWriter, r *http.Request, op operation, exec func(ctx context.Context, actor models.Actor, body []byte) (T, error)) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	body, err := requestBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": "failed to read body"})
		return
	}
	if op.schema != "" {
		if err := h.Validator.Validate(op.schema, body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	req := idempotency.Request{
		Key:      middleware.IdempotencyKeyFromCtx(r.Context()),
		UserID:   actor.UserID,
		Endpoint: op.endpoint,
		Target:   r.URL.Path,
		Body:     body,
	}
	res, err := idempotency.Do(r.Context(), h.Store, req, func(ctx context.Context) (T, error) {
		return exec(ctx, actor, body)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, op.status, res)
}

// withID serves a body-less mutation on the {id} path segment.
func withID[T any](h *TaskHandler, w http.ResponseWriter, r *http.Request, op operation, fn func(ctx context.Context, actor models.Actor, id uuid.UUID) (T, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	mutate(h, w, r, op, func(ctx context.Context, actor models.Actor, _ []byte) (T, error) {
		return fn(ctx, actor, id)
	})
}

// requestBody prefers the bytes captured by middleware.CaptureBody.
func requestBody(r *http.Request) ([]byte, error) {
	if b := middleware.BodyFromCtx(r.Context()); b != nil {
		return b, nil
	}
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(r.Body)
}

func decode(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Validation("invalid JSON: %v", err)
	}
	return nil
}

func requireActor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}
	return actor, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

type errorResponse struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
	From    string      `json:"from,omitempty"`
	To      string      `json:"to,omitempty"`
}

// writeError maps an engine error to its status. Anything untyped is a 500
// with a generic body.
func (h *TaskHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	var ae *apperr.Error
	if status == http.StatusInternalServerError || !errors.As(err, &ae) {
		h.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: ae.Kind, Message: ae.Error(), From: ae.From, To: ae.To})
}

func (h *TaskHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
