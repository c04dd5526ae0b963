package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/auth"
	"github.com/captainace/backend/internal/middleware"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
	"github.com/captainace/backend/internal/services"
)

// Handler serves the read-only account views under /api/v1.
type Handler struct {
	tokens middleware.TokenValidator
	store  repository.Store
	engine *services.Engine
	log    *slog.Logger
}

func NewHandler(tokens middleware.TokenValidator, store repository.Store, engine *services.Engine, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{tokens: tokens, store: store, engine: engine, log: log}
}

func (h *Handler) actorFromRequest(r *http.Request) (models.Actor, error) {
	if a, ok := middleware.ActorFromCtx(r.Context()); ok {
		return a, nil
	}
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return models.Actor{}, fmt.Errorf("missing authorization")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return models.Actor{}, fmt.Errorf("bad authorization format")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return models.Actor{}, fmt.Errorf("empty token")
	}
	return h.tokens.ValidateToken(r.Context(), token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var p *models.Profile
	err = h.store.InTx(r.Context(), func(ctx context.Context, tx repository.Tx) error {
		p, err = tx.GetProfile(ctx, actor.UserID)
		return err
	})
	if err != nil {
		h.log.Error("get profile failed", "user_id", actor.UserID, "error", err)
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, auth.ProfileToResponse(p))
}

// GET /api/v1/wallet/events
func (h *Handler) ListWalletEvents(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	view, err := h.engine.GetWallet(r.Context(), actor, actor.UserID)
	if err != nil {
		h.fail(w, "list wallet events failed", err)
		return
	}
	events := view.Events
	if events == nil {
		events = []*models.WalletEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GET /api/v1/tasks/{id}/events
func (h *Handler) ListTaskEvents(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task ID", http.StatusBadRequest)
		return
	}
	events, err := h.engine.TaskEvents(r.Context(), actor, taskID)
	if err != nil {
		h.fail(w, "list task events failed", err)
		return
	}
	if events == nil {
		events = []*models.TaskEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error(msg, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
