package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/auth"
	"github.com/captainace/backend/internal/ledger"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/policy"
	"github.com/captainace/backend/internal/repository"
	"github.com/captainace/backend/internal/services"
)

// tokenTable maps raw tokens to actors.
type tokenTable map[string]models.Actor

func (t tokenTable) ValidateToken(_ context.Context, token string) (models.Actor, error) {
	a, ok := t[token]
	if !ok {
		return models.Actor{}, errors.New("unknown token")
	}
	return a, nil
}

func setup(t *testing.T) (*Handler, *services.Engine, models.Actor, models.Actor) {
	t.Helper()
	store := repository.NewMemoryStore()
	poster := models.Actor{UserID: uuid.New(), Role: models.RoleCaptain}
	outsider := models.Actor{UserID: uuid.New(), Role: models.RoleAce}
	err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreateProfile(ctx, &models.Profile{ID: poster.UserID, Email: "cap@example.com", DisplayName: "Cap", Role: models.RoleCaptain}); err != nil {
			return err
		}
		return tx.CreateProfile(ctx, &models.Profile{ID: outsider.UserID, Email: "ace@example.com", Role: models.RoleAce})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := services.NewEngine(store, ledger.NewService(logger), policy.NewProfileFreeze(store), nil, services.Options{Logger: logger})
	tokens := tokenTable{"cap-token": poster, "ace-token": outsider}
	return NewHandler(tokens, store, engine, logger), engine, poster, outsider
}

func get(h http.HandlerFunc, path, token string, pathValues map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestGetMe(t *testing.T) {
	h, _, poster, _ := setup(t)

	if rec := get(h.GetMe, "/api/v1/account/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", rec.Code)
	}
	if rec := get(h.GetMe, "/api/v1/account/me", "forged", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", rec.Code)
	}

	rec := get(h.GetMe, "/api/v1/account/me", "cap-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var p auth.ProfileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.ID != poster.UserID.String() || p.Role != models.RoleCaptain {
		t.Errorf("profile = %+v", p)
	}
}

func TestListWalletEvents(t *testing.T) {
	h, engine, poster, _ := setup(t)
	if _, err := engine.SandboxDeposit(context.Background(), poster, services.AmountInput{Amount: 700}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	rec := get(h.ListWalletEvents, "/api/v1/wallet/events", "cap-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var events []models.WalletEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].BalanceAfter != 700 {
		t.Errorf("events = %+v", events)
	}

	rec = get(h.ListWalletEvents, "/api/v1/wallet/events", "ace-token", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("empty wallet = %d %q", rec.Code, rec.Body)
	}
}

func TestListTaskEvents(t *testing.T) {
	h, engine, poster, _ := setup(t)
	res, err := engine.CreateTask(context.Background(), poster, services.CreateTaskInput{Title: "Move boxes", GrossAmount: 1500})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	id := map[string]string{"id": res.Task.ID.String()}

	rec := get(h.ListTaskEvents, "/api/v1/tasks/x/events", "cap-token", id)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var events []models.TaskEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 {
		t.Error("expected the creation event")
	}

	if rec := get(h.ListTaskEvents, "/api/v1/tasks/x/events", "ace-token", id); rec.Code != http.StatusForbidden {
		t.Errorf("outsider status = %d, want 403", rec.Code)
	}
	if rec := get(h.ListTaskEvents, "/api/v1/tasks/x/events", "cap-token", map[string]string{"id": "nope"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
}
