package idempotency

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/captainace/backend/internal/apperr"
	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
)

type result struct {
	TaskID uuid.UUID `json:"task_id"`
	Amount int64     `json:"amount"`
}

func TestDo_ReplayReturnsStoredResponse(t *testing.T) {
	store := repository.NewMemoryStore()
	user := uuid.New()
	calls := 0
	exec := func(ctx context.Context) (result, error) {
		calls++
		return result{TaskID: uuid.New(), Amount: 8000}, nil
	}
	req := Request{Key: "k1", UserID: user, Endpoint: "approve", Body: []byte(`{"b":1,"a":"x"}`)}

	first, err := Do(context.Background(), store, req, exec)
	if err != nil {
		t.Fatalf("first Do: %v", err)
	}
	// Same document, different key order and spacing.
	req.Body = []byte(`{ "a": "x", "b": 1 }`)
	second, err := Do(context.Background(), store, req, exec)
	if err != nil {
		t.Fatalf("second Do: %v", err)
	}
	if calls != 1 {
		t.Errorf("exec calls = %d, want 1", calls)
	}
	if first != second {
		t.Errorf("responses differ: %+v vs %+v", first, second)
	}
}

func TestDo_DifferentBodyIsConflict(t *testing.T) {
	store := repository.NewMemoryStore()
	user := uuid.New()
	calls := 0
	exec := func(ctx context.Context) (result, error) {
		calls++
		return result{Amount: 1}, nil
	}
	if _, err := Do(context.Background(), store, Request{Key: "k", UserID: user, Body: []byte(`{"amount":1}`)}, exec); err != nil {
		t.Fatalf("first Do: %v", err)
	}
	_, err := Do(context.Background(), store, Request{Key: "k", UserID: user, Body: []byte(`{"amount":2}`)}, exec)
	if !errors.Is(err, apperr.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want idempotency conflict", err)
	}
	if calls != 1 {
		t.Errorf("exec calls = %d, want 1", calls)
	}
}

func TestDo_KeyIsScopedPerUser(t *testing.T) {
	store := repository.NewMemoryStore()
	calls := 0
	exec := func(ctx context.Context) (result, error) {
		calls++
		return result{}, nil
	}
	for _, user := range []uuid.UUID{uuid.New(), uuid.New()} {
		if _, err := Do(context.Background(), store, Request{Key: "shared", UserID: user, Body: []byte(`{}`)}, exec); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("exec calls = %d, want 2", calls)
	}
}

func TestDo_FailedExecLeavesNoRecord(t *testing.T) {
	store := repository.NewMemoryStore()
	user := uuid.New()
	taskID := uuid.New()
	fail := true
	exec := func(ctx context.Context) (result, error) {
		// A write made before the failure must roll back with it.
		err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.InsertTask(ctx, &models.Task{ID: taskID, Status: models.TaskStatusOpen})
		})
		if err != nil {
			return result{}, err
		}
		if fail {
			return result{}, errors.New("transient")
		}
		return result{TaskID: taskID}, nil
	}
	req := Request{Key: "retry", UserID: user, Body: []byte(`{}`)}

	if _, err := Do(context.Background(), store, req, exec); err == nil {
		t.Fatal("expected transient error")
	}
	_ = store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.GetIdempotencyKey(ctx, "retry", user); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("record after failure: %v, want not found", err)
		}
		if _, err := tx.GetTask(ctx, taskID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("task after failure: %v, want rolled back", err)
		}
		return nil
	})

	fail = false
	got, err := Do(context.Background(), store, req, exec)
	if err != nil {
		t.Fatalf("retry Do: %v", err)
	}
	if got.TaskID != taskID {
		t.Errorf("retry result = %+v", got)
	}
}

func TestDo_NoKeyExecutesEveryTime(t *testing.T) {
	store := repository.NewMemoryStore()
	calls := 0
	exec := func(ctx context.Context) (result, error) {
		calls++
		return result{}, nil
	}
	for i := 0; i < 3; i++ {
		if _, err := Do(context.Background(), store, Request{UserID: uuid.New()}, exec); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if calls != 3 {
		t.Errorf("exec calls = %d, want 3", calls)
	}
}

func TestCanonicalize(t *testing.T) {
	a, err := Canonicalize([]byte(`{"z":{"b":2,"a":1},"n":1.50}`))
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(a) != `{"n":1.50,"z":{"a":1,"b":2}}` {
		t.Errorf("canonical = %s", a)
	}
	if _, err := Canonicalize([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Error("expected error for trailing data")
	}
	empty, _ := Canonicalize(nil)
	if string(empty) != "null" {
		t.Errorf("empty body = %s, want null", empty)
	}
}

func TestDo_KeyReusedOnAnotherTargetOrEndpoint(t *testing.T) {
	store := repository.NewMemoryStore()
	user := uuid.New()
	calls := 0
	exec := func(ctx context.Context) (result, error) {
		calls++
		return result{Amount: int64(calls)}, nil
	}
	first := Request{Key: "same", UserID: user, Endpoint: "POST /v1/tasks/{id}/accept", Target: "/v1/tasks/a/accept"}
	if _, err := Do(context.Background(), store, first, exec); err != nil {
		t.Fatalf("first Do: %v", err)
	}

	for name, req := range map[string]Request{
		"other target":   {Key: "same", UserID: user, Endpoint: first.Endpoint, Target: "/v1/tasks/b/accept"},
		"other endpoint": {Key: "same", UserID: user, Endpoint: "POST /v1/tasks/{id}/approve", Target: "/v1/tasks/a/approve"},
	} {
		if _, err := Do(context.Background(), store, req, exec); !errors.Is(err, apperr.ErrIdempotencyConflict) {
			t.Errorf("%s: err = %v, want idempotency conflict", name, err)
		}
	}
	if calls != 1 {
		t.Errorf("exec calls = %d, want 1", calls)
	}

	// The original request still replays.
	got, err := Do(context.Background(), store, first, exec)
	if err != nil || got.Amount != 1 {
		t.Errorf("replay = %+v, %v", got, err)
	}
}
