package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
)

func newTestService() *service {
	return NewService(NewRepository(repository.NewMemoryStore()), "test-secret", time.Hour)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	p, err := svc.Register(ctx, " Cap@Example.com ", "password123", "Cap", models.RoleCaptain)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.Email != "cap@example.com" || p.PasswordHash == "password123" {
		t.Errorf("profile = %+v", p)
	}
	if _, err := svc.Register(ctx, "cap@example.com", "password123", "Again", models.RoleAce); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("duplicate = %v, want ErrDuplicateEmail", err)
	}
	if _, err := svc.Register(ctx, "root@example.com", "password123", "Root", models.RoleAdmin); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("admin register = %v, want ErrInvalidRole", err)
	}

	if _, err := svc.Login(ctx, "cap@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("bad password = %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email = %v", err)
	}
	token, err := svc.Login(ctx, "CAP@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	actor, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if actor.UserID != p.ID || actor.Role != models.RoleCaptain {
		t.Errorf("actor = %+v", actor)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p, err := svc.Register(ctx, "ace@example.com", "password123", "Ace", models.RoleAce)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, _ := svc.issueToken(p.ID, p.Role)
	other := NewService(svc.repo, "other-secret", time.Hour)
	if _, err := other.ValidateToken(ctx, token); err == nil {
		t.Error("token signed with another secret accepted")
	}

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := svc.issueToken(p.ID, p.Role)
	svc.now = time.Now
	if _, err := svc.ValidateToken(ctx, expired); err == nil {
		t.Error("expired token accepted")
	}

	forged, _ := svc.issueToken(p.ID, models.RoleSystem)
	if _, err := svc.ValidateToken(ctx, forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("system role token = %v, want ErrInvalidToken", err)
	}
}

func TestSeedAdmin_Idempotent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := svc.SeedAdmin(ctx, "admin@example.com", "password123"); err != nil {
			t.Fatalf("SeedAdmin #%d: %v", i+1, err)
		}
	}
	token, err := svc.Login(ctx, "admin@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	actor, err := svc.ValidateToken(ctx, token)
	if err != nil || !actor.IsAdmin() {
		t.Errorf("actor = %+v, err = %v", actor, err)
	}
}

func TestHandler_RegisterLogin(t *testing.T) {
	h := NewHandler(newTestService(), nil)

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"a@example.com","password":"password123","display_name":"A","role":"ace"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"b@example.com","password":"password123","display_name":"B","role":"admin"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("admin register status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"a@example.com","password":"nope-nope"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"a@example.com","password":"password123"}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"token"`) {
		t.Errorf("login status = %d body=%s", rec.Code, rec.Body)
	}
}
