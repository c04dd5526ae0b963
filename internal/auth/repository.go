package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/captainace/backend/internal/models"
	"github.com/captainace/backend/internal/repository"
)

// Repository reads and writes login profiles through the shared store.
type Repository struct {
	store repository.Store
}

func NewRepository(store repository.Store) *Repository {
	return &Repository{store: store}
}

// Create inserts a new profile. A taken email returns ErrDuplicateEmail.
func (r *Repository) Create(ctx context.Context, p *models.Profile) error {
	p.Email = normalizeEmail(p.Email)
	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateProfile(ctx, p)
	})
	if errors.Is(err, repository.ErrDuplicateKey) {
		return ErrDuplicateEmail
	}
	return err
}

// GetByEmail returns the profile for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var p *models.Profile
	err := r.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		p, err = tx.GetProfileByEmail(ctx, normalizeEmail(email))
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
