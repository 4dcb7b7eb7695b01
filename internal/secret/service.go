// Package secret implements the encrypted secret store. Payloads arrive
// already encrypted by the client; the server applies its own AES-GCM layer
// on top before persisting, so a database dump alone reveals nothing even if
// a client-side key leaks.
package secret

import (
	"context"
	"fmt"

	"github.com/org/teamvault/internal/crypto"
	"github.com/org/teamvault/internal/errs"
	"github.com/org/teamvault/internal/roles"
	"github.com/org/teamvault/internal/sharing"
	"github.com/org/teamvault/internal/storage"
	"github.com/org/teamvault/pkg/models"
)

// Service manages secrets and delegates access decisions to the sharing
// engine.
type Service struct {
	store  storage.Backend
	cipher *crypto.Cipher
	shares *sharing.Engine
}

// NewService creates a secret Service.
func NewService(store storage.Backend, cipher *crypto.Cipher, shares *sharing.Engine) *Service {
	return &Service{store: store, cipher: cipher, shares: shares}
}

// Create stores a new secret for owner. Secrets always start private.
func (s *Service) Create(ctx context.Context, owner *models.User, title, description string, clientCiphertext []byte, isPassword bool) (*models.Secret, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", errs.ErrInvalidArgument)
	}
	if len(clientCiphertext) == 0 {
		return nil, fmt.Errorf("%w: encrypted payload is required", errs.ErrInvalidArgument)
	}

	sealed, err := s.cipher.Encrypt(clientCiphertext)
	if err != nil {
		return nil, fmt.Errorf("applying server encryption: %w", err)
	}
	sec := &models.Secret{
		Title:         title,
		Description:   description,
		EncryptedData: sealed,
		OwnerID:       owner.ID,
		IsPassword:    isPassword,
		Mode:          models.ModePrivate,
	}
	if err := s.store.CreateSecret(ctx, sec); err != nil {
		return nil, err
	}
	return s.opened(sec, clientCiphertext), nil
}

// Get returns a secret the requester may read, with the server encryption
// layer removed. A secret the requester cannot read is reported as not found;
// callers cannot distinguish absence from invisibility.
func (s *Service) Get(ctx context.Context, requester *models.User, id int64) (*models.Secret, error) {
	sec, err := s.readable(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	return s.open(sec)
}

// Update modifies a secret. Only the owner may update; a requester who can
// read but does not own gets ErrForbidden, anyone else ErrNotFound.
func (s *Service) Update(ctx context.Context, requester *models.User, id int64, patch models.SecretPatch) (*models.Secret, error) {
	sec, err := s.owned(ctx, requester, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		if *patch.Title == "" {
			return nil, fmt.Errorf("%w: title is required", errs.ErrInvalidArgument)
		}
		sec.Title = *patch.Title
	}
	if patch.Description != nil {
		sec.Description = *patch.Description
	}
	if patch.IsPassword != nil {
		sec.IsPassword = *patch.IsPassword
	}
	if len(patch.ClientEncryptedData) > 0 {
		sealed, err := s.cipher.Encrypt(patch.ClientEncryptedData)
		if err != nil {
			return nil, fmt.Errorf("applying server encryption: %w", err)
		}
		sec.EncryptedData = sealed
	}

	if err := s.store.UpdateSecret(ctx, sec); err != nil {
		return nil, err
	}
	return s.open(sec)
}

// Delete removes a secret and, via cascade, all of its share rows. Same gate
// as Update.
func (s *Service) Delete(ctx context.Context, requester *models.User, id int64) error {
	if _, err := s.owned(ctx, requester, id); err != nil {
		return err
	}
	return s.store.DeleteSecret(ctx, id)
}

// ListOwned returns the requester's own secrets, opened.
func (s *Service) ListOwned(ctx context.Context, requester *models.User) ([]*models.Secret, error) {
	secs, err := s.store.ListSecretsByOwner(ctx, requester.ID)
	if err != nil {
		return nil, err
	}
	return s.openAll(secs)
}

// ListAccessible returns every secret the requester may read: owned secrets
// plus broadcast and explicit grants, deduplicated by the store query.
func (s *Service) ListAccessible(ctx context.Context, requester *models.User) ([]*models.Secret, error) {
	secs, err := s.store.ListAccessibleSecrets(ctx, requester.ID, requester.RoleLevel)
	if err != nil {
		return nil, err
	}
	return s.openAll(secs)
}

// Share replaces the secret's full share state. The engine enforces that only
// the secret's owner (or an Owner-level user) may share and validates the
// spec before anything is written.
func (s *Service) Share(ctx context.Context, actor *models.User, id int64, spec models.ShareSpec) error {
	sec, err := s.store.GetSecret(ctx, id)
	if err != nil {
		return err
	}
	if actor.RoleLevel != int(roles.Owner) {
		ok, err := s.shares.CanAccess(ctx, actor, sec)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrNotFound
		}
	}
	return s.shares.Share(ctx, actor, sec, spec)
}

// ShareState returns the current share rows of a secret, owner-only.
func (s *Service) ShareState(ctx context.Context, requester *models.User, id int64) ([]*models.UserShare, []*models.RoleShare, error) {
	if _, err := s.owned(ctx, requester, id); err != nil {
		return nil, nil, err
	}
	userShares, err := s.store.ListUserShares(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	roleShares, err := s.store.ListRoleShares(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return userShares, roleShares, nil
}

// readable loads a secret and applies the read gate, folding denial into
// ErrNotFound.
func (s *Service) readable(ctx context.Context, requester *models.User, id int64) (*models.Secret, error) {
	sec, err := s.store.GetSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.shares.CanAccess(ctx, requester, sec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	return sec, nil
}

// owned loads a secret and requires ownership: readers who do not own get
// ErrForbidden, everyone else ErrNotFound.
func (s *Service) owned(ctx context.Context, requester *models.User, id int64) (*models.Secret, error) {
	sec, err := s.readable(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if sec.OwnerID != requester.ID {
		return nil, fmt.Errorf("%w: only the owner may modify this secret", errs.ErrForbidden)
	}
	return sec, nil
}

// open strips the server encryption layer from a stored secret.
func (s *Service) open(sec *models.Secret) (*models.Secret, error) {
	client, err := s.cipher.Decrypt(sec.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("removing server encryption from secret %d: %w", sec.ID, err)
	}
	return s.opened(sec, client), nil
}

func (s *Service) openAll(secs []*models.Secret) ([]*models.Secret, error) {
	out := make([]*models.Secret, 0, len(secs))
	for _, sec := range secs {
		opened, err := s.open(sec)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	return out, nil
}

// opened returns a copy of sec carrying the client-layer ciphertext instead
// of the stored double-encrypted payload.
func (s *Service) opened(sec *models.Secret, client []byte) *models.Secret {
	cp := *sec
	cp.EncryptedData = client
	return &cp
}
