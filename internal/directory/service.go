// Package directory manages the team roster: the bootstrap owner, the
// invitation flow and member administration.
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/teamvault/internal/crypto"
	"github.com/org/teamvault/internal/errs"
	"github.com/org/teamvault/internal/mail"
	"github.com/org/teamvault/internal/roles"
	"github.com/org/teamvault/internal/storage"
	"github.com/org/teamvault/pkg/models"
)

// InviteTTL is how long an invitation token stays redeemable.
const InviteTTL = 48 * time.Hour

const minPasswordLen = 8

// Service implements directory operations over a storage backend.
type Service struct {
	store  storage.Backend
	mailer mail.Mailer
}

// NewService creates a directory Service. A nil mailer suppresses invite mail.
func NewService(store storage.Backend, mailer mail.Mailer) *Service {
	if mailer == nil {
		mailer = mail.NoopMailer{}
	}
	return &Service{store: store, mailer: mailer}
}

// OwnerExists reports whether the directory has been bootstrapped.
func (s *Service) OwnerExists(ctx context.Context) (bool, error) {
	return s.store.OwnerExists(ctx)
}

// BootstrapOwner creates the very first account, active immediately and
// always at the Owner level. Once any user exists the directory is considered
// initialized and further bootstrap attempts fail.
func (s *Service) BootstrapOwner(ctx context.Context, email, password, firstName, lastName string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errs.ErrAlreadyInitialized
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	owner := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		RoleLevel:    int(roles.Owner),
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, owner); err != nil {
		return nil, err
	}
	log.Info().Str("email", email).Msg("owner account bootstrapped")
	return owner, nil
}

// Invite creates an inactive account holding a fresh invitation token and
// dispatches the invite mail. The returned bool reports whether the mail went
// out; delivery failure degrades to a logged warning, it never fails the
// invite itself — the token in the returned record is the source of truth.
func (s *Service) Invite(ctx context.Context, inviter *models.User, email, firstName, lastName string, roleLevel int) (*models.User, bool, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, false, err
	}
	if !roles.Valid(roleLevel) {
		return nil, false, fmt.Errorf("%w: role level %d out of range", errs.ErrInvalidArgument, roleLevel)
	}
	if !roles.CanManage(inviter.RoleLevel, roleLevel) {
		return nil, false, fmt.Errorf("%w: cannot invite at role %s", errs.ErrForbidden, roles.Name(roleLevel))
	}

	token, err := crypto.NewInviteToken()
	if err != nil {
		return nil, false, err
	}
	expires := time.Now().UTC().Add(InviteTTL)
	invited := &models.User{
		Email:               email,
		FirstName:           firstName,
		LastName:            lastName,
		RoleLevel:           roleLevel,
		IsActive:            false,
		InvitationToken:     &token,
		InvitationExpiresAt: &expires,
		InvitedByID:         &inviter.ID,
	}
	if err := s.store.CreateUser(ctx, invited); err != nil {
		return nil, false, err
	}

	mailed := true
	inv := mail.Invite{
		To:          email,
		Token:       token,
		InviterName: strings.TrimSpace(inviter.FirstName + " " + inviter.LastName),
		RoleName:    roles.Name(roleLevel),
		ExpiresAt:   expires,
	}
	if err := s.mailer.SendInvite(ctx, inv); err != nil {
		mailed = false
		log.Warn().Err(err).Str("email", email).Msg("invite created but mail delivery failed")
	}
	return invited, mailed, nil
}

// AcceptInvite redeems an invitation token: the account is activated, the
// password set and the token cleared in one conditional update, so a token
// can be redeemed at most once even under concurrent accepts.
func (s *Service) AcceptInvite(ctx context.Context, token, password string) (*models.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing invitation token", errs.ErrInvalidArgument)
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}

	pending, err := s.store.GetUserByInviteToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if pending.InviteExpired(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: invitation expired", errs.ErrExpired)
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	// The conditional update loses to a concurrent accept with ErrNotFound,
	// which is exactly what the losing caller should see.
	return s.store.ActivateInvitedUser(ctx, token, hash)
}

// ListPendingInvites returns the actor's own outstanding invitations: inactive
// accounts the actor invited that still hold a token.
func (s *Service) ListPendingInvites(ctx context.Context, actor *models.User) ([]*models.User, error) {
	return s.store.ListPendingInvites(ctx, actor.ID)
}

// ListVisible returns active users at or below the actor's role level.
func (s *Service) ListVisible(ctx context.Context, actor *models.User) ([]*models.User, error) {
	return s.store.ListActiveUsersUpTo(ctx, actor.RoleLevel)
}

// UpdateTeamMember applies a patch to a managed user. The actor's role must
// be strictly above the target's, and a role change must stay strictly below
// the actor's own level.
func (s *Service) UpdateTeamMember(ctx context.Context, actor *models.User, targetID int64, patch models.UserPatch) (*models.User, error) {
	target, err := s.manageable(ctx, actor, targetID)
	if err != nil {
		return nil, err
	}

	if patch.RoleLevel != nil {
		level := *patch.RoleLevel
		if !roles.Valid(level) {
			return nil, fmt.Errorf("%w: role level %d out of range", errs.ErrInvalidArgument, level)
		}
		if !roles.CanManage(actor.RoleLevel, level) {
			return nil, fmt.Errorf("%w: cannot assign role %s", errs.ErrForbidden, roles.Name(level))
		}
		target.RoleLevel = level
	}
	if patch.FirstName != nil {
		target.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		target.LastName = *patch.LastName
	}
	if patch.Password != nil {
		if err := checkPassword(*patch.Password); err != nil {
			return nil, err
		}
		hash, err := crypto.HashPassword(*patch.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		target.PasswordHash = hash
	}

	if err := s.store.UpdateUser(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// Deactivate flips a managed user to inactive. Their secrets and share rows
// stay in place; only authentication is cut off.
func (s *Service) Deactivate(ctx context.Context, actor *models.User, targetID int64) error {
	if _, err := s.manageable(ctx, actor, targetID); err != nil {
		return err
	}
	return s.store.SetUserActive(ctx, targetID, false)
}

// manageable loads the target and enforces the strict hierarchy rule: peers
// cannot manage each other, and nobody manages upward.
func (s *Service) manageable(ctx context.Context, actor *models.User, targetID int64) (*models.User, error) {
	target, err := s.store.GetUserByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !roles.CanManage(actor.RoleLevel, target.RoleLevel) {
		return nil, fmt.Errorf("%w: insufficient role to manage this user", errs.ErrForbidden)
	}
	return target, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", fmt.Errorf("%w: invalid email address", errs.ErrInvalidArgument)
	}
	return email, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", errs.ErrInvalidArgument, minPasswordLen)
	}
	return nil
}
