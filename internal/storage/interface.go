package storage

import (
	"context"

	"github.com/org/teamvault/pkg/models"
)

// Backend defines the persistence interface for TeamVault. Implementations
// return the sentinels from internal/errs (ErrNotFound, ErrConflict,
// ErrInvalidArgument) so services can branch with errors.Is.
type Backend interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByInviteToken(ctx context.Context, token string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	SetUserActive(ctx context.Context, id int64, active bool) error
	CountUsers(ctx context.Context) (int64, error)
	OwnerExists(ctx context.Context) (bool, error)

	// ActivateInvitedUser flips the user behind token to active, replaces the
	// credential hash and clears the token, all in one conditional update
	// keyed on the token still being present. Exactly one of two concurrent
	// calls with the same token succeeds; the other observes ErrNotFound.
	ActivateInvitedUser(ctx context.Context, token, passwordHash string) (*models.User, error)
	ListPendingInvites(ctx context.Context, inviterID int64) ([]*models.User, error)
	ListActiveUsersUpTo(ctx context.Context, maxRoleLevel int) ([]*models.User, error)

	// Secrets
	CreateSecret(ctx context.Context, secret *models.Secret) error
	GetSecret(ctx context.Context, id int64) (*models.Secret, error)
	UpdateSecret(ctx context.Context, secret *models.Secret) error
	DeleteSecret(ctx context.Context, id int64) error
	ListSecretsByOwner(ctx context.Context, ownerID int64) ([]*models.Secret, error)
	ListAccessibleSecrets(ctx context.Context, userID int64, roleLevel int) ([]*models.Secret, error)

	// Shares
	GetUserShare(ctx context.Context, secretID, granteeID int64) (*models.UserShare, error)
	ListUserShares(ctx context.Context, secretID int64) ([]*models.UserShare, error)
	ListRoleShares(ctx context.Context, secretID int64) ([]*models.RoleShare, error)

	// ReplaceShares atomically replaces the full share state of a secret:
	// prior share rows of both kinds are deleted, mode and min role level are
	// updated and the new rows written in a single transaction. Grantees are
	// validated in full before anything is deleted.
	ReplaceShares(ctx context.Context, secretID int64, spec models.ShareSpec, grantorID int64) error

	// Sessions
	CreateSession(ctx context.Context, session *models.Session, tokenHash string) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	RevokeSession(ctx context.Context, id string) error

	// Metrics helpers
	CountActiveUsers(ctx context.Context) (int64, error)
	CountSecrets(ctx context.Context) (int64, error)
	CountPendingInvites(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}
