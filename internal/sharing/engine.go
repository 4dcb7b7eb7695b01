// Package sharing computes the access-control decision for a (user, secret)
// pair and manages the share-record lifecycle.
package sharing

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/teamvault/internal/errs"
	"github.com/org/teamvault/internal/roles"
	"github.com/org/teamvault/pkg/models"
)

// ShareStore is the minimal interface the Engine needs from storage.
type ShareStore interface {
	GetUserShare(ctx context.Context, secretID, granteeID int64) (*models.UserShare, error)
	ReplaceShares(ctx context.Context, secretID int64, spec models.ShareSpec, grantorID int64) error
}

// Engine evaluates read access for secrets and applies share replacements.
type Engine struct {
	store ShareStore
}

// NewEngine creates a sharing Engine backed by the given storage.
func NewEngine(store ShareStore) *Engine {
	return &Engine{store: store}
}

// CanAccess decides whether user may read secret.
//
// The decision order is fixed:
//  1. the owner always has access, regardless of mode
//  2. private denies everyone else
//  3. broadcast grants iff user.RoleLevel >= the secret's floor — "this role
//     and up", matching the hierarchy's higher-number-more-authority rule
//  4. explicit grants iff a user share row exists for this user
//  5. anything else denies
func (e *Engine) CanAccess(ctx context.Context, user *models.User, secret *models.Secret) (bool, error) {
	if user.ID == secret.OwnerID {
		return true, nil
	}
	switch secret.Mode {
	case models.ModePrivate:
		return false, nil
	case models.ModeBroadcast:
		if secret.MinRoleLevel == nil {
			return false, nil
		}
		return user.RoleLevel >= *secret.MinRoleLevel, nil
	case models.ModeExplicit:
		_, err := e.store.GetUserShare(ctx, secret.ID, user.ID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Share replaces the full share state of a secret with the given spec.
// Only the secret's owner or an Owner-role user may share. The spec is
// validated in full before any share row is touched; the replacement itself
// is atomic, so old explicit shares never survive next to a new broadcast
// setting.
func (e *Engine) Share(ctx context.Context, actor *models.User, secret *models.Secret, spec models.ShareSpec) error {
	if actor.ID != secret.OwnerID && actor.RoleLevel != int(roles.Owner) {
		return fmt.Errorf("%w: only the owner may share this secret", errs.ErrForbidden)
	}
	validated, err := validateSpec(spec)
	if err != nil {
		return err
	}
	return e.store.ReplaceShares(ctx, secret.ID, validated, actor.ID)
}

// validateSpec checks that the spec selects exactly one sharing state and
// that every role level is inside the fixed 1-7 domain. Grantee lists are
// deduplicated; an empty explicit list is valid and revokes all access.
func validateSpec(spec models.ShareSpec) (models.ShareSpec, error) {
	switch spec.Mode {
	case models.ModePrivate:
		if spec.MinRoleLevel != 0 || len(spec.GranteeIDs) > 0 {
			return spec, fmt.Errorf("%w: private mode takes no share targets", errs.ErrInvalidArgument)
		}
	case models.ModeBroadcast:
		if len(spec.GranteeIDs) > 0 {
			return spec, fmt.Errorf("%w: broadcast mode takes no grantee list", errs.ErrInvalidArgument)
		}
		if !roles.Valid(spec.MinRoleLevel) {
			return spec, fmt.Errorf("%w: role level %d out of range", errs.ErrInvalidArgument, spec.MinRoleLevel)
		}
	case models.ModeExplicit:
		if spec.MinRoleLevel != 0 {
			return spec, fmt.Errorf("%w: explicit mode takes no role level", errs.ErrInvalidArgument)
		}
		seen := make(map[int64]bool, len(spec.GranteeIDs))
		deduped := make([]int64, 0, len(spec.GranteeIDs))
		for _, id := range spec.GranteeIDs {
			if id <= 0 {
				return spec, fmt.Errorf("%w: invalid grantee id %d", errs.ErrInvalidArgument, id)
			}
			if !seen[id] {
				seen[id] = true
				deduped = append(deduped, id)
			}
		}
		spec.GranteeIDs = deduped
	default:
		return spec, fmt.Errorf("%w: unknown sharing mode %q", errs.ErrInvalidArgument, spec.Mode)
	}
	return spec, nil
}
