package models

import "time"

// User is a member of the team directory. A user created through the
// invitation flow starts inactive and holds a single-use invitation token
// until the invite is accepted.
type User struct {
	ID                  int64
	Email               string
	PasswordHash        string
	FirstName           string
	LastName            string
	RoleLevel           int
	IsActive            bool
	InvitationToken     *string
	InvitationExpiresAt *time.Time
	InvitedByID         *int64
	CreatedAt           time.Time
	UpdatedAt           *time.Time
}

// HasLiveInvite returns true if the user is still pending with a token present.
func (u *User) HasLiveInvite() bool {
	return !u.IsActive && u.InvitationToken != nil
}

// InviteExpired returns true if the invitation expiry has passed.
func (u *User) InviteExpired(now time.Time) bool {
	return u.InvitationExpiresAt != nil && now.After(*u.InvitationExpiresAt)
}

// UserPatch carries optional field updates for a team member. Nil fields are
// left untouched.
type UserPatch struct {
	FirstName *string
	LastName  *string
	Password  *string
	RoleLevel *int
}
