package models

import "time"

// ShareMode is the sharing state of a secret. The three modes are mutually
// exclusive: explicit share rows and a broadcast floor are never both
// authoritative for the same secret.
type ShareMode string

const (
	ModePrivate   ShareMode = "private"
	ModeBroadcast ShareMode = "broadcast"
	ModeExplicit  ShareMode = "explicit"
)

// Secret stores one server-encrypted payload. EncryptedData carries the
// server layer (nonce || AES-GCM ciphertext) applied on top of the
// client-supplied ciphertext; the server never sees the plaintext.
type Secret struct {
	ID            int64
	Title         string
	Description   string
	EncryptedData []byte
	OwnerID       int64
	IsPassword    bool
	Mode          ShareMode
	MinRoleLevel  *int // set only in broadcast mode
	CreatedAt     time.Time
	UpdatedAt     *time.Time
}

// UserShare grants one user read access to one explicitly shared secret.
// Unique per (secret, grantee).
type UserShare struct {
	ID        int64
	SecretID  int64
	GranteeID int64
	GrantorID int64
	CreatedAt time.Time
}

// RoleShare records a broadcast grant at the floor role level.
// Unique per (secret, role level).
type RoleShare struct {
	ID        int64
	SecretID  int64
	RoleLevel int
	GrantorID int64
	CreatedAt time.Time
}

// ShareSpec selects exactly one target sharing state for a secret.
// Mode private clears all shares; broadcast requires MinRoleLevel;
// explicit requires GranteeIDs (an empty list is valid and revokes all).
type ShareSpec struct {
	Mode         ShareMode
	MinRoleLevel int
	GranteeIDs   []int64
}

// SecretPatch carries optional field updates for a secret. Nil fields are
// left untouched.
type SecretPatch struct {
	Title               *string
	Description         *string
	ClientEncryptedData []byte
	IsPassword          *bool
}
