package secret

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/org/teamvault/internal/crypto"
	"github.com/org/teamvault/internal/errs"
	"github.com/org/teamvault/internal/sharing"
	"github.com/org/teamvault/internal/storage"
	"github.com/org/teamvault/pkg/models"
)

// memBackend implements the secret-facing slice of storage.Backend in memory.
type memBackend struct {
	storage.Backend

	nextID     int64
	secrets    map[int64]*models.Secret
	userShares map[int64][]*models.UserShare
	roleShares map[int64][]*models.RoleShare
}

func newMemBackend() *memBackend {
	return &memBackend{
		secrets:    make(map[int64]*models.Secret),
		userShares: make(map[int64][]*models.UserShare),
		roleShares: make(map[int64][]*models.RoleShare),
	}
}

func (m *memBackend) CreateSecret(_ context.Context, sec *models.Secret) error {
	m.nextID++
	sec.ID = m.nextID
	cp := *sec
	m.secrets[sec.ID] = &cp
	return nil
}

func (m *memBackend) GetSecret(_ context.Context, id int64) (*models.Secret, error) {
	sec, ok := m.secrets[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *sec
	return &cp, nil
}

func (m *memBackend) UpdateSecret(_ context.Context, sec *models.Secret) error {
	if _, ok := m.secrets[sec.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *sec
	m.secrets[sec.ID] = &cp
	return nil
}

func (m *memBackend) DeleteSecret(_ context.Context, id int64) error {
	if _, ok := m.secrets[id]; !ok {
		return errs.ErrNotFound
	}
	delete(m.secrets, id)
	delete(m.userShares, id)
	delete(m.roleShares, id)
	return nil
}

func (m *memBackend) ListSecretsByOwner(_ context.Context, ownerID int64) ([]*models.Secret, error) {
	var out []*models.Secret
	for _, sec := range m.secrets {
		if sec.OwnerID == ownerID {
			cp := *sec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memBackend) ListAccessibleSecrets(_ context.Context, userID int64, roleLevel int) ([]*models.Secret, error) {
	var out []*models.Secret
	for _, sec := range m.secrets {
		ok := sec.OwnerID == userID
		if !ok && sec.Mode == models.ModeBroadcast && sec.MinRoleLevel != nil {
			ok = roleLevel >= *sec.MinRoleLevel
		}
		if !ok && sec.Mode == models.ModeExplicit {
			for _, us := range m.userShares[sec.ID] {
				if us.GranteeID == userID {
					ok = true
					break
				}
			}
		}
		if ok {
			cp := *sec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memBackend) GetUserShare(_ context.Context, secretID, granteeID int64) (*models.UserShare, error) {
	for _, us := range m.userShares[secretID] {
		if us.GranteeID == granteeID {
			cp := *us
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memBackend) ListUserShares(_ context.Context, secretID int64) ([]*models.UserShare, error) {
	return m.userShares[secretID], nil
}

func (m *memBackend) ListRoleShares(_ context.Context, secretID int64) ([]*models.RoleShare, error) {
	return m.roleShares[secretID], nil
}

func (m *memBackend) ReplaceShares(_ context.Context, secretID int64, spec models.ShareSpec, grantorID int64) error {
	sec, ok := m.secrets[secretID]
	if !ok {
		return errs.ErrNotFound
	}
	m.userShares[secretID] = nil
	m.roleShares[secretID] = nil
	sec.Mode = spec.Mode
	sec.MinRoleLevel = nil
	switch spec.Mode {
	case models.ModeBroadcast:
		level := spec.MinRoleLevel
		sec.MinRoleLevel = &level
		m.roleShares[secretID] = []*models.RoleShare{{SecretID: secretID, RoleLevel: level, GrantorID: grantorID}}
	case models.ModeExplicit:
		for _, id := range spec.GranteeIDs {
			m.userShares[secretID] = append(m.userShares[secretID],
				&models.UserShare{SecretID: secretID, GranteeID: id, GrantorID: grantorID})
		}
	}
	return nil
}

func newService(t *testing.T) (*Service, *memBackend, *crypto.Cipher) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(key)
	require.NoError(t, err)
	store := newMemBackend()
	return NewService(store, cipher, sharing.NewEngine(store)), store, cipher
}

func user(id int64, level int) *models.User {
	return &models.User{ID: id, RoleLevel: level, IsActive: true}
}

func TestCreateAppliesServerLayer(t *testing.T) {
	svc, store, cipher := newService(t)
	owner := user(1, 3)
	payload := []byte("client-side ciphertext")

	sec, err := svc.Create(context.Background(), owner, "db password", "prod", payload, true)
	require.NoError(t, err)
	require.Equal(t, models.ModePrivate, sec.Mode, "secrets start private")
	require.True(t, bytes.Equal(payload, sec.EncryptedData), "returned record carries the client layer")

	stored := store.secrets[sec.ID]
	require.False(t, bytes.Equal(payload, stored.EncryptedData), "stored payload is double encrypted")
	opened, err := cipher.Decrypt(stored.EncryptedData)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, opened))
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	owner := user(1, 3)

	_, err := svc.Create(context.Background(), owner, "", "", []byte("x"), false)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = svc.Create(context.Background(), owner, "t", "", nil, false)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestGetHidesExistence(t *testing.T) {
	svc, _, _ := newService(t)
	owner := user(1, 3)
	stranger := user(2, 6)

	sec, err := svc.Create(context.Background(), owner, "t", "", []byte("x"), false)
	require.NoError(t, err)

	// A private secret and a missing secret look identical to a non-owner,
	// even one with a higher role.
	_, err = svc.Get(context.Background(), stranger, sec.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.Get(context.Background(), stranger, 9999)
	require.ErrorIs(t, err, errs.ErrNotFound)

	got, err := svc.Get(context.Background(), owner, sec.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got.EncryptedData)
}

func TestUpdateOwnerOnly(t *testing.T) {
	svc, _, _ := newService(t)
	owner := user(1, 3)
	reader := user(2, 5)

	sec, err := svc.Create(context.Background(), owner, "t", "", []byte("v1"), false)
	require.NoError(t, err)
	require.NoError(t, svc.Share(context.Background(), owner, sec.ID, models.ShareSpec{
		Mode: models.ModeBroadcast, MinRoleLevel: 4,
	}))

	// The reader sees the secret but cannot touch it.
	_, err = svc.Get(context.Background(), reader, sec.ID)
	require.NoError(t, err)
	newTitle := "hijacked"
	_, err = svc.Update(context.Background(), reader, sec.ID, models.SecretPatch{Title: &newTitle})
	require.ErrorIs(t, err, errs.ErrForbidden)
	require.ErrorIs(t, svc.Delete(context.Background(), reader, sec.ID), errs.ErrForbidden)

	// A non-reader gets not-found, not forbidden.
	outsider := user(3, 1)
	_, err = svc.Update(context.Background(), outsider, sec.ID, models.SecretPatch{Title: &newTitle})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, svc.Delete(context.Background(), outsider, sec.ID), errs.ErrNotFound)

	// The owner updates payload and metadata.
	updated, err := svc.Update(context.Background(), owner, sec.ID, models.SecretPatch{
		Title:               &newTitle,
		ClientEncryptedData: []byte("v2"),
	})
	require.NoError(t, err)
	require.Equal(t, "hijacked", updated.Title)
	require.Equal(t, []byte("v2"), updated.EncryptedData)
}

func TestDeleteCascadesShares(t *testing.T) {
	svc, store, _ := newService(t)
	owner := user(1, 3)

	sec, err := svc.Create(context.Background(), owner, "t", "", []byte("x"), false)
	require.NoError(t, err)
	require.NoError(t, svc.Share(context.Background(), owner, sec.ID, models.ShareSpec{
		Mode: models.ModeExplicit, GranteeIDs: []int64{5, 6},
	}))
	require.Len(t, store.userShares[sec.ID], 2)

	require.NoError(t, svc.Delete(context.Background(), owner, sec.ID))
	require.Empty(t, store.userShares[sec.ID])
	_, err = svc.Get(context.Background(), owner, sec.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBroadcastFloorReads(t *testing.T) {
	svc, _, _ := newService(t)
	owner := user(1, 3)

	sec, err := svc.Create(context.Background(), owner, "t", "", []byte("x"), false)
	require.NoError(t, err)
	require.NoError(t, svc.Share(context.Background(), owner, sec.ID, models.ShareSpec{
		Mode: models.ModeBroadcast, MinRoleLevel: 2,
	}))

	// Junior (at the floor) reads, Intern (below) does not.
	_, err = svc.Get(context.Background(), user(10, 2), sec.ID)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), user(11, 1), sec.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestShareReplacementIsFull(t *testing.T) {
	svc, store, _ := newService(t)
	owner := user(1, 3)
	grantee := user(2, 1)

	sec, err := svc.Create(context.Background(), owner, "t", "", []byte("x"), false)
	require.NoError(t, err)

	require.NoError(t, svc.Share(context.Background(), owner, sec.ID, models.ShareSpec{
		Mode: models.ModeExplicit, GranteeIDs: []int64{grantee.ID},
	}))
	_, err = svc.Get(context.Background(), grantee, sec.ID)
	require.NoError(t, err)

	// Switching to broadcast wipes the explicit rows; the old grantee's
	// access now depends purely on the floor.
	require.NoError(t, svc.Share(context.Background(), owner, sec.ID, models.ShareSpec{
		Mode: models.ModeBroadcast, MinRoleLevel: 4,
	}))
	require.Empty(t, store.userShares[sec.ID])
	_, err = svc.Get(context.Background(), grantee, sec.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	// An empty explicit list revokes everything below the owner.
	require.NoError(t, svc.Share(context.Background(), owner, sec.ID, models.ShareSpec{
		Mode: models.ModeExplicit, GranteeIDs: []int64{},
	}))
	_, err = svc.Get(context.Background(), user(3, 7), sec.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.Get(context.Background(), owner, sec.ID)
	require.NoError(t, err)
}

func TestShareGates(t *testing.T) {
	svc, _, _ := newService(t)
	owner := user(1, 3)
	reader := user(2, 5)
	outsider := user(3, 2)
	orgOwner := user(4, 7)

	sec, err := svc.Create(context.Background(), owner, "t", "", []byte("x"), false)
	require.NoError(t, err)
	require.NoError(t, svc.Share(context.Background(), owner, sec.ID, models.ShareSpec{
		Mode: models.ModeBroadcast, MinRoleLevel: 5,
	}))

	// A reader who does not own may not re-share.
	err = svc.Share(context.Background(), reader, sec.ID, models.ShareSpec{Mode: models.ModePrivate})
	require.ErrorIs(t, err, errs.ErrForbidden)

	// A non-reader cannot even learn the secret exists.
	err = svc.Share(context.Background(), outsider, sec.ID, models.ShareSpec{Mode: models.ModePrivate})
	require.ErrorIs(t, err, errs.ErrNotFound)

	// The Owner role may administer shares on any secret.
	require.NoError(t, svc.Share(context.Background(), orgOwner, sec.ID, models.ShareSpec{Mode: models.ModePrivate}))
}

func TestListAccessible(t *testing.T) {
	svc, _, _ := newService(t)
	owner := user(1, 3)
	junior := user(2, 2)

	mine, err := svc.Create(context.Background(), junior, "mine", "", []byte("a"), false)
	require.NoError(t, err)
	broadcast, err := svc.Create(context.Background(), owner, "team", "", []byte("b"), false)
	require.NoError(t, err)
	require.NoError(t, svc.Share(context.Background(), owner, broadcast.ID, models.ShareSpec{
		Mode: models.ModeBroadcast, MinRoleLevel: 2,
	}))
	hidden, err := svc.Create(context.Background(), owner, "private", "", []byte("c"), false)
	require.NoError(t, err)

	secs, err := svc.ListAccessible(context.Background(), junior)
	require.NoError(t, err)
	ids := make(map[int64]bool)
	for _, sec := range secs {
		ids[sec.ID] = true
	}
	require.True(t, ids[mine.ID])
	require.True(t, ids[broadcast.ID])
	require.False(t, ids[hidden.ID])
}

func TestShareState(t *testing.T) {
	svc, _, _ := newService(t)
	owner := user(1, 3)

	sec, err := svc.Create(context.Background(), owner, "t", "", []byte("x"), false)
	require.NoError(t, err)
	require.NoError(t, svc.Share(context.Background(), owner, sec.ID, models.ShareSpec{
		Mode: models.ModeExplicit, GranteeIDs: []int64{7, 8},
	}))

	userShares, roleShares, err := svc.ShareState(context.Background(), owner, sec.ID)
	require.NoError(t, err)
	require.Len(t, userShares, 2)
	require.Empty(t, roleShares)

	_, _, err = svc.ShareState(context.Background(), user(9, 6), sec.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
