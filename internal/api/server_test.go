package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/org/teamvault/internal/crypto"
	"github.com/org/teamvault/internal/errs"
	"github.com/org/teamvault/internal/mail"
	"github.com/org/teamvault/pkg/models"
)

// --- In-memory storage backend for tests ---

type memStore struct {
	nextUserID   int64
	nextSecretID int64
	users        map[int64]*models.User
	secrets      map[int64]*models.Secret
	userShares   map[int64][]*models.UserShare
	roleShares   map[int64][]*models.RoleShare
	sessions     map[string]*models.Session // keyed by token hash
	sessionsByID map[string]*models.Session
}

func newMemStore() *memStore {
	return &memStore{
		users:        map[int64]*models.User{},
		secrets:      map[int64]*models.Secret{},
		userShares:   map[int64][]*models.UserShare{},
		roleShares:   map[int64][]*models.RoleShare{},
		sessions:     map[string]*models.Session{},
		sessionsByID: map[string]*models.Session{},
	}
}

func (m *memStore) CreateUser(ctx context.Context, user *models.User) error {
	for _, u := range m.users {
		if u.Email == user.Email {
			return errs.ErrConflict
		}
	}
	m.nextUserID++
	user.ID = m.nextUserID
	user.CreatedAt = time.Now().UTC()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, errs.ErrNotFound
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memStore) GetUserByInviteToken(ctx context.Context, token string) (*models.User, error) {
	for _, u := range m.users {
		if u.InvitationToken != nil && *u.InvitationToken == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memStore) UpdateUser(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) SetUserActive(ctx context.Context, id int64, active bool) error {
	u, ok := m.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.IsActive = active
	return nil
}

func (m *memStore) CountUsers(ctx context.Context) (int64, error) {
	return int64(len(m.users)), nil
}

func (m *memStore) OwnerExists(ctx context.Context) (bool, error) {
	for _, u := range m.users {
		if u.RoleLevel == 7 && u.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ActivateInvitedUser(ctx context.Context, token, passwordHash string) (*models.User, error) {
	for _, u := range m.users {
		if !u.IsActive && u.InvitationToken != nil && *u.InvitationToken == token {
			u.IsActive = true
			u.PasswordHash = passwordHash
			u.InvitationToken = nil
			u.InvitationExpiresAt = nil
			cp := *u
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memStore) ListPendingInvites(ctx context.Context, inviterID int64) ([]*models.User, error) {
	var out []*models.User
	for _, u := range m.users {
		if !u.IsActive && u.InvitationToken != nil && u.InvitedByID != nil && *u.InvitedByID == inviterID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListActiveUsersUpTo(ctx context.Context, maxRoleLevel int) ([]*models.User, error) {
	var out []*models.User
	for _, u := range m.users {
		if u.IsActive && u.RoleLevel <= maxRoleLevel {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateSecret(ctx context.Context, sec *models.Secret) error {
	m.nextSecretID++
	sec.ID = m.nextSecretID
	sec.CreatedAt = time.Now().UTC()
	cp := *sec
	m.secrets[sec.ID] = &cp
	return nil
}

func (m *memStore) GetSecret(ctx context.Context, id int64) (*models.Secret, error) {
	if sec, ok := m.secrets[id]; ok {
		cp := *sec
		return &cp, nil
	}
	return nil, errs.ErrNotFound
}

func (m *memStore) UpdateSecret(ctx context.Context, sec *models.Secret) error {
	if _, ok := m.secrets[sec.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *sec
	m.secrets[sec.ID] = &cp
	return nil
}

func (m *memStore) DeleteSecret(ctx context.Context, id int64) error {
	if _, ok := m.secrets[id]; !ok {
		return errs.ErrNotFound
	}
	delete(m.secrets, id)
	delete(m.userShares, id)
	delete(m.roleShares, id)
	return nil
}

func (m *memStore) ListSecretsByOwner(ctx context.Context, ownerID int64) ([]*models.Secret, error) {
	var out []*models.Secret
	for _, sec := range m.secrets {
		if sec.OwnerID == ownerID {
			cp := *sec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListAccessibleSecrets(ctx context.Context, userID int64, roleLevel int) ([]*models.Secret, error) {
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

func (m *memStore) GetUserShare(ctx context.Context, secretID, granteeID int64) (*models.UserShare, error) {
	for _, us := range m.userShares[secretID] {
		if us.GranteeID == granteeID {
			cp := *us
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memStore) ListUserShares(ctx context.Context, secretID int64) ([]*models.UserShare, error) {
	return m.userShares[secretID], nil
}

func (m *memStore) ListRoleShares(ctx context.Context, secretID int64) ([]*models.RoleShare, error) {
	return m.roleShares[secretID], nil
}

func (m *memStore) ReplaceShares(ctx context.Context, secretID int64, spec models.ShareSpec, grantorID int64) error {
	sec, ok := m.secrets[secretID]
	if !ok {
		return errs.ErrNotFound
	}
	if spec.Mode == models.ModeExplicit {
		for _, id := range spec.GranteeIDs {
			if _, ok := m.users[id]; !ok {
				return errs.ErrInvalidArgument
			}
		}
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

func (m *memStore) CreateSession(ctx context.Context, session *models.Session, tokenHash string) error {
	cp := *session
	m.sessions[tokenHash] = &cp
	m.sessionsByID[session.ID] = &cp
	return nil
}

func (m *memStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if s, ok := m.sessions[tokenHash]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, errs.ErrNotFound
}

func (m *memStore) RevokeSession(ctx context.Context, id string) error {
	s, ok := m.sessionsByID[id]
	if !ok {
		return errs.ErrNotFound
	}
	now := time.Now().UTC()
	s.RevokedAt = &now
	return nil
}

func (m *memStore) CountActiveUsers(ctx context.Context) (int64, error) {
	var n int64
	for _, u := range m.users {
		if u.IsActive {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountSecrets(ctx context.Context) (int64, error) {
	return int64(len(m.secrets)), nil
}

func (m *memStore) CountPendingInvites(ctx context.Context) (int64, error) {
	var n int64
	for _, u := range m.users {
		if !u.IsActive && u.InvitationToken != nil {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Close() {}

// --- test helpers ---

func newTestServer(t *testing.T) (http.Handler, *memStore) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		t.Fatalf("creating cipher: %v", err)
	}
	store := newMemStore()
	srv := NewServer(store, cipher, mail.NoopMailer{}, Config{})
	return srv.BuildRouter(), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, token string) *httptest.ResponseRecorder {
	return doJSON(t, handler, "POST", path, body, token)
}

func getJSON(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	return doJSON(t, handler, "GET", path, nil, token)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func bootstrapOwner(t *testing.T, handler http.Handler) string {
	t.Helper()
	w := postJSON(t, handler, "/v1/users/register-first-user", map[string]any{
		"email": "owner@corp.test", "password": "ownerpass123",
		"first_name": "Olive", "last_name": "Crown",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("bootstrap failed: %d %s", w.Code, w.Body.String())
	}
	return login(t, handler, "owner@corp.test", "ownerpass123")
}

func login(t *testing.T, handler http.Handler, email, password string) string {
	t.Helper()
	w := postJSON(t, handler, "/v1/auth/login", map[string]any{
		"email": email, "password": password,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", email, w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	return body["auth"].(map[string]any)["token"].(string)
}

func encode(data string) string {
	return base64.StdEncoding.EncodeToString([]byte(data))
}

// --- tests ---

func TestHealthReflectsBootstrap(t *testing.T) {
	handler, _ := newTestServer(t)

	w := getJSON(t, handler, "/v1/sys/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before bootstrap, got %d", w.Code)
	}

	bootstrapOwner(t, handler)

	w = getJSON(t, handler, "/v1/sys/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 after bootstrap, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if init, _ := body["initialized"].(bool); !init {
		t.Error("expected initialized=true")
	}
}

func TestBootstrapIsSingleShot(t *testing.T) {
	handler, _ := newTestServer(t)
	bootstrapOwner(t, handler)

	w := postJSON(t, handler, "/v1/users/register-first-user", map[string]any{
		"email": "usurper@corp.test", "password": "password123",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on second bootstrap, got %d %s", w.Code, w.Body.String())
	}
}

func TestCheckOwner(t *testing.T) {
	handler, _ := newTestServer(t)

	w := getJSON(t, handler, "/v1/users/check-owner", "")
	body := decodeBody(t, w)
	if exists, _ := body["data"].(map[string]any)["owner_exists"].(bool); exists {
		t.Error("expected owner_exists=false before bootstrap")
	}

	bootstrapOwner(t, handler)

	w = getJSON(t, handler, "/v1/users/check-owner", "")
	body = decodeBody(t, w)
	if exists, _ := body["data"].(map[string]any)["owner_exists"].(bool); !exists {
		t.Error("expected owner_exists=true after bootstrap")
	}
}

func TestAuthRequired(t *testing.T) {
	handler, _ := newTestServer(t)
	bootstrapOwner(t, handler)

	w := getJSON(t, handler, "/v1/auth/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	w = getJSON(t, handler, "/v1/auth/me", "tvs_bogus")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bogus token, got %d", w.Code)
	}
}

func TestLoginLogout(t *testing.T) {
	handler, _ := newTestServer(t)
	token := bootstrapOwner(t, handler)

	w := postJSON(t, handler, "/v1/auth/login", map[string]any{
		"email": "owner@corp.test", "password": "wrongpass",
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", w.Code)
	}

	w = getJSON(t, handler, "/v1/auth/me", token)
	if w.Code != http.StatusOK {
		t.Fatalf("me failed: %d", w.Code)
	}
	body := decodeBody(t, w)
	if email := body["data"].(map[string]any)["email"]; email != "owner@corp.test" {
		t.Errorf("expected owner email, got %v", email)
	}

	w = postJSON(t, handler, "/v1/auth/logout", nil, token)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout failed: %d", w.Code)
	}
	w = getJSON(t, handler, "/v1/auth/me", token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", w.Code)
	}
}

// TestBroadcastSharingFlow walks the primary scenario: the owner invites a
// manager, the manager stores a secret privately, then broadcasts it at the
// Junior floor; a Junior can read it, an Intern cannot.
func TestBroadcastSharingFlow(t *testing.T) {
	handler, store := newTestServer(t)
	ownerToken := bootstrapOwner(t, handler)

	managerToken := inviteAndAcceptVia(t, handler, store, ownerToken, "manager@corp.test", 4)
	juniorToken := inviteAndAcceptVia(t, handler, store, ownerToken, "junior@corp.test", 2)
	internToken := inviteAndAcceptVia(t, handler, store, ownerToken, "intern@corp.test", 1)

	// Manager stores a secret; it starts private.
	w := postJSON(t, handler, "/v1/secrets", map[string]any{
		"title":          "prod db",
		"encrypted_data": encode("client-ciphertext-v1"),
		"is_password":    true,
	}, managerToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("create secret failed: %d %s", w.Code, w.Body.String())
	}
	created := decodeBody(t, w)["data"].(map[string]any)
	if created["share_mode"] != "private" {
		t.Errorf("expected private mode, got %v", created["share_mode"])
	}
	id := int64(created["id"].(float64))
	path := "/v1/secrets/" + jsonNumber(id)

	// Private: invisible to everyone but the owner of the record.
	if w := getJSON(t, handler, path, juniorToken); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for junior on private secret, got %d", w.Code)
	}

	// Broadcast at the Junior floor.
	w = doJSON(t, handler, "PUT", path+"/share", map[string]any{
		"mode": "broadcast", "min_role_level": 2,
	}, managerToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("share failed: %d %s", w.Code, w.Body.String())
	}

	// Junior (at the floor) reads and gets the client ciphertext back intact.
	w = getJSON(t, handler, path, juniorToken)
	if w.Code != http.StatusOK {
		t.Fatalf("junior read failed: %d %s", w.Code, w.Body.String())
	}
	got := decodeBody(t, w)["data"].(map[string]any)
	if got["encrypted_data"] != encode("client-ciphertext-v1") {
		t.Error("client ciphertext mangled on the way through")
	}

	// Intern (below the floor) still sees nothing.
	if w := getJSON(t, handler, path, internToken); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for intern, got %d", w.Code)
	}

	// The junior may read but not modify or re-share.
	w = doJSON(t, handler, "PATCH", path, map[string]any{"title": "mine now"}, juniorToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for junior update, got %d", w.Code)
	}
	w = doJSON(t, handler, "PUT", path+"/share", map[string]any{"mode": "private"}, juniorToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for junior share, got %d", w.Code)
	}
}

// TestExplicitSharingFlow covers explicit grants and the empty-list revoke.
func TestExplicitSharingFlow(t *testing.T) {
	handler, store := newTestServer(t)
	ownerToken := bootstrapOwner(t, handler)

	managerToken := inviteAndAcceptVia(t, handler, store, ownerToken, "manager@corp.test", 4)
	internToken := inviteAndAcceptVia(t, handler, store, ownerToken, "intern@corp.test", 1)
	execToken := inviteAndAcceptVia(t, handler, store, ownerToken, "exec@corp.test", 6)

	internID := userIDByEmail(t, store, "intern@corp.test")

	w := postJSON(t, handler, "/v1/secrets", map[string]any{
		"title": "handover notes", "encrypted_data": encode("payload"),
	}, managerToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", w.Code)
	}
	id := int64(decodeBody(t, w)["data"].(map[string]any)["id"].(float64))
	path := "/v1/secrets/" + jsonNumber(id)

	// Share explicitly with the intern only.
	w = doJSON(t, handler, "PUT", path+"/share", map[string]any{
		"mode": "explicit", "grantee_ids": []int64{internID},
	}, managerToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("explicit share failed: %d %s", w.Code, w.Body.String())
	}

	// The named grantee reads despite the lowest role; a much higher role
	// without a grant does not.
	if w := getJSON(t, handler, path, internToken); w.Code != http.StatusOK {
		t.Errorf("expected 200 for explicit grantee, got %d", w.Code)
	}
	if w := getJSON(t, handler, path, execToken); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for exec without grant, got %d", w.Code)
	}

	// Empty grantee list revokes everything.
	w = doJSON(t, handler, "PUT", path+"/share", map[string]any{
		"mode": "explicit", "grantee_ids": []int64{},
	}, managerToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke failed: %d", w.Code)
	}
	if w := getJSON(t, handler, path, internToken); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after revoke, got %d", w.Code)
	}
	if w := getJSON(t, handler, path, managerToken); w.Code != http.StatusOK {
		t.Errorf("owner must keep access after revoke, got %d", w.Code)
	}

	// Sharing with an unknown user id fails validation before any write.
	w = doJSON(t, handler, "PUT", path+"/share", map[string]any{
		"mode": "explicit", "grantee_ids": []int64{99999},
	}, managerToken)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown grantee, got %d", w.Code)
	}
}

func TestTeamManagement(t *testing.T) {
	handler, store := newTestServer(t)
	ownerToken := bootstrapOwner(t, handler)

	seniorToken := inviteAndAcceptVia(t, handler, store, ownerToken, "senior@corp.test", 3)
	inviteAndAcceptVia(t, handler, store, ownerToken, "exec@corp.test", 6)
	seniorID := userIDByEmail(t, store, "senior@corp.test")

	// The senior sees peers and below, not the exec or the owner.
	w := getJSON(t, handler, "/v1/users/team", seniorToken)
	if w.Code != http.StatusOK {
		t.Fatalf("team list failed: %d", w.Code)
	}
	for _, raw := range decodeBody(t, w)["data"].([]any) {
		u := raw.(map[string]any)
		if lvl := int(u["role_level"].(float64)); lvl > 3 {
			t.Errorf("user %v at level %d should not be visible to a senior", u["email"], lvl)
		}
	}

	// The owner promotes the senior to director.
	w = doJSON(t, handler, "PATCH", "/v1/users/team/"+jsonNumber(seniorID), map[string]any{
		"role_level": 5,
	}, ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("promote failed: %d %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["data"].(map[string]any)["role_name"]; got != "Director" {
		t.Errorf("expected Director, got %v", got)
	}

	// The promoted director cannot touch the owner.
	ownerID := userIDByEmail(t, store, "owner@corp.test")
	w = doJSON(t, handler, "PATCH", "/v1/users/team/"+jsonNumber(ownerID), map[string]any{
		"first_name": "Pwned",
	}, seniorToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 managing upward, got %d", w.Code)
	}

	// Deactivation cuts off login.
	w = doJSON(t, handler, "DELETE", "/v1/users/team/"+jsonNumber(seniorID), nil, ownerToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("deactivate failed: %d", w.Code)
	}
	w = postJSON(t, handler, "/v1/auth/login", map[string]any{
		"email": "senior@corp.test", "password": "password123",
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for deactivated user, got %d", w.Code)
	}
}

func TestAssignableRoles(t *testing.T) {
	handler, store := newTestServer(t)
	ownerToken := bootstrapOwner(t, handler)
	managerToken := inviteAndAcceptVia(t, handler, store, ownerToken, "manager@corp.test", 4)

	// A manager may assign the three levels strictly below their own.
	w := getJSON(t, handler, "/v1/users/roles", managerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("roles failed: %d %s", w.Code, w.Body.String())
	}
	rows := decodeBody(t, w)["data"].([]any)
	if len(rows) != 3 {
		t.Fatalf("expected 3 assignable roles for a manager, got %d", len(rows))
	}
	top := rows[len(rows)-1].(map[string]any)
	if top["name"] != "Senior" {
		t.Errorf("expected Senior as the highest assignable role, got %v", top["name"])
	}
	if desc, _ := top["description"].(string); desc == "" {
		t.Error("expected a non-empty role description")
	}

	// The owner may assign everything below Owner.
	w = getJSON(t, handler, "/v1/users/roles", ownerToken)
	if got := len(decodeBody(t, w)["data"].([]any)); got != 6 {
		t.Errorf("expected 6 assignable roles for the owner, got %d", got)
	}
}

func TestInviteTokenSingleUse(t *testing.T) {
	handler, store := newTestServer(t)
	ownerToken := bootstrapOwner(t, handler)

	w := postJSON(t, handler, "/v1/users/invite", map[string]any{
		"email": "dana@corp.test", "role_level": 3,
	}, ownerToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("invite failed: %d", w.Code)
	}
	token := inviteTokenByEmail(t, store, "dana@corp.test")

	w = postJSON(t, handler, "/v1/users/accept-invite", map[string]any{
		"token": token, "password": "password123",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("accept failed: %d %s", w.Code, w.Body.String())
	}

	w = postJSON(t, handler, "/v1/users/accept-invite", map[string]any{
		"token": token, "password": "password456",
	}, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second accept, got %d", w.Code)
	}
}

func TestExpiredInviteIsGone(t *testing.T) {
	handler, store := newTestServer(t)
	ownerToken := bootstrapOwner(t, handler)

	w := postJSON(t, handler, "/v1/users/invite", map[string]any{
		"email": "late@corp.test", "role_level": 2,
	}, ownerToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("invite failed: %d", w.Code)
	}
	token := inviteTokenByEmail(t, store, "late@corp.test")

	// Push the expiry into the past.
	for _, u := range store.users {
		if u.Email == "late@corp.test" {
			past := time.Now().UTC().Add(-time.Hour)
			u.InvitationExpiresAt = &past
		}
	}

	w = postJSON(t, handler, "/v1/users/accept-invite", map[string]any{
		"token": token, "password": "password123",
	}, "")
	if w.Code != http.StatusGone {
		t.Errorf("expected 410 for expired invite, got %d %s", w.Code, w.Body.String())
	}
}

// --- scenario helpers ---

func inviteAndAcceptVia(t *testing.T, handler http.Handler, store *memStore, inviterToken, email string, roleLevel int) string {
	t.Helper()
	w := postJSON(t, handler, "/v1/users/invite", map[string]any{
		"email": email, "role_level": roleLevel,
	}, inviterToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("invite %s failed: %d %s", email, w.Code, w.Body.String())
	}
	token := inviteTokenByEmail(t, store, email)
	wa := postJSON(t, handler, "/v1/users/accept-invite", map[string]any{
		"token": token, "password": "password123",
	}, "")
	if wa.Code != http.StatusOK {
		t.Fatalf("accept %s failed: %d %s", email, wa.Code, wa.Body.String())
	}
	return login(t, handler, email, "password123")
}

func inviteTokenByEmail(t *testing.T, store *memStore, email string) string {
	t.Helper()
	for _, u := range store.users {
		if u.Email == email && u.InvitationToken != nil {
			return *u.InvitationToken
		}
	}
	t.Fatalf("no pending invite for %s", email)
	return ""
}

func userIDByEmail(t *testing.T, store *memStore, email string) int64 {
	t.Helper()
	for _, u := range store.users {
		if u.Email == email {
			return u.ID
		}
	}
	t.Fatalf("no user %s", email)
	return 0
}

func jsonNumber(id int64) string {
	return strconv.FormatInt(id, 10)
}
