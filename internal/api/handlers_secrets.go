package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/org/teamvault/pkg/models"
)

// secretView renders a secret with its client-layer ciphertext. The payload
// travels base64 encoded; the server layer is already stripped by the
// service.
func secretView(sec *models.Secret) map[string]any {
	v := map[string]any{
		"id":             sec.ID,
		"title":          sec.Title,
		"description":    sec.Description,
		"encrypted_data": base64.StdEncoding.EncodeToString(sec.EncryptedData),
		"owner_id":       sec.OwnerID,
		"is_password":    sec.IsPassword,
		"share_mode":     sec.Mode,
		"created_at":     sec.CreatedAt,
	}
	if sec.MinRoleLevel != nil {
		v["min_role_level"] = *sec.MinRoleLevel
	}
	if sec.UpdatedAt != nil {
		v["updated_at"] = sec.UpdatedAt
	}
	return v
}

func secretID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// SecretCreateHandler handles POST /v1/secrets
func (s *Server) SecretCreateHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	var req struct {
		Title         string `json:"title"`
		Description   string `json:"description"`
		EncryptedData string `json:"encrypted_data"`
		IsPassword    bool   `json:"is_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.EncryptedData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "encrypted_data must be base64")
		return
	}

	sec, err := s.secrets.Create(r.Context(), actor, req.Title, req.Description, payload, req.IsPassword)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": secretView(sec)})
}

// SecretListHandler handles GET /v1/secrets. ?scope=owned narrows the listing
// to the caller's own secrets; the default is everything accessible.
func (s *Server) SecretListHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())

	var (
		secs []*models.Secret
		err  error
	)
	if r.URL.Query().Get("scope") == "owned" {
		secs, err = s.secrets.ListOwned(r.Context(), actor)
	} else {
		secs, err = s.secrets.ListAccessible(r.Context(), actor)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(secs))
	for _, sec := range secs {
		views = append(views, secretView(sec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": views})
}

// SecretGetHandler handles GET /v1/secrets/{id}
func (s *Server) SecretGetHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	id, ok := secretID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}

	sec, err := s.secrets.Get(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": secretView(sec)})
}

// SecretUpdateHandler handles PATCH /v1/secrets/{id}
func (s *Server) SecretUpdateHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	id, ok := secretID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}

	var req struct {
		Title         *string `json:"title"`
		Description   *string `json:"description"`
		EncryptedData *string `json:"encrypted_data"`
		IsPassword    *bool   `json:"is_password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	patch := models.SecretPatch{
		Title:       req.Title,
		Description: req.Description,
		IsPassword:  req.IsPassword,
	}
	if req.EncryptedData != nil {
		payload, err := base64.StdEncoding.DecodeString(*req.EncryptedData)
		if err != nil {
			writeError(w, http.StatusBadRequest, "encrypted_data must be base64")
			return
		}
		patch.ClientEncryptedData = payload
	}

	sec, err := s.secrets.Update(r.Context(), actor, id, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": secretView(sec)})
}

// SecretDeleteHandler handles DELETE /v1/secrets/{id}
func (s *Server) SecretDeleteHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	id, ok := secretID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}
	if err := s.secrets.Delete(r.Context(), actor, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SecretShareHandler handles PUT /v1/secrets/{id}/share. The request carries
// the complete desired share state; whatever was configured before is
// replaced wholesale.
func (s *Server) SecretShareHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	id, ok := secretID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}

	var req struct {
		Mode         string  `json:"mode"`
		MinRoleLevel int     `json:"min_role_level"`
		GranteeIDs   []int64 `json:"grantee_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.secrets.Share(r.Context(), actor, id, models.ShareSpec{
		Mode:         models.ShareMode(req.Mode),
		MinRoleLevel: req.MinRoleLevel,
		GranteeIDs:   req.GranteeIDs,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SecretSharesHandler handles GET /v1/secrets/{id}/share (owner only).
func (s *Server) SecretSharesHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	id, ok := secretID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid secret id")
		return
	}

	userShares, roleShares, err := s.secrets.ShareState(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	grantees := make([]int64, 0, len(userShares))
	for _, us := range userShares {
		grantees = append(grantees, us.GranteeID)
	}
	resp := map[string]any{"grantee_ids": grantees}
	for _, rs := range roleShares {
		resp["min_role_level"] = rs.RoleLevel
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": resp})
}
