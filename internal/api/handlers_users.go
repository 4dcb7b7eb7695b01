package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/org/teamvault/internal/roles"
	"github.com/org/teamvault/pkg/models"
)

func userView(u *models.User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"role_level": u.RoleLevel,
		"role_name":  roles.Name(u.RoleLevel),
		"is_active":  u.IsActive,
		"created_at": u.CreatedAt,
	}
}

func inviteView(u *models.User) map[string]any {
	v := userView(u)
	if u.InvitationExpiresAt != nil {
		v["invitation_expires_at"] = u.InvitationExpiresAt
	}
	return v
}

// RolesHandler handles GET /v1/users/roles. It lists the role levels the
// caller may assign when inviting or promoting, strictly below their own.
// Clients use it to populate role pickers.
func (s *Server) RolesHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	subs := roles.Subordinates(actor.RoleLevel)
	views := make([]map[string]any, 0, len(subs))
	for _, l := range subs {
		views = append(views, map[string]any{
			"level":       int(l),
			"name":        roles.Name(int(l)),
			"description": roles.Description(int(l)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": views})
}

// CheckOwnerHandler handles GET /v1/users/check-owner (public). Clients use
// it to decide whether to show the first-run setup screen.
func (s *Server) CheckOwnerHandler(w http.ResponseWriter, r *http.Request) {
	exists, err := s.directory.OwnerExists(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"owner_exists": exists}})
}

// RegisterFirstUserHandler handles POST /v1/users/register-first-user (public).
func (s *Server) RegisterFirstUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner, err := s.directory.BootstrapOwner(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": userView(owner)})
}

// AcceptInviteHandler handles POST /v1/users/accept-invite (public).
func (s *Server) AcceptInviteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.directory.AcceptInvite(r.Context(), req.Token, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": userView(user)})
}

// InviteHandler handles POST /v1/users/invite
func (s *Server) InviteHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	var req struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		RoleLevel int    `json:"role_level"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	invited, mailed, err := s.directory.Invite(r.Context(), actor, req.Email, req.FirstName, req.LastName, req.RoleLevel)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"data":      inviteView(invited),
		"mail_sent": mailed,
	})
}

// PendingInvitesHandler handles GET /v1/users/pending-invites
func (s *Server) PendingInvitesHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	pending, err := s.directory.ListPendingInvites(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(pending))
	for _, u := range pending {
		views = append(views, inviteView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": views})
}

// TeamListHandler handles GET /v1/users/team
func (s *Server) TeamListHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	visible, err := s.directory.ListVisible(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(visible))
	for _, u := range visible {
		views = append(views, userView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": views})
}

// TeamUpdateHandler handles PATCH /v1/users/team/{id}
func (s *Server) TeamUpdateHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Password  *string `json:"password"`
		RoleLevel *int    `json:"role_level"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.directory.UpdateTeamMember(r.Context(), actor, targetID, models.UserPatch{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		RoleLevel: req.RoleLevel,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": userView(updated)})
}

// TeamDeactivateHandler handles DELETE /v1/users/team/{id}
func (s *Server) TeamDeactivateHandler(w http.ResponseWriter, r *http.Request) {
	actor := userFromCtx(r.Context())
	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.directory.Deactivate(r.Context(), actor, targetID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
