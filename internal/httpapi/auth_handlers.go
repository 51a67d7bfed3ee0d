package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
	"voidmod.org/internal/staff"
)

type loginRequest struct {
	SessionKey string `json:"sessionKey" validate:"required"`
}

type sessionUser struct {
	Pseudo      string             `json:"pseudo"`
	Role        auth.Role          `json:"role"`
	Permissions auth.PermissionSet `json:"permissions"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  sessionUser `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := a.deps.Sessions.Login(r.Context(), req.SessionKey, auth.LoginMeta{
		IPAddress: audit.ClientIPFromContext(r.Context()),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: res.Token,
		User: sessionUser{
			Pseudo:      res.Credential.Pseudo,
			Role:        res.Credential.Role,
			Permissions: res.Credential.Permissions,
		},
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := staff.RecordLogout(r.Context(), a.deps.Journal, credential(r)); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": credential(r)})
}

func (a *API) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	key, secret, err := a.deps.Sessions.Bootstrap(r.Context(), a.deps.Bootstrap.Pseudo, a.deps.Bootstrap.Secret)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":    "founder key created",
		"pseudo":     key.Pseudo,
		"sessionKey": secret,
	})
}

// --- session keys ---

type createKeyRequest struct {
	Pseudo      string   `json:"pseudo" validate:"required"`
	Role        string   `json:"role" validate:"required"`
	Permissions []string `json:"permissions"`
	CustomKey   string   `json:"customKey"`
}

type setActiveRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.deps.Keys.List(r.Context(), credential(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*auth.SessionKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (a *API) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	created, err := a.deps.Keys.Create(r.Context(), credential(r), staff.CreateKeyInput{
		Pseudo:      req.Pseudo,
		Role:        req.Role,
		Permissions: req.Permissions,
		CustomKey:   req.CustomKey,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionKey": created.Secret,
		"key":        created.Key,
	})
}

func (a *API) handleSetKeyActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := a.deps.Keys.SetActive(r.Context(), credential(r), chi.URLParam(r, "id"), *req.IsActive); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleSetKeyPermissions(w http.ResponseWriter, r *http.Request) {
	var req setPermissionsRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	perms, err := a.deps.Keys.UpdatePermissions(r.Context(), credential(r), chi.URLParam(r, "id"), req.Permissions)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "permissions": perms})
}
