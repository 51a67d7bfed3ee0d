package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"voidmod.org/internal/provider"
)

// Sanction requests carry free-text fields; emptiness and ranges are checked by the
// moderation service so every entry point reports the same field errors.
type reasonRequest struct {
	Reason string `json:"reason"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type tempMuteRequest struct {
	DurationMinutes int    `json:"durationMinutes"`
	Reason          string `json:"reason"`
}

type tempBanRequest struct {
	DurationHours int    `json:"durationHours"`
	Reason        string `json:"reason"`
}

type reviewRequest struct {
	Approve *bool `json:"approve" validate:"required"`
}

func memberID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func (a *API) handleOAuthLoginURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"oauthUrl":  nullable(a.deps.OAuth.LoginURL()),
		"botInvite": nullable(a.deps.OAuth.BotInviteURL()),
	})
}

func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "missing OAuth2 code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "OAuth2 callback received",
		"code":    code,
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (a *API) handleSearchMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.deps.Moderation.Search(r.Context(), credential(r), r.URL.Query().Get("q"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if members == nil {
		members = []provider.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) handleMember(w http.ResponseWriter, r *http.Request) {
	view, err := a.deps.Moderation.Member(r.Context(), credential(r), memberID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleMemberHistory(w http.ResponseWriter, r *http.Request) {
	record, err := a.deps.Moderation.History(r.Context(), credential(r), memberID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

func (a *API) handleWarn(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	count, err := a.deps.Moderation.Warn(r.Context(), credential(r), memberID(r), req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "warnCount": count})
}

func (a *API) handleNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := a.deps.Moderation.AddNote(r.Context(), credential(r), memberID(r), req.Note); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleTempMute(w http.ResponseWriter, r *http.Request) {
	var req tempMuteRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	until, err := a.deps.Moderation.TempMute(r.Context(), credential(r), memberID(r), req.DurationMinutes, req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "until": until})
}

func (a *API) handleKick(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := a.deps.Moderation.Kick(r.Context(), credential(r), memberID(r), req.Reason); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleBanRequest(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	request, err := a.deps.Moderation.RequestBan(r.Context(), credential(r), memberID(r), req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": request})
}

func (a *API) handleTempBan(w http.ResponseWriter, r *http.Request) {
	var req tempBanRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	until, err := a.deps.Moderation.TempBan(r.Context(), credential(r), memberID(r), req.DurationHours, req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tempUntil": until})
}

func (a *API) handlePermBan(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := a.deps.Moderation.PermBan(r.Context(), credential(r), memberID(r), req.Reason); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleUnban(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := a.decodeOptionalJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := a.deps.Moderation.Unban(r.Context(), credential(r), memberID(r), req.Reason); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleReviewBanRequest(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	reviewed, err := a.deps.Moderation.ReviewBanRequest(r.Context(), credential(r), memberID(r), chi.URLParam(r, "requestId"), *req.Approve)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": reviewed})
}
