package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
)

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.deps.Dashboard.Stats(r.Context(), credential(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := a.deps.Dashboard.RecentActivity(r.Context(), credential(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entriesOrEmpty(entries)})
}

func (a *API) handleRecentConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := a.deps.Dashboard.RecentConnections(r.Context(), credential(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": connectionsOrEmpty(conns)})
}

func (a *API) handleActionLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := a.deps.Dashboard.ActionLogs(r.Context(), credential(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entriesOrEmpty(entries)})
}

func (a *API) handleConnectionLogs(w http.ResponseWriter, r *http.Request) {
	conns, err := a.deps.Dashboard.ConnectionLogs(r.Context(), credential(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": connectionsOrEmpty(conns)})
}

func (a *API) handleExportActions(w http.ResponseWriter, r *http.Request) {
	a.writeCSV(w, r, "action_logs.csv", a.deps.Dashboard.ExportActions)
}

func (a *API) handleExportConnections(w http.ResponseWriter, r *http.Request) {
	a.writeCSV(w, r, "connection_logs.csv", a.deps.Dashboard.ExportConnections)
}

// writeCSV renders into a buffer first so a failed query still yields a JSON error
// instead of a truncated download.
func (a *API) writeCSV(w http.ResponseWriter, r *http.Request, filename string, export func(context.Context, auth.Credential, io.Writer) error) {
	var buf bytes.Buffer
	if err := export(r.Context(), credential(r), &buf); err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := a.deps.Dashboard.Profile(r.Context(), credential(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func entriesOrEmpty(entries []audit.Entry) []audit.Entry {
	if entries == nil {
		return []audit.Entry{}
	}
	return entries
}

func connectionsOrEmpty(conns []audit.Connection) []audit.Connection {
	if conns == nil {
		return []audit.Connection{}
	}
	return conns
}
