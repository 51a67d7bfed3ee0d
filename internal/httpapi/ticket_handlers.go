package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"voidmod.org/internal/tickets"
)

type createTicketRequest struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

type ticketStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type ticketMessageRequest struct {
	Content string `json:"content"`
}

type ticketAssignRequest struct {
	Assignee string `json:"assignee"`
}

func (a *API) handleListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Tickets.List(r.Context(), credential(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if list == nil {
		list = []tickets.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": list})
}

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	t, err := a.deps.Tickets.Create(r.Context(), credential(r), req.Subject, req.Description)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ticket": t})
}

func (a *API) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	var req ticketStatusRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	t, err := a.deps.Tickets.UpdateStatus(r.Context(), credential(r), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ticket": t})
}

func (a *API) handleTicketMessage(w http.ResponseWriter, r *http.Request) {
	var req ticketMessageRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	t, err := a.deps.Tickets.AddMessage(r.Context(), credential(r), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ticket": t})
}

func (a *API) handleTicketAssign(w http.ResponseWriter, r *http.Request) {
	var req ticketAssignRequest
	if err := a.decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	t, err := a.deps.Tickets.Assign(r.Context(), credential(r), chi.URLParam(r, "id"), req.Assignee)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ticket": t})
}
