// Package tickets tracks staff support tickets.
package tickets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("ticket not found")
	// ErrDuplicateID is returned by a Store when the generated id is taken.
	ErrDuplicateID = errors.New("ticket id already exists")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Status is a ticket lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// ParseStatus accepts the three known states.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.TrimSpace(raw)); s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return s, true
	default:
		return "", false
	}
}

// Action types.
const (
	ActionCreated       = "TICKET_CREATED"
	ActionStatusUpdated = "TICKET_STATUS_UPDATED"
	ActionMessageAdded  = "TICKET_MESSAGE_ADDED"
	ActionAssigned      = "TICKET_ASSIGNED"

	TargetTicket = "ticket"

	idPrefix    = "VM-"
	listLimit   = 100
	maxAttempts = 5
)

// Author identifies who opened a ticket.
type Author struct {
	Pseudo string `json:"pseudo"`
	Role   string `json:"role"`
	KeyID  string `json:"keyId"`
}

// Message is one entry of a ticket thread.
type Message struct {
	AuthorPseudo string    `json:"authorPseudo"`
	AuthorRole   string    `json:"authorRole"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Ticket is a support thread.
type Ticket struct {
	ID          string    `json:"ticketId"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedBy   Author    `json:"createdBy"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists tickets. Mutations are applied atomically by the store and return
// the updated ticket, or ErrNotFound.
type Store interface {
	CreateTicket(ctx context.Context, t *Ticket) error
	ListTickets(ctx context.Context, limit int) ([]Ticket, error)
	AppendMessage(ctx context.Context, id string, msg Message) (*Ticket, error)
	SetStatus(ctx context.Context, id string, status Status, at time.Time) (*Ticket, error)
	Assign(ctx context.Context, id, assignee string, at time.Time) (*Ticket, error)
	CountOpenTickets(ctx context.Context) (int, error)
}

// Journal records ticket actions.
type Journal interface {
	Record(ctx context.Context, actor audit.Actor, action audit.Action) (audit.Entry, error)
}

// Service implements ticket operations.
type Service struct {
	store   Store
	journal Journal
	now     func() time.Time
	newID   func() (string, error)
}

// NewService wires the ticket service.
func NewService(store Store, journal Journal) *Service {
	return &Service{store: store, journal: journal, now: time.Now, newID: newTicketID}
}

func newTicketID() (string, error) {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return idPrefix + strings.ToUpper(hex.EncodeToString(buf[:])), nil
}

func (s *Service) record(ctx context.Context, cred auth.Credential, actionType, id string, details map[string]any) error {
	_, err := s.journal.Record(ctx, audit.ActorFromCredential(cred), audit.Action{
		Type:       actionType,
		TargetType: TargetTicket,
		TargetID:   id,
		Details:    details,
	})
	return err
}

// List returns the most recently updated tickets.
func (s *Service) List(ctx context.Context, cred auth.Credential) ([]Ticket, error) {
	if err := auth.Require(cred, auth.PermViewTickets); err != nil {
		return nil, err
	}
	return s.store.ListTickets(ctx, listLimit)
}

// Create opens a ticket whose first message is the description.
func (s *Service) Create(ctx context.Context, cred auth.Credential, subject, description string) (*Ticket, error) {
	if err := auth.Require(cred, auth.PermViewTickets); err != nil {
		return nil, err
	}
	subject, description = strings.TrimSpace(subject), strings.TrimSpace(description)
	if subject == "" {
		return nil, &ValidationError{Field: "subject", Message: "subject is required"}
	}
	if description == "" {
		return nil, &ValidationError{Field: "description", Message: "description is required"}
	}
	now := s.now().UTC()
	t := &Ticket{
		Subject:     subject,
		Description: description,
		Status:      StatusOpen,
		CreatedBy:   Author{Pseudo: cred.Pseudo, Role: string(cred.Role), KeyID: cred.KeyID},
		Messages: []Message{{
			AuthorPseudo: cred.Pseudo,
			AuthorRole:   string(cred.Role),
			Content:      description,
			CreatedAt:    now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for attempt := 1; ; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("generate ticket id: %w", err)
		}
		t.ID = id
		err = s.store.CreateTicket(ctx, t)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateID) || attempt == maxAttempts {
			return nil, err
		}
	}
	if err := s.record(ctx, cred, ActionCreated, t.ID, map[string]any{"subject": subject}); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateStatus moves a ticket to status.
func (s *Service) UpdateStatus(ctx context.Context, cred auth.Credential, id, status string) (*Ticket, error) {
	if err := auth.Require(cred, auth.PermManageTickets); err != nil {
		return nil, err
	}
	st, ok := ParseStatus(status)
	if !ok {
		return nil, &ValidationError{Field: "status", Message: "status must be open, in_progress or closed"}
	}
	t, err := s.store.SetStatus(ctx, id, st, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, cred, ActionStatusUpdated, t.ID, map[string]any{"status": string(st)}); err != nil {
		return nil, err
	}
	return t, nil
}

// AddMessage appends to the ticket thread.
func (s *Service) AddMessage(ctx context.Context, cred auth.Credential, id, content string) (*Ticket, error) {
	if err := auth.Require(cred, auth.PermViewTickets); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &ValidationError{Field: "content", Message: "message content is required"}
	}
	t, err := s.store.AppendMessage(ctx, id, Message{
		AuthorPseudo: cred.Pseudo,
		AuthorRole:   string(cred.Role),
		Content:      content,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, cred, ActionMessageAdded, t.ID, nil); err != nil {
		return nil, err
	}
	return t, nil
}

// Assign sets or clears the assignee.
func (s *Service) Assign(ctx context.Context, cred auth.Credential, id, assignee string) (*Ticket, error) {
	if err := auth.Require(cred, auth.PermManageTickets); err != nil {
		return nil, err
	}
	assignee = strings.TrimSpace(assignee)
	t, err := s.store.Assign(ctx, id, assignee, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, cred, ActionAssigned, t.ID, map[string]any{"assignedTo": assignee}); err != nil {
		return nil, err
	}
	return t, nil
}

// CountOpen returns tickets not yet closed.
func (s *Service) CountOpen(ctx context.Context) (int, error) {
	return s.store.CountOpenTickets(ctx)
}
