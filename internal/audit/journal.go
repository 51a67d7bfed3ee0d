package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voidmod.org/internal/auth"
	"voidmod.org/internal/ids"
	"voidmod.org/internal/obs"
	"voidmod.org/internal/stream"
)

// Entry is an immutable record of one staff or system action.
type Entry struct {
	ID          string         `json:"id"`
	ActorPseudo string         `json:"actorPseudo"`
	ActorRole   string         `json:"actorRole"`
	ActorKeyID  string         `json:"actorKeyId,omitempty"`
	ActionType  string         `json:"actionType"`
	TargetType  string         `json:"targetType"`
	TargetID    string         `json:"targetId,omitempty"`
	Details     map[string]any `json:"details"`
	IPAddress   string         `json:"ipAddress"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Store persists journal entries.
type Store interface {
	InsertActivity(ctx context.Context, e *Entry) error
	ListActivity(ctx context.Context, limit int) ([]Entry, error)
	CountActivityByActor(ctx context.Context, pseudo string) (int, error)
}

// Actor is whoever performed an action.
type Actor struct {
	Pseudo string
	Role   string
	KeyID  string
}

// SystemActor is used for actions taken by background jobs.
var SystemActor = Actor{Pseudo: "system", Role: "system"}

// ActorFromCredential maps an authenticated caller.
func ActorFromCredential(cred auth.Credential) Actor {
	return Actor{Pseudo: cred.Pseudo, Role: string(cred.Role), KeyID: cred.KeyID}
}

// Action describes what was done.
type Action struct {
	Type       string
	TargetType string
	TargetID   string
	Details    map[string]any
}

// DefaultTargetType is used when an action names no target.
const DefaultTargetType = "system"

// activityView is the broadcast shape of an entry. Origin address and key id stay
// server-side.
type activityView struct {
	ID          string         `json:"id"`
	ActorPseudo string         `json:"actorPseudo"`
	ActorRole   string         `json:"actorRole"`
	ActionType  string         `json:"actionType"`
	TargetType  string         `json:"targetType"`
	TargetID    string         `json:"targetId,omitempty"`
	Details     map[string]any `json:"details"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Journal appends entries and forwards each to live viewers.
type Journal struct {
	store  Store
	pub    stream.Publisher
	now    func() time.Time
	logger *slog.Logger
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalClock injects the clock.
func WithJournalClock(now func() time.Time) JournalOption {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJournal builds a journal. pub may be nil when no live delivery is wanted.
func NewJournal(store Store, pub stream.Publisher, opts ...JournalOption) *Journal {
	j := &Journal{store: store, pub: pub, now: time.Now, logger: obs.Logger()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record persists the entry, then pushes it on the activity stream. A push failure is
// logged and never returned.
func (j *Journal) Record(ctx context.Context, actor Actor, action Action) (Entry, error) {
	action.Type = strings.TrimSpace(action.Type)
	if action.Type == "" {
		return Entry{}, errors.New("audit: action type is required")
	}
	if actor.Pseudo == "" || actor.Role == "" {
		return Entry{}, errors.New("audit: actor is required")
	}
	if action.TargetType == "" {
		action.TargetType = DefaultTargetType
	}
	details := make(map[string]any, len(action.Details))
	for k, v := range action.Details {
		details[k] = v
	}
	now := j.now().UTC()
	entry := Entry{
		ID:          ids.NewAt(now),
		ActorPseudo: actor.Pseudo,
		ActorRole:   actor.Role,
		ActorKeyID:  actor.KeyID,
		ActionType:  action.Type,
		TargetType:  action.TargetType,
		TargetID:    action.TargetID,
		Details:     details,
		IPAddress:   ClientIPFromContext(ctx),
		CreatedAt:   now,
	}
	if err := j.store.InsertActivity(ctx, &entry); err != nil {
		return Entry{}, fmt.Errorf("persist activity: %w", err)
	}

	attrs := []any{
		slog.String("type", "audit"),
		slog.String("event", entry.ActionType),
		slog.String("actor", entry.ActorPseudo),
		slog.String("target_type", entry.TargetType),
	}
	if entry.TargetID != "" {
		attrs = append(attrs, slog.String("target_id", entry.TargetID))
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	j.logger.Info("activity recorded", attrs...)

	j.push(ctx, entry)
	return entry, nil
}

func (j *Journal) push(ctx context.Context, e Entry) {
	if j.pub == nil {
		return
	}
	ev, err := stream.NewEvent(stream.EventActivity, activityView{
		ID:          e.ID,
		ActorPseudo: e.ActorPseudo,
		ActorRole:   e.ActorRole,
		ActionType:  e.ActionType,
		TargetType:  e.TargetType,
		TargetID:    e.TargetID,
		Details:     e.Details,
		CreatedAt:   e.CreatedAt,
	})
	if err == nil {
		err = j.pub.Publish(ctx, ev)
	}
	if err != nil {
		j.logger.Warn("activity broadcast failed", slog.String("activity_id", e.ID), slog.Any("error", err))
	}
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.store.ListActivity(ctx, limit)
}

// CountByActor returns how many entries pseudo has authored.
func (j *Journal) CountByActor(ctx context.Context, pseudo string) (int, error) {
	return j.store.CountActivityByActor(ctx, pseudo)
}
