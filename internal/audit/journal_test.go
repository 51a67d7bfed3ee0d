package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"voidmod.org/internal/auth"
	"voidmod.org/internal/obs"
	"voidmod.org/internal/stream"
)

type memActivity struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memActivity) InsertActivity(_ context.Context, e *Entry) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memActivity) ListActivity(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *memActivity) CountActivityByActor(_ context.Context, pseudo string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.ActorPseudo == pseudo {
			n++
		}
	}
	return n, nil
}

type recordingPublisher struct {
	events []stream.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev stream.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func TestRecordPersistsThenPushes(t *testing.T) {
	store := &memActivity{}
	pub := &recordingPublisher{}
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	journal := NewJournal(store, pub, WithJournalClock(func() time.Time { return at }))

	ctx := WithClientIP(WithRequestID(context.Background(), "req-7"), "203.0.113.5")
	actor := ActorFromCredential(auth.Credential{KeyID: "k1", Pseudo: "Nova", Role: auth.RoleAdmin})
	entry, err := journal.Record(ctx, actor, Action{
		Type:       "DISCORD_WARN",
		TargetType: "discord_user",
		TargetID:   "42",
		Details:    map[string]any{"reason": "spam"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.IPAddress != "203.0.113.5" || entry.ActorKeyID != "k1" || !entry.CreatedAt.Equal(at) {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one persisted entry, got %d", len(store.entries))
	}
	if len(pub.events) != 1 || pub.events[0].Name != stream.EventActivity {
		t.Fatalf("expected one activity event, got %+v", pub.events)
	}
	var view map[string]any
	if err := json.Unmarshal(pub.events[0].Data, &view); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if view["actionType"] != "DISCORD_WARN" || view["targetId"] != "42" {
		t.Fatalf("unexpected payload %v", view)
	}
	if _, leaked := view["ipAddress"]; leaked {
		t.Fatal("origin address must not be broadcast")
	}
}

func TestRecordSurvivesBroadcastFailure(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	store := &memActivity{}
	journal := NewJournal(store, &recordingPublisher{err: stream.ErrHubClosed})

	if _, err := journal.Record(context.Background(), SystemActor, Action{Type: "TEMP_BAN_AUTO_EXPIRE"}); err != nil {
		t.Fatalf("broadcast failure must not fail the write: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatal("entry not persisted")
	}
	if store.entries[0].IPAddress != UnknownIP || store.entries[0].TargetType != DefaultTargetType {
		t.Fatalf("unexpected defaults %+v", store.entries[0])
	}
	if !strings.Contains(buf.String(), "activity broadcast failed") {
		t.Fatalf("expected warning, got %q", buf.String())
	}
}

func TestRecordStoreFailureSkipsPush(t *testing.T) {
	pub := &recordingPublisher{}
	journal := NewJournal(&memActivity{err: errors.New("db down")}, pub)

	if _, err := journal.Record(context.Background(), SystemActor, Action{Type: "X"}); err == nil {
		t.Fatal("expected store error")
	}
	if len(pub.events) != 0 {
		t.Fatal("nothing should be pushed when persistence fails")
	}
}

func TestRecordLogsRequestID(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	journal := NewJournal(&memActivity{}, nil)
	ctx := WithRequestID(context.Background(), "req-123")
	if _, err := journal.Record(ctx, Actor{Pseudo: "a", Role: "Admin"}, Action{Type: "KEY_CREATED", TargetType: "session_key"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if line["type"] != "audit" || line["event"] != "KEY_CREATED" || line["request_id"] != "req-123" {
		t.Fatalf("unexpected audit line %v", line)
	}
}

func TestRecordRequiresTypeAndActor(t *testing.T) {
	journal := NewJournal(&memActivity{}, nil)
	if _, err := journal.Record(context.Background(), SystemActor, Action{}); err == nil {
		t.Fatal("expected missing type error")
	}
	if _, err := journal.Record(context.Background(), Actor{}, Action{Type: "X"}); err == nil {
		t.Fatal("expected missing actor error")
	}
}
