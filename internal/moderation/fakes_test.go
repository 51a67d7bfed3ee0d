package moderation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/provider"
	"voidmod.org/internal/stream"
)

type memSubjects struct {
	mu        sync.Mutex
	rows      map[string][]byte
	versions  map[string]int64
	conflicts int
}

func newMemSubjects() *memSubjects {
	return &memSubjects{rows: map[string][]byte{}, versions: map[string]int64{}}
}

func (m *memSubjects) LoadSubject(_ context.Context, id string) (*Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	var s Subject
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s.Version = m.versions[id]
	return &s, nil
}

func (m *memSubjects) SaveSubject(_ context.Context, s *Subject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return ErrConflict
	}
	if m.versions[s.MemberID] != s.Version {
		return ErrConflict
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.rows[s.MemberID] = raw
	s.Version++
	m.versions[s.MemberID] = s.Version
	return nil
}

func (m *memSubjects) FindExpiredTempBans(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, raw := range m.rows {
		var s Subject
		_ = json.Unmarshal(raw, &s)
		if s.HasExpiredTempBans(now) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

type fakeMembers struct {
	mu      sync.Mutex
	err     error
	calls   []string
	profile provider.Member
}

func (f *fakeMembers) note(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.err
}

func (f *fakeMembers) member(id string) provider.Member {
	p := f.profile
	p.ID = id
	if p.Username == "" {
		p.Username = "member-" + id
	}
	return p
}

func (f *fakeMembers) FetchMember(_ context.Context, id string) (provider.Member, error) {
	if err := f.note("fetch"); err != nil {
		return provider.Member{}, err
	}
	return f.member(id), nil
}

func (f *fakeMembers) SearchMembers(_ context.Context, q string) ([]provider.Member, error) {
	if err := f.note("search"); err != nil {
		return nil, err
	}
	return []provider.Member{f.member(q)}, nil
}

func (f *fakeMembers) TimeoutMember(_ context.Context, id string, _ int, _ string) (provider.Member, error) {
	if err := f.note("timeout"); err != nil {
		return provider.Member{}, err
	}
	return f.member(id), nil
}

func (f *fakeMembers) KickMember(context.Context, string, string) error  { return f.note("kick") }
func (f *fakeMembers) BanMember(context.Context, string, string) error   { return f.note("ban") }
func (f *fakeMembers) UnbanMember(context.Context, string, string) error { return f.note("unban") }

type memJournal struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (j *memJournal) Record(_ context.Context, actor audit.Actor, action audit.Action) (audit.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e := audit.Entry{
		ActorPseudo: actor.Pseudo,
		ActorRole:   actor.Role,
		ActionType:  action.Type,
		TargetType:  action.TargetType,
		TargetID:    action.TargetID,
		Details:     action.Details,
	}
	j.entries = append(j.entries, e)
	return e, nil
}

func (j *memJournal) ofType(t string) []audit.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []audit.Entry
	for _, e := range j.entries {
		if e.ActionType == t {
			out = append(out, e)
		}
	}
	return out
}

type memPublisher struct {
	mu     sync.Mutex
	events []stream.Event
}

func (p *memPublisher) Publish(_ context.Context, ev stream.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *memPublisher) named(name string) []stream.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []stream.Event
	for _, ev := range p.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
