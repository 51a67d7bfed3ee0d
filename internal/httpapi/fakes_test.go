package httpapi

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
	"voidmod.org/internal/moderation"
	"voidmod.org/internal/provider"
	"voidmod.org/internal/tickets"
)

type keyStore struct {
	mu   sync.Mutex
	keys map[string]*auth.SessionKey
}

func newKeyStore() *keyStore { return &keyStore{keys: map[string]*auth.SessionKey{}} }

func (s *keyStore) CreateKey(_ context.Context, key *auth.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *keyStore) CreateFirstKey(ctx context.Context, key *auth.SessionKey) error {
	s.mu.Lock()
	if len(s.keys) > 0 {
		s.mu.Unlock()
		return auth.ErrNotBootstrappable
	}
	s.mu.Unlock()
	return s.CreateKey(ctx, key)
}

func (s *keyStore) FindKey(_ context.Context, id string) (*auth.SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (s *keyStore) ListKeys(context.Context) ([]*auth.SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.SessionKey, 0, len(s.keys))
	for _, k := range s.keys {
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *keyStore) ListActiveKeys(ctx context.Context) ([]*auth.SessionKey, error) {
	all, _ := s.ListKeys(ctx)
	var out []*auth.SessionKey
	for _, k := range all {
		if k.Active {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *keyStore) CountKeys(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys), nil
}

func (s *keyStore) SetKeyActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return auth.ErrNotFound
	}
	key.Active = active
	return nil
}

func (s *keyStore) SetKeyPermissions(_ context.Context, id string, perms auth.PermissionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return auth.ErrNotFound
	}
	key.Permissions = perms
	return nil
}

func (s *keyStore) TouchKey(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.keys[id]; ok {
		key.LastUsedAt = &at
	}
	return nil
}

type activityStore struct {
	mu   sync.Mutex
	rows []audit.Entry
}

func (s *activityStore) InsertActivity(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *e)
	return nil
}

func (s *activityStore) ListActivity(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, 0, len(s.rows))
	for i := len(s.rows) - 1; i >= 0; i-- {
		out = append(out, s.rows[i])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *activityStore) CountActivityByActor(_ context.Context, pseudo string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.rows {
		if e.ActorPseudo == pseudo {
			n++
		}
	}
	return n, nil
}

func (s *activityStore) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rows))
	for _, e := range s.rows {
		out = append(out, e.ActionType)
	}
	return out
}

type connectionStore struct {
	mu   sync.Mutex
	rows []audit.Connection
}

func (s *connectionStore) InsertConnection(_ context.Context, c *audit.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *c)
	return nil
}

func (s *connectionStore) ListConnections(_ context.Context, limit int) ([]audit.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Connection, 0, len(s.rows))
	for i := len(s.rows) - 1; i >= 0; i-- {
		out = append(out, s.rows[i])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *connectionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// subjectStore keeps records as JSON so callers never share memory with it.
type subjectStore struct {
	mu       sync.Mutex
	rows     map[string][]byte
	versions map[string]int64
}

func newSubjectStore() *subjectStore {
	return &subjectStore{rows: map[string][]byte{}, versions: map[string]int64{}}
}

func (s *subjectStore) LoadSubject(_ context.Context, id string) (*moderation.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.rows[id]
	if !ok {
		return nil, moderation.ErrNotFound
	}
	var sub moderation.Subject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	sub.Version = s.versions[id]
	return &sub, nil
}

func (s *subjectStore) SaveSubject(_ context.Context, sub *moderation.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions[sub.MemberID] != sub.Version {
		return moderation.ErrConflict
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	s.rows[sub.MemberID] = raw
	sub.Version++
	s.versions[sub.MemberID] = sub.Version
	return nil
}

func (s *subjectStore) FindExpiredTempBans(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

func (s *subjectStore) all() []*moderation.Subject {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*moderation.Subject
	for _, raw := range s.rows {
		var sub moderation.Subject
		if json.Unmarshal(raw, &sub) == nil {
			out = append(out, &sub)
		}
	}
	return out
}

func (s *subjectStore) CountWarns(context.Context) (int, error) {
	n := 0
	for _, sub := range s.all() {
		n += len(sub.Warns)
	}
	return n, nil
}

func (s *subjectStore) CountActiveBans(context.Context) (int, error) {
	n := 0
	for _, sub := range s.all() {
		n += sub.ActiveBanCount()
	}
	return n, nil
}

type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]*tickets.Ticket
}

func newTicketStore() *ticketStore { return &ticketStore{tickets: map[string]*tickets.Ticket{}} }

func (s *ticketStore) CreateTicket(_ context.Context, t *tickets.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return tickets.ErrDuplicateID
	}
	cp := *t
	cp.Messages = append([]tickets.Message(nil), t.Messages...)
	s.tickets[t.ID] = &cp
	return nil
}

func (s *ticketStore) ListTickets(_ context.Context, limit int) ([]tickets.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tickets.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ticketStore) update(id string, fn func(t *tickets.Ticket)) (*tickets.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, tickets.ErrNotFound
	}
	fn(t)
	cp := *t
	return &cp, nil
}

func (s *ticketStore) AppendMessage(_ context.Context, id string, msg tickets.Message) (*tickets.Ticket, error) {
	return s.update(id, func(t *tickets.Ticket) {
		t.Messages = append(t.Messages, msg)
		t.UpdatedAt = msg.CreatedAt
	})
}

func (s *ticketStore) SetStatus(_ context.Context, id string, status tickets.Status, at time.Time) (*tickets.Ticket, error) {
	return s.update(id, func(t *tickets.Ticket) {
		t.Status = status
		t.UpdatedAt = at
	})
}

func (s *ticketStore) Assign(_ context.Context, id, assignee string, at time.Time) (*tickets.Ticket, error) {
	return s.update(id, func(t *tickets.Ticket) {
		t.AssignedTo = assignee
		t.UpdatedAt = at
	})
}

func (s *ticketStore) CountOpenTickets(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickets {
		if t.Status != tickets.StatusClosed {
			n++
		}
	}
	return n, nil
}

// guild is a provider fake. Setting down makes every call fail as unavailable.
type guild struct {
	mu      sync.Mutex
	members map[string]provider.Member
	down    bool
	calls   []string
}

func newGuild(members ...provider.Member) *guild {
	g := &guild{members: map[string]provider.Member{}}
	for _, m := range members {
		g.members[m.ID] = m
	}
	return g
}

func (g *guild) call(op, id string) (provider.Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, op+":"+id)
	if g.down {
		return provider.Member{}, provider.ErrUnavailable
	}
	m, ok := g.members[id]
	if !ok {
		return provider.Member{}, provider.ErrNotFound
	}
	return m, nil
}

func (g *guild) setDown(down bool) {
	g.mu.Lock()
	g.down = down
	g.mu.Unlock()
}

func (g *guild) FetchMember(_ context.Context, id string) (provider.Member, error) {
	return g.call("fetch", id)
}

func (g *guild) SearchMembers(_ context.Context, q string) ([]provider.Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return nil, provider.ErrUnavailable
	}
	var out []provider.Member
	for _, m := range g.members {
		if q == "" || strings.Contains(strings.ToLower(m.Username), strings.ToLower(q)) || m.ID == q {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *guild) TimeoutMember(_ context.Context, id string, _ int, _ string) (provider.Member, error) {
	return g.call("timeout", id)
}

func (g *guild) KickMember(_ context.Context, id, _ string) error {
	_, err := g.call("kick", id)
	return err
}

func (g *guild) BanMember(_ context.Context, id, _ string) error {
	_, err := g.call("ban", id)
	return err
}

// UnbanMember succeeds for members who already left, as the upstream API does.
func (g *guild) UnbanMember(_ context.Context, id, _ string) error {
	_, err := g.call("unban", id)
	if err == provider.ErrNotFound {
		return nil
	}
	return err
}
