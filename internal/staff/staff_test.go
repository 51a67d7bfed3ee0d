package staff

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
	"voidmod.org/internal/stream"
)

type keyTable struct {
	mu   sync.Mutex
	keys map[string]*auth.SessionKey
}

func newKeyTable() *keyTable { return &keyTable{keys: map[string]*auth.SessionKey{}} }

func (k *keyTable) CreateKey(_ context.Context, key *auth.SessionKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	cp := *key
	k.keys[key.ID] = &cp
	return nil
}

func (k *keyTable) CreateFirstKey(ctx context.Context, key *auth.SessionKey) error {
	return k.CreateKey(ctx, key)
}

func (k *keyTable) FindKey(_ context.Context, id string) (*auth.SessionKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (k *keyTable) ListKeys(context.Context) ([]*auth.SessionKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*auth.SessionKey, 0, len(k.keys))
	for _, key := range k.keys {
		cp := *key
		out = append(out, &cp)
	}
	return out, nil
}

func (k *keyTable) ListActiveKeys(ctx context.Context) ([]*auth.SessionKey, error) {
	return k.ListKeys(ctx)
}

func (k *keyTable) CountKeys(context.Context) (int, error) { return len(k.keys), nil }

func (k *keyTable) SetKeyActive(_ context.Context, id string, active bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[id]
	if !ok {
		return auth.ErrNotFound
	}
	key.Active = active
	return nil
}

func (k *keyTable) SetKeyPermissions(_ context.Context, id string, perms auth.PermissionSet) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	key, ok := k.keys[id]
	if !ok {
		return auth.ErrNotFound
	}
	key.Permissions = perms
	return nil
}

func (k *keyTable) TouchKey(context.Context, string, time.Time) error { return nil }

type memJournal struct {
	entries []audit.Entry
}

func (j *memJournal) Record(ctx context.Context, actor audit.Actor, a audit.Action) (audit.Entry, error) {
	e := audit.Entry{
		ActorPseudo: actor.Pseudo,
		ActionType:  a.Type,
		TargetType:  a.TargetType,
		TargetID:    a.TargetID,
		Details:     a.Details,
		IPAddress:   audit.ClientIPFromContext(ctx),
	}
	j.entries = append(j.entries, e)
	return e, nil
}

var founder = auth.Credential{KeyID: "f", Pseudo: "VoidFounder", Role: auth.RoleFounder, Permissions: auth.WildcardSet()}

func newAdmin() (*KeyAdmin, *keyTable, *memJournal) {
	keys := newKeyTable()
	journal := &memJournal{}
	return NewKeyAdmin(keys, auth.NewKeyCodec(auth.WithHashCost(bcrypt.MinCost)), journal), keys, journal
}

func TestKeyAdminIsFounderOnly(t *testing.T) {
	admin, _, _ := newAdmin()
	superAdmin := auth.Credential{Pseudo: "sa", Role: auth.RoleSuperAdmin, Permissions: auth.DefaultPermissions(auth.RoleSuperAdmin)}

	_, err := admin.List(context.Background(), superAdmin)
	require.True(t, errors.Is(err, auth.ErrRoleDenied))
	_, err = admin.Create(context.Background(), superAdmin, CreateKeyInput{Pseudo: "x", Role: "Admin"})
	require.True(t, errors.Is(err, auth.ErrRoleDenied))
}

func TestCreateKeySecrets(t *testing.T) {
	admin, keys, journal := newAdmin()
	ctx := context.Background()
	codec := auth.NewKeyCodec()

	generated, err := admin.Create(ctx, founder, CreateKeyInput{Pseudo: "  Nova ", Role: "Modérateur", CustomKey: "short"})
	require.NoError(t, err)
	require.Len(t, generated.Secret, auth.DefaultKeyLength)
	require.Equal(t, "Nova", generated.Key.Pseudo)
	require.Equal(t, "VoidFounder", generated.Key.CreatedBy)
	require.True(t, codec.Verify(generated.Secret, generated.Key.KeyHash))

	custom, err := admin.Create(ctx, founder, CreateKeyInput{
		Pseudo:      "Orion",
		Role:        "Admin",
		CustomKey:   "orion-custom-key",
		Permissions: []string{"VIEW_CONNECTIONS", "NOT_A_TAG"},
	})
	require.NoError(t, err)
	require.Equal(t, "orion-custom-key", custom.Secret)
	require.True(t, custom.Key.Permissions.Allows(auth.PermViewConnections))
	require.NotContains(t, custom.Key.Permissions.Strings(), "NOT_A_TAG")

	_, err = admin.Create(ctx, founder, CreateKeyInput{Pseudo: "Bad", Role: "Overlord"})
	require.True(t, errors.Is(err, auth.ErrInvalidInput))
	_, err = admin.Create(ctx, founder, CreateKeyInput{Pseudo: " ", Role: "Admin"})
	require.True(t, errors.Is(err, auth.ErrInvalidInput))

	require.Len(t, keys.keys, 2)
	require.Len(t, journal.entries, 2)
	require.Equal(t, ActionKeyCreated, journal.entries[0].ActionType)
	require.Equal(t, TargetSessionKey, journal.entries[0].TargetType)
}

func TestSetActiveAndPermissions(t *testing.T) {
	admin, keys, journal := newAdmin()
	ctx := context.Background()
	created, err := admin.Create(ctx, founder, CreateKeyInput{Pseudo: "Nova", Role: "Modérateur"})
	require.NoError(t, err)
	id := created.Key.ID

	require.NoError(t, admin.SetActive(ctx, founder, id, false))
	require.False(t, keys.keys[id].Active)
	require.NoError(t, admin.SetActive(ctx, founder, id, true))
	require.True(t, keys.keys[id].Active)

	perms, err := admin.UpdatePermissions(ctx, founder, id, []string{"VIEW_LOGS"})
	require.NoError(t, err)
	require.True(t, perms.Allows(auth.PermViewLogs))
	require.True(t, perms.Allows(auth.PermWarnMember))

	require.True(t, errors.Is(admin.SetActive(ctx, founder, "missing", false), auth.ErrNotFound))

	var types []string
	for _, e := range journal.entries {
		types = append(types, e.ActionType)
	}
	require.Equal(t, []string{ActionKeyCreated, ActionKeyDisabled, ActionKeyEnabled, ActionKeyPermissionsUpdated}, types)
}

type connLog struct {
	err  error
	rows []audit.Connection
}

func (c *connLog) Append(_ context.Context, conn audit.Connection) (audit.Connection, error) {
	if c.err != nil {
		return audit.Connection{}, c.err
	}
	if conn.IPAddress == "" {
		conn.IPAddress = audit.UnknownIP
	}
	c.rows = append(c.rows, conn)
	return conn, nil
}

type workbook struct {
	err   error
	lines int
}

func (w *workbook) Append(string, string, time.Time) error {
	w.lines++
	return w.err
}

type publisher struct{ events []stream.Event }

func (p *publisher) Publish(_ context.Context, ev stream.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func TestLoginRecorder(t *testing.T) {
	conns := &connLog{}
	wb := &workbook{err: errors.New("disk full")}
	journal := &memJournal{}
	pub := &publisher{}
	rec := NewLoginRecorder(conns, wb, journal, pub)

	key := &auth.SessionKey{ID: "k1", Pseudo: "Nova", Role: auth.RoleAdmin}
	at := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	err := rec.StaffLoggedIn(context.Background(), key, auth.LoginMeta{IPAddress: "192.0.2.1", UserAgent: "ua"}, at)
	require.NoError(t, err, "workbook failures are not fatal")

	require.Len(t, conns.rows, 1)
	require.Equal(t, 1, wb.lines)
	require.Len(t, journal.entries, 1)
	require.Equal(t, ActionLogin, journal.entries[0].ActionType)
	require.Equal(t, "192.0.2.1", journal.entries[0].IPAddress)

	require.Len(t, pub.events, 1)
	require.Equal(t, stream.EventFounderStaffLogin, pub.events[0].Name)
	var payload stream.StaffLogin
	require.NoError(t, json.Unmarshal(pub.events[0].Data, &payload))
	require.Equal(t, "Nova", payload.Pseudo)
	require.Equal(t, "192.0.2.1", payload.IPAddress)
}

func TestLoginRecorderConnectionFailure(t *testing.T) {
	journal := &memJournal{}
	rec := NewLoginRecorder(&connLog{err: errors.New("db down")}, nil, journal, nil)
	err := rec.StaffLoggedIn(context.Background(), &auth.SessionKey{ID: "k"}, auth.LoginMeta{}, time.Now())
	require.Error(t, err)
	require.Empty(t, journal.entries)
}

func TestRecordLogout(t *testing.T) {
	journal := &memJournal{}
	require.NoError(t, RecordLogout(context.Background(), journal, founder))
	require.Equal(t, ActionLogout, journal.entries[0].ActionType)
	require.Equal(t, "f", journal.entries[0].TargetID)
}
