// Package staff manages session keys and the side effects of staff logins.
package staff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
	"voidmod.org/internal/ids"
)

// Action types journaled for key management and sessions.
const (
	ActionKeyCreated            = "KEY_CREATED"
	ActionKeyEnabled            = "KEY_ENABLED"
	ActionKeyDisabled           = "KEY_DISABLED"
	ActionKeyPermissionsUpdated = "KEY_PERMISSIONS_UPDATED"
	ActionLogin                 = "AUTH_LOGIN"
	ActionLogout                = "AUTH_LOGOUT"

	TargetSessionKey = "session_key"
	TargetSession    = "session"
)

// Journal records staff actions.
type Journal interface {
	Record(ctx context.Context, actor audit.Actor, action audit.Action) (audit.Entry, error)
}

// KeyAdmin implements Founder-only key management.
type KeyAdmin struct {
	keys    auth.KeyStore
	codec   *auth.KeyCodec
	journal Journal
	now     func() time.Time
}

// NewKeyAdmin wires key management.
func NewKeyAdmin(keys auth.KeyStore, codec *auth.KeyCodec, journal Journal) *KeyAdmin {
	return &KeyAdmin{keys: keys, codec: codec, journal: journal, now: time.Now}
}

// CreateKeyInput describes a new key. CustomKey is used only when it is long enough.
type CreateKeyInput struct {
	Pseudo      string
	Role        string
	Permissions []string
	CustomKey   string
}

// CreatedKey carries the plaintext secret, which is never retrievable again.
type CreatedKey struct {
	Key    *auth.SessionKey
	Secret string
}

func (a *KeyAdmin) record(ctx context.Context, cred auth.Credential, actionType, id string, details map[string]any) error {
	_, err := a.journal.Record(ctx, audit.ActorFromCredential(cred), audit.Action{
		Type:       actionType,
		TargetType: TargetSessionKey,
		TargetID:   id,
		Details:    details,
	})
	return err
}

// List returns every key, newest first.
func (a *KeyAdmin) List(ctx context.Context, cred auth.Credential) ([]*auth.SessionKey, error) {
	if err := auth.RequireRole(cred, auth.RoleFounder); err != nil {
		return nil, err
	}
	return a.keys.ListKeys(ctx)
}

// Create issues a new key.
func (a *KeyAdmin) Create(ctx context.Context, cred auth.Credential, in CreateKeyInput) (CreatedKey, error) {
	if err := auth.RequireRole(cred, auth.RoleFounder); err != nil {
		return CreatedKey{}, err
	}
	pseudo := strings.TrimSpace(in.Pseudo)
	if pseudo == "" {
		return CreatedKey{}, fmt.Errorf("%w: pseudo is required", auth.ErrInvalidInput)
	}
	role, ok := auth.ParseRole(in.Role)
	if !ok {
		return CreatedKey{}, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, in.Role)
	}
	secret := in.CustomKey
	if len(secret) < auth.MinCustomKeyLength {
		var err error
		if secret, err = a.codec.Generate(auth.DefaultKeyLength); err != nil {
			return CreatedKey{}, err
		}
	}
	hash, err := a.codec.Hash(secret)
	if err != nil {
		return CreatedKey{}, fmt.Errorf("%w: %v", auth.ErrInvalidInput, err)
	}
	now := a.now().UTC()
	key := &auth.SessionKey{
		ID:          ids.NewAt(now),
		Pseudo:      pseudo,
		Role:        role,
		Permissions: auth.Resolve(role, in.Permissions),
		KeyHash:     hash,
		Active:      true,
		CreatedBy:   cred.Pseudo,
		CreatedAt:   now,
	}
	if err := a.keys.CreateKey(ctx, key); err != nil {
		return CreatedKey{}, err
	}
	if err := a.record(ctx, cred, ActionKeyCreated, key.ID, map[string]any{
		"pseudo": key.Pseudo, "role": string(key.Role), "permissions": key.Permissions.Strings(),
	}); err != nil {
		return CreatedKey{}, err
	}
	return CreatedKey{Key: key, Secret: secret}, nil
}

// SetActive enables or disables a key. Disabling revokes every credential issued for it.
func (a *KeyAdmin) SetActive(ctx context.Context, cred auth.Credential, id string, active bool) error {
	if err := auth.RequireRole(cred, auth.RoleFounder); err != nil {
		return err
	}
	key, err := a.keys.FindKey(ctx, id)
	if err != nil {
		return err
	}
	if err := a.keys.SetKeyActive(ctx, id, active); err != nil {
		return err
	}
	action := ActionKeyDisabled
	if active {
		action = ActionKeyEnabled
	}
	return a.record(ctx, cred, action, id, map[string]any{"pseudo": key.Pseudo, "role": string(key.Role)})
}

// UpdatePermissions re-resolves the key's grant from its role and extras. Credentials
// already issued keep their snapshot until they expire.
func (a *KeyAdmin) UpdatePermissions(ctx context.Context, cred auth.Credential, id string, extras []string) (auth.PermissionSet, error) {
	if err := auth.RequireRole(cred, auth.RoleFounder); err != nil {
		return auth.PermissionSet{}, err
	}
	key, err := a.keys.FindKey(ctx, id)
	if err != nil {
		return auth.PermissionSet{}, err
	}
	perms := auth.Resolve(key.Role, extras)
	if err := a.keys.SetKeyPermissions(ctx, id, perms); err != nil {
		return auth.PermissionSet{}, err
	}
	if err := a.record(ctx, cred, ActionKeyPermissionsUpdated, id, map[string]any{"permissions": perms.Strings()}); err != nil {
		return auth.PermissionSet{}, err
	}
	return perms, nil
}
