package auth

import (
	"context"
	"time"
)

// KeyStore persists session keys.
type KeyStore interface {
	CreateKey(ctx context.Context, key *SessionKey) error
	// CreateFirstKey inserts key only when no key exists yet and returns
	// ErrNotBootstrappable otherwise.
	CreateFirstKey(ctx context.Context, key *SessionKey) error
	FindKey(ctx context.Context, id string) (*SessionKey, error)
	ListKeys(ctx context.Context) ([]*SessionKey, error)
	ListActiveKeys(ctx context.Context) ([]*SessionKey, error)
	CountKeys(ctx context.Context) (int, error)
	SetKeyActive(ctx context.Context, id string, active bool) error
	SetKeyPermissions(ctx context.Context, id string, perms PermissionSet) error
	TouchKey(ctx context.Context, id string, at time.Time) error
}
