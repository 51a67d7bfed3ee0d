package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voidmod.org/internal/ids"
	"voidmod.org/internal/obs"
)

const bootstrapCreator = "bootstrap"

// LoginObserver receives successful logins. It records the connection audit trail
// and notifies privileged viewers. An error fails the login.
type LoginObserver interface {
	StaffLoggedIn(ctx context.Context, key *SessionKey, meta LoginMeta, at time.Time) error
}

// LoginResult is returned by Sessions.Login.
type LoginResult struct {
	Token      string
	Credential Credential
	Key        *SessionKey
}

// Sessions authenticates session keys and issues bearer credentials.
type Sessions struct {
	keys     KeyStore
	codec    *KeyCodec
	tokens   *TokenIssuer
	observer LoginObserver
	now      func() time.Time
	logger   *slog.Logger
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithLoginObserver registers the login side-effect sink.
func WithLoginObserver(o LoginObserver) SessionsOption {
	return func(s *Sessions) { s.observer = o }
}

// WithSessionsClock injects the clock.
func WithSessionsClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionsLogger overrides the logger.
func WithSessionsLogger(l *slog.Logger) SessionsOption {
	return func(s *Sessions) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSessions wires the session service.
func NewSessions(keys KeyStore, codec *KeyCodec, tokens *TokenIssuer, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		keys:   keys,
		codec:  codec,
		tokens: tokens,
		now:    time.Now,
		logger: obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate returns the first active key whose hash matches secret. Inactive keys
// are never compared. The last-used stamp is written best-effort.
func (s *Sessions) Authenticate(ctx context.Context, secret string) (*SessionKey, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrInvalidCredential
	}
	active, err := s.keys.ListActiveKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active keys: %w", err)
	}
	for _, key := range active {
		if !key.Active || !s.codec.Verify(secret, key.KeyHash) {
			continue
		}
		at := s.now().UTC()
		if err := s.keys.TouchKey(ctx, key.ID, at); err != nil {
			s.logger.Warn("session key last-used update failed",
				slog.String("key_id", key.ID), slog.Any("error", err))
		} else {
			key.LastUsedAt = &at
		}
		return key, nil
	}
	return nil, ErrInvalidCredential
}

// Login authenticates secret, mints a credential and runs the login observer.
func (s *Sessions) Login(ctx context.Context, secret string, meta LoginMeta) (LoginResult, error) {
	key, err := s.Authenticate(ctx, secret)
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			obs.ObserveLogin("rejected")
		} else {
			obs.ObserveLogin("error")
		}
		return LoginResult{}, err
	}
	token, cred, err := s.tokens.Issue(key)
	if err != nil {
		obs.ObserveLogin("error")
		return LoginResult{}, err
	}
	if s.observer != nil {
		if err := s.observer.StaffLoggedIn(ctx, key, meta, cred.IssuedAt); err != nil {
			obs.ObserveLogin("error")
			return LoginResult{}, fmt.Errorf("record login: %w", err)
		}
	}
	obs.ObserveLogin("success")
	return LoginResult{Token: token, Credential: cred, Key: key}, nil
}

// Bootstrap creates the first Founder key. It fails with ErrNotBootstrappable as soon
// as any key exists. An empty secret is replaced by a generated one.
func (s *Sessions) Bootstrap(ctx context.Context, pseudo, secret string) (*SessionKey, string, error) {
	pseudo = strings.TrimSpace(pseudo)
	if pseudo == "" {
		return nil, "", fmt.Errorf("%w: pseudo is required", ErrInvalidInput)
	}
	count, err := s.keys.CountKeys(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("count keys: %w", err)
	}
	if count > 0 {
		return nil, "", ErrNotBootstrappable
	}
	if secret == "" {
		if secret, err = s.codec.Generate(BootstrapKeyLength); err != nil {
			return nil, "", err
		}
	}
	hash, err := s.codec.Hash(secret)
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	key := &SessionKey{
		ID:          ids.NewAt(now),
		Pseudo:      pseudo,
		Role:        RoleFounder,
		Permissions: Resolve(RoleFounder, nil),
		KeyHash:     hash,
		Active:      true,
		CreatedBy:   bootstrapCreator,
		CreatedAt:   now,
	}
	if err := s.keys.CreateFirstKey(ctx, key); err != nil {
		return nil, "", err
	}
	s.logger.Info("founder key bootstrapped", slog.String("key_id", key.ID), slog.String("pseudo", pseudo))
	return key, secret, nil
}
