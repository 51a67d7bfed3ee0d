package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TokenLifetime is the fixed validity of a bearer credential. There is no renewal.
	TokenLifetime = 12 * time.Hour

	defaultIssuer = "voidmod-console"
)

var errMissingSecret = errors.New("auth: token secret is not configured")

// Claims is the JWT body of a bearer credential.
type Claims struct {
	KeyID       string   `json:"keyId"`
	Pseudo      string   `json:"pseudo"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// KeyFinder resolves the session key behind a credential.
type KeyFinder interface {
	FindKey(ctx context.Context, id string) (*SessionKey, error)
}

// TokenIssuer mints and validates HS256 bearer credentials.
type TokenIssuer struct {
	secret []byte
	keys   KeyFinder
	issuer string
	now    func() time.Time
}

// IssuerOption configures a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(t *TokenIssuer) {
		if name = strings.TrimSpace(name); name != "" {
			t.issuer = name
		}
	}
}

// WithIssuerClock injects the clock used for iat/exp.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(t *TokenIssuer) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokenIssuer builds an issuer signing with secret. keys is consulted on every
// validation to reject credentials whose key was deactivated.
func NewTokenIssuer(secret string, keys KeyFinder, opts ...IssuerOption) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	if keys == nil {
		return nil, errors.New("auth: key finder is required")
	}
	t := &TokenIssuer{
		secret: []byte(secret),
		keys:   keys,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a credential for key with a snapshot of its current permissions.
func (t *TokenIssuer) Issue(key *SessionKey) (string, Credential, error) {
	if key == nil || strings.TrimSpace(key.ID) == "" {
		return "", Credential{}, fmt.Errorf("%w: session key id is required", ErrInvalidInput)
	}
	now := t.now().UTC().Truncate(time.Second)
	cred := Credential{
		KeyID:       key.ID,
		Pseudo:      key.Pseudo,
		Role:        key.Role,
		Permissions: key.Permissions,
		IssuedAt:    now,
		ExpiresAt:   now.Add(TokenLifetime),
	}
	claims := Claims{
		KeyID:       cred.KeyID,
		Pseudo:      cred.Pseudo,
		Role:        string(cred.Role),
		Permissions: cred.Permissions.Strings(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   cred.KeyID,
			IssuedAt:  jwt.NewNumericDate(cred.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cred.ExpiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", Credential{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, cred, nil
}

// Parse verifies signature and validity window without consulting the key store.
func (t *TokenIssuer) Parse(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Credential{}, ErrExpired
		}
		return Credential{}, ErrMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Credential{}, ErrMalformed
	}
	role, ok := ParseRole(claims.Role)
	if !ok || strings.TrimSpace(claims.KeyID) == "" || claims.IssuedAt == nil {
		return Credential{}, ErrMalformed
	}
	return Credential{
		KeyID:       claims.KeyID,
		Pseudo:      claims.Pseudo,
		Role:        role,
		Permissions: ParsePermissionSet(claims.Permissions),
		IssuedAt:    claims.IssuedAt.Time.UTC(),
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Validate parses token and checks the backing session key is still active.
// The returned credential keeps the permission snapshot taken at issuance.
func (t *TokenIssuer) Validate(ctx context.Context, token string) (Credential, error) {
	cred, err := t.Parse(token)
	if err != nil {
		return Credential{}, err
	}
	key, err := t.keys.FindKey(ctx, cred.KeyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Credential{}, ErrRevokedSession
		}
		return Credential{}, fmt.Errorf("lookup session key: %w", err)
	}
	if key == nil || !key.Active {
		return Credential{}, ErrRevokedSession
	}
	return cred, nil
}
