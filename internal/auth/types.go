package auth

import "time"

// SessionKey is an issued staff secret. Only the bcrypt hash of the secret is stored.
type SessionKey struct {
	ID          string        `json:"id"`
	Pseudo      string        `json:"pseudo"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	KeyHash     string        `json:"-"`
	Active      bool          `json:"isActive"`
	CreatedBy   string        `json:"createdBy"`
	LastUsedAt  *time.Time    `json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Credential is the payload of a bearer token. Permissions are a snapshot taken at
// issuance; later edits to the key do not change an issued credential.
type Credential struct {
	KeyID       string        `json:"keyId"`
	Pseudo      string        `json:"pseudo"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	IssuedAt    time.Time     `json:"issuedAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

// LoginMeta describes where a login came from.
type LoginMeta struct {
	IPAddress string
	UserAgent string
}
