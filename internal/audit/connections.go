package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"voidmod.org/internal/ids"
)

// Connection is one successful staff login.
type Connection struct {
	ID           string    `json:"id"`
	SessionKeyID string    `json:"sessionKeyId"`
	Pseudo       string    `json:"pseudo"`
	Role         string    `json:"role"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// ConnectionStore persists the connection log.
type ConnectionStore interface {
	InsertConnection(ctx context.Context, c *Connection) error
	ListConnections(ctx context.Context, limit int) ([]Connection, error)
}

// ConnectionLog records staff logins.
type ConnectionLog struct {
	store ConnectionStore
}

// NewConnectionLog wraps store.
func NewConnectionLog(store ConnectionStore) *ConnectionLog {
	return &ConnectionLog{store: store}
}

// Append stores a login. Missing origin fields are recorded as UnknownIP.
func (l *ConnectionLog) Append(ctx context.Context, c Connection) (Connection, error) {
	if strings.TrimSpace(c.IPAddress) == "" {
		c.IPAddress = UnknownIP
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = UnknownIP
	}
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = time.Now()
	}
	c.ConnectedAt = c.ConnectedAt.UTC()
	if c.ID == "" {
		c.ID = ids.NewAt(c.ConnectedAt)
	}
	if err := l.store.InsertConnection(ctx, &c); err != nil {
		return Connection{}, fmt.Errorf("persist connection: %w", err)
	}
	return c, nil
}

// Recent returns the newest logins first.
func (l *ConnectionLog) Recent(ctx context.Context, limit int) ([]Connection, error) {
	return l.store.ListConnections(ctx, limit)
}
