package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event names delivered to dashboard viewers.
const (
	EventActivity          = "activity:new"
	EventStaffOnline       = "staff:online"
	EventFounderStaffLogin = "founder:staff-login"
	EventFounderBanRequest = "founder:ban-request"
	EventFounderBanNotice  = "founder:ban-notification"

	founderPrefix = "founder:"
)

// Event is a named payload. Names carrying the founder: prefix are only delivered to
// Founder viewers.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes payload under name.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// FounderOnly reports whether the event belongs to the privileged stream.
func (e Event) FounderOnly() bool {
	return strings.HasPrefix(e.Name, founderPrefix)
}

// Publisher accepts events for delivery. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// StaffOnline is the presence payload.
type StaffOnline struct {
	Online int `json:"online"`
}

// StaffLogin is sent to founders when a staff member logs in.
type StaffLogin struct {
	Pseudo      string    `json:"pseudo"`
	Role        string    `json:"role"`
	IPAddress   string    `json:"ipAddress"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// BanRequest is sent to founders when a ban is requested for review.
type BanRequest struct {
	RequestID   string    `json:"requestId"`
	MemberID    string    `json:"discordUserId"`
	Username    string    `json:"username"`
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requestedBy"`
	RequestedAt time.Time `json:"requestedAt"`
}

// BanNotice is sent to founders when a temporary or permanent ban is applied.
type BanNotice struct {
	MemberID      string     `json:"discordUserId"`
	Username      string     `json:"username"`
	Reason        string     `json:"reason"`
	Temporary     bool       `json:"temporary"`
	DurationHours int        `json:"durationHours,omitempty"`
	TempUntil     *time.Time `json:"tempUntil,omitempty"`
	By            string     `json:"by"`
}
