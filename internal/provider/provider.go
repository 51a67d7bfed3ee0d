// Package provider defines the member-management capability the console acts on and
// its Discord implementation.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is a transient failure: the provider is down, throttling, or not configured.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrNotFound means the provider does not know the member.
	ErrNotFound = errors.New("provider: member not found")
)

// Role is a community role held by a member.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member is the compact profile of a community member.
type Member struct {
	ID          string `json:"id"`
	Username    string `json:"pseudo"`
	DisplayName string `json:"displayName"`
	Roles       []Role `json:"roles"`
}

// Members is the capability set the console needs. Every call may fail with
// ErrUnavailable or ErrNotFound.
type Members interface {
	FetchMember(ctx context.Context, id string) (Member, error)
	SearchMembers(ctx context.Context, query string) ([]Member, error)
	TimeoutMember(ctx context.Context, id string, minutes int, reason string) (Member, error)
	KickMember(ctx context.Context, id, reason string) error
	BanMember(ctx context.Context, id, reason string) error
	UnbanMember(ctx context.Context, id, reason string) error
}

// Disabled is used when no provider is configured. Every call reports ErrUnavailable.
type Disabled struct{}

func (Disabled) FetchMember(context.Context, string) (Member, error) { return Member{}, ErrUnavailable }
func (Disabled) SearchMembers(context.Context, string) ([]Member, error) {
	return nil, ErrUnavailable
}
func (Disabled) TimeoutMember(context.Context, string, int, string) (Member, error) {
	return Member{}, ErrUnavailable
}
func (Disabled) KickMember(context.Context, string, string) error  { return ErrUnavailable }
func (Disabled) BanMember(context.Context, string, string) error   { return ErrUnavailable }
func (Disabled) UnbanMember(context.Context, string, string) error { return ErrUnavailable }
