package moderation

import (
	"context"
	"time"
)

// Store persists subjects.
type Store interface {
	// LoadSubject returns ErrNotFound when the member has no record.
	LoadSubject(ctx context.Context, memberID string) (*Subject, error)
	// SaveSubject inserts a subject with Version 0 or updates the stored row whose
	// version matches, bumping Version. A mismatch yields ErrConflict.
	SaveSubject(ctx context.Context, s *Subject) error
	// FindExpiredTempBans lists members holding an active temporary ban ended at now.
	FindExpiredTempBans(ctx context.Context, now time.Time) ([]string, error)
}

// LockKey is the serialization key for a member's record.
func LockKey(memberID string) string { return "subject:" + memberID }
