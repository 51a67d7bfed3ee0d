package moderation

import (
	"time"

	"voidmod.org/internal/ids"
)

// UnknownUsername is cached until the provider reports a real name.
const UnknownUsername = "Unknown"

// Warn is a formal warning.
type Warn struct {
	ID          string    `json:"id"`
	Reason      string    `json:"reason"`
	StaffPseudo string    `json:"staffPseudo"`
	At          time.Time `json:"at"`
}

// Note is a private staff note.
type Note struct {
	ID          string    `json:"id"`
	Note        string    `json:"note"`
	StaffPseudo string    `json:"staffPseudo"`
	At          time.Time `json:"at"`
}

// Mute is a provider-side timeout.
type Mute struct {
	ID              string    `json:"id"`
	Reason          string    `json:"reason"`
	DurationMinutes int       `json:"durationMinutes"`
	StaffPseudo     string    `json:"staffPseudo"`
	StartAt         time.Time `json:"startAt"`
	EndAt           time.Time `json:"endAt"`
	Active          bool      `json:"active"`
}

// Ban is a temporary or permanent ban. Entries are never removed, only deactivated.
type Ban struct {
	ID          string     `json:"id"`
	Reason      string     `json:"reason"`
	Temporary   bool       `json:"temporary"`
	TempUntil   *time.Time `json:"tempUntil,omitempty"`
	StaffPseudo string     `json:"staffPseudo"`
	At          time.Time  `json:"at"`
	Active      bool       `json:"active"`
	RemovedAt   *time.Time `json:"removedAt,omitempty"`
	RemovedBy   string     `json:"removedBy,omitempty"`
}

// Expired reports whether b is an active temporary ban whose end has passed at now.
func (b Ban) Expired(now time.Time) bool {
	return b.Active && b.Temporary && b.TempUntil != nil && !b.TempUntil.After(now)
}

func (b *Ban) deactivate(by string, at time.Time) {
	b.Active = false
	b.RemovedAt = &at
	b.RemovedBy = by
}

// RequestStatus is the review state of a ban request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// BanRequest asks a senior staff member to ban.
type BanRequest struct {
	ID          string        `json:"id"`
	Reason      string        `json:"reason"`
	RequestedBy string        `json:"requestedBy"`
	Status      RequestStatus `json:"status"`
	ReviewedBy  string        `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time    `json:"reviewedAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Subject is the sanction history of one community member.
type Subject struct {
	MemberID    string       `json:"discordUserId"`
	Username    string       `json:"username"`
	Warns       []Warn       `json:"warns"`
	Notes       []Note       `json:"notes"`
	Mutes       []Mute       `json:"mutes"`
	Bans        []Ban        `json:"bans"`
	BanRequests []BanRequest `json:"banRequests"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastUpdated time.Time    `json:"lastUpdated"`

	// Version is the optimistic concurrency token. Zero means not yet stored.
	Version int64 `json:"-"`
}

// NewSubject returns an empty record.
func NewSubject(memberID, username string, now time.Time) *Subject {
	if username == "" {
		username = UnknownUsername
	}
	return &Subject{
		MemberID:    memberID,
		Username:    username,
		Warns:       []Warn{},
		Notes:       []Note{},
		Mutes:       []Mute{},
		Bans:        []Ban{},
		BanRequests: []BanRequest{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// ObserveUsername refreshes the cached name. Empty names are ignored.
func (s *Subject) ObserveUsername(name string) bool {
	if name == "" || name == s.Username {
		return false
	}
	s.Username = name
	return true
}

func (s *Subject) addWarn(reason, staff string, at time.Time) Warn {
	w := Warn{ID: ids.NewAt(at), Reason: reason, StaffPseudo: staff, At: at}
	s.Warns = append(s.Warns, w)
	return w
}

func (s *Subject) addNote(note, staff string, at time.Time) Note {
	n := Note{ID: ids.NewAt(at), Note: note, StaffPseudo: staff, At: at}
	s.Notes = append(s.Notes, n)
	return n
}

func (s *Subject) addMute(reason string, minutes int, staff string, at time.Time) Mute {
	m := Mute{
		ID:              ids.NewAt(at),
		Reason:          reason,
		DurationMinutes: minutes,
		StaffPseudo:     staff,
		StartAt:         at,
		EndAt:           at.Add(time.Duration(minutes) * time.Minute),
		Active:          true,
	}
	s.Mutes = append(s.Mutes, m)
	return m
}

func (s *Subject) addBan(reason, staff string, until *time.Time, at time.Time) Ban {
	b := Ban{
		ID:          ids.NewAt(at),
		Reason:      reason,
		Temporary:   until != nil,
		TempUntil:   until,
		StaffPseudo: staff,
		At:          at,
		Active:      true,
	}
	s.Bans = append(s.Bans, b)
	return b
}

func (s *Subject) addBanRequest(reason, staff string, at time.Time) BanRequest {
	r := BanRequest{
		ID:          ids.NewAt(at),
		Reason:      reason,
		RequestedBy: staff,
		Status:      RequestPending,
		CreatedAt:   at,
	}
	s.BanRequests = append(s.BanRequests, r)
	return r
}

// LiftLatestBan deactivates the most recent active ban, scanning from the end. It
// reports false when no ban is active.
func (s *Subject) LiftLatestBan(by string, at time.Time) (Ban, bool) {
	for i := len(s.Bans) - 1; i >= 0; i-- {
		if s.Bans[i].Active {
			s.Bans[i].deactivate(by, at)
			return s.Bans[i], true
		}
	}
	return Ban{}, false
}

// HasExpiredTempBans reports whether any temporary ban is active past its end at now.
func (s *Subject) HasExpiredTempBans(now time.Time) bool {
	for _, b := range s.Bans {
		if b.Expired(now) {
			return true
		}
	}
	return false
}

// ExpireTempBans deactivates every temporary ban expired at now and returns how many
// entries changed.
func (s *Subject) ExpireTempBans(now time.Time, by string) int {
	n := 0
	for i := range s.Bans {
		if s.Bans[i].Expired(now) {
			s.Bans[i].deactivate(by, now)
			n++
		}
	}
	return n
}

// ActiveBanCount returns the number of active bans.
func (s *Subject) ActiveBanCount() int {
	n := 0
	for _, b := range s.Bans {
		if b.Active {
			n++
		}
	}
	return n
}

func (s *Subject) banRequest(id string) *BanRequest {
	for i := range s.BanRequests {
		if s.BanRequests[i].ID == id {
			return &s.BanRequests[i]
		}
	}
	return nil
}
