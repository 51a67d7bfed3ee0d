package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
	"voidmod.org/internal/lock"
	"voidmod.org/internal/obs"
	"voidmod.org/internal/provider"
	"voidmod.org/internal/stream"
)

// Action types journaled by moderation operations.
const (
	ActionWarn              = "DISCORD_WARN"
	ActionNote              = "DISCORD_NOTE"
	ActionTempMute          = "DISCORD_TEMP_MUTE"
	ActionKick              = "DISCORD_KICK"
	ActionBanRequest        = "DISCORD_BAN_REQUEST"
	ActionTempBan           = "DISCORD_TEMP_BAN"
	ActionPermBan           = "DISCORD_PERM_BAN"
	ActionUnban             = "DISCORD_UNBAN"
	ActionBanRequestReview  = "DISCORD_BAN_REQUEST_REVIEWED"
	ActionTempBanAutoExpire = "TEMP_BAN_AUTO_EXPIRE"

	// TargetMember is the journal target type for community members.
	TargetMember = "discord_user"

	// DefaultUnbanReason is used when staff lift a ban without a reason.
	DefaultUnbanReason = "Ban retiré par le staff"

	saveAttempts = 3
)

// Journal records staff actions.
type Journal interface {
	Record(ctx context.Context, actor audit.Actor, action audit.Action) (audit.Entry, error)
}

// Service performs moderation operations against one community.
type Service struct {
	store   Store
	members provider.Members
	journal Journal
	pub     stream.Publisher
	locker  lock.Locker
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithClock injects the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocker overrides the per-subject lock. The default is in-process.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// NewService wires the moderation service. pub receives founder notifications and may be nil.
func NewService(store Store, members provider.Members, journal Journal, pub stream.Publisher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		members: members,
		journal: journal,
		pub:     pub,
		locker:  lock.NewLocal(),
		now:     time.Now,
		logger:  obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MemberView pairs the provider profile with the local record.
type MemberView struct {
	Profile provider.Member `json:"profile"`
	Record  *Subject        `json:"record"`
}

// Mutate runs fn on the member's record under the per-subject lock and persists the
// result. A missing record is created. username refreshes the cached name when set.
// Optimistic conflicts are retried.
func (s *Service) Mutate(ctx context.Context, memberID, username string, fn func(sub *Subject, now time.Time) error) (*Subject, error) {
	return Mutate(ctx, s.store, s.locker, s.now, memberID, username, fn)
}

// Mutate is the lock, load, modify and save cycle shared by every writer of subjects.
func Mutate(ctx context.Context, store Store, locker lock.Locker, clock func() time.Time, memberID, username string, fn func(sub *Subject, now time.Time) error) (*Subject, error) {
	unlock, err := locker.Lock(ctx, LockKey(memberID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		now := clock().UTC()
		sub, err := store.LoadSubject(ctx, memberID)
		switch {
		case errors.Is(err, ErrNotFound):
			sub = NewSubject(memberID, username, now)
		case err != nil:
			return nil, fmt.Errorf("load subject %s: %w", memberID, err)
		default:
			sub.ObserveUsername(username)
		}
		if fn != nil {
			if err := fn(sub, now); err != nil {
				return nil, err
			}
		}
		sub.LastUpdated = now
		err = store.SaveSubject(ctx, sub)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrConflict) || attempt == saveAttempts {
			return nil, fmt.Errorf("save subject %s: %w", memberID, err)
		}
	}
}

func (s *Service) record(ctx context.Context, cred auth.Credential, actionType, memberID string, details map[string]any) error {
	_, err := s.journal.Record(ctx, audit.ActorFromCredential(cred), audit.Action{
		Type:       actionType,
		TargetType: TargetMember,
		TargetID:   memberID,
		Details:    details,
	})
	return err
}

func (s *Service) notify(ctx context.Context, name string, payload any) {
	if s.pub == nil {
		return
	}
	ev, err := stream.NewEvent(name, payload)
	if err == nil {
		err = s.pub.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn("founder notification failed", slog.String("event", name), slog.Any("error", err))
	}
}

func requireMember(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("memberId", "member id is required")
	}
	return nil
}

func requireReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", invalid("reason", "reason is required")
	}
	return reason, nil
}

// Search lists provider members matching query.
func (s *Service) Search(ctx context.Context, cred auth.Credential, query string) ([]provider.Member, error) {
	if err := auth.Require(cred, auth.PermViewMembers); err != nil {
		return nil, err
	}
	return s.members.SearchMembers(ctx, strings.TrimSpace(query))
}

// Member fetches the provider profile and the local record, creating it if needed.
func (s *Service) Member(ctx context.Context, cred auth.Credential, memberID string) (MemberView, error) {
	if err := auth.Require(cred, auth.PermViewMembers); err != nil {
		return MemberView{}, err
	}
	if err := requireMember(memberID); err != nil {
		return MemberView{}, err
	}
	profile, err := s.members.FetchMember(ctx, memberID)
	if err != nil {
		return MemberView{}, err
	}
	sub, err := s.Mutate(ctx, memberID, profile.Username, nil)
	if err != nil {
		return MemberView{}, err
	}
	return MemberView{Profile: profile, Record: sub}, nil
}

// History returns the local record. A member with no record yields an empty one.
func (s *Service) History(ctx context.Context, cred auth.Credential, memberID string) (*Subject, error) {
	if err := auth.Require(cred, auth.PermViewMembers); err != nil {
		return nil, err
	}
	if err := requireMember(memberID); err != nil {
		return nil, err
	}
	sub, err := s.store.LoadSubject(ctx, memberID)
	if errors.Is(err, ErrNotFound) {
		return NewSubject(memberID, "", s.now().UTC()), nil
	}
	return sub, err
}

// Warn appends a warning and returns the member's warning count.
func (s *Service) Warn(ctx context.Context, cred auth.Credential, memberID, reason string) (int, error) {
	if err := auth.Require(cred, auth.PermWarnMember); err != nil {
		return 0, err
	}
	if err := requireMember(memberID); err != nil {
		return 0, err
	}
	reason, err := requireReason(reason)
	if err != nil {
		return 0, err
	}
	profile, err := s.members.FetchMember(ctx, memberID)
	if err != nil {
		return 0, err
	}
	sub, err := s.Mutate(ctx, memberID, profile.Username, func(sub *Subject, now time.Time) error {
		sub.addWarn(reason, cred.Pseudo, now)
		return nil
	})
	if err != nil {
		return 0, err
	}
	count := len(sub.Warns)
	err = s.record(ctx, cred, ActionWarn, memberID, map[string]any{
		"reason": reason, "username": profile.Username, "warnCount": count,
	})
	return count, err
}

// AddNote appends a staff note.
func (s *Service) AddNote(ctx context.Context, cred auth.Credential, memberID, note string) error {
	if err := auth.Require(cred, auth.PermAddNote); err != nil {
		return err
	}
	if err := requireMember(memberID); err != nil {
		return err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return invalid("note", "note is required")
	}
	profile, err := s.members.FetchMember(ctx, memberID)
	if err != nil {
		return err
	}
	if _, err := s.Mutate(ctx, memberID, profile.Username, func(sub *Subject, now time.Time) error {
		sub.addNote(note, cred.Pseudo, now)
		return nil
	}); err != nil {
		return err
	}
	return s.record(ctx, cred, ActionNote, memberID, map[string]any{"note": note, "username": profile.Username})
}

// TempMute times the member out and returns when the mute ends.
func (s *Service) TempMute(ctx context.Context, cred auth.Credential, memberID string, minutes int, reason string) (time.Time, error) {
	if err := auth.Require(cred, auth.PermTempMute); err != nil {
		return time.Time{}, err
	}
	if err := requireMember(memberID); err != nil {
		return time.Time{}, err
	}
	if minutes < 1 {
		return time.Time{}, invalid("durationMinutes", "duration must be at least one minute")
	}
	reason, err := requireReason(reason)
	if err != nil {
		return time.Time{}, err
	}
	profile, err := s.members.TimeoutMember(ctx, memberID, minutes, reason)
	if err != nil {
		return time.Time{}, err
	}
	var mute Mute
	if _, err := s.Mutate(ctx, memberID, profile.Username, func(sub *Subject, now time.Time) error {
		mute = sub.addMute(reason, minutes, cred.Pseudo, now)
		return nil
	}); err != nil {
		return time.Time{}, err
	}
	err = s.record(ctx, cred, ActionTempMute, memberID, map[string]any{
		"reason": reason, "durationMinutes": minutes, "username": profile.Username,
	})
	return mute.EndAt, err
}

// Kick removes the member from the community.
func (s *Service) Kick(ctx context.Context, cred auth.Credential, memberID, reason string) error {
	if err := auth.Require(cred, auth.PermKickMember); err != nil {
		return err
	}
	if err := requireMember(memberID); err != nil {
		return err
	}
	reason, err := requireReason(reason)
	if err != nil {
		return err
	}
	profile, err := s.members.FetchMember(ctx, memberID)
	if err != nil {
		return err
	}
	if err := s.members.KickMember(ctx, memberID, reason); err != nil {
		return err
	}
	return s.record(ctx, cred, ActionKick, memberID, map[string]any{"reason": reason, "username": profile.Username})
}

// RequestBan files a pending ban request and notifies founders.
func (s *Service) RequestBan(ctx context.Context, cred auth.Credential, memberID, reason string) (BanRequest, error) {
	if err := auth.Require(cred, auth.PermRequestBan); err != nil {
		return BanRequest{}, err
	}
	if err := requireMember(memberID); err != nil {
		return BanRequest{}, err
	}
	reason, err := requireReason(reason)
	if err != nil {
		return BanRequest{}, err
	}
	profile, err := s.members.FetchMember(ctx, memberID)
	if err != nil {
		return BanRequest{}, err
	}
	var req BanRequest
	if _, err := s.Mutate(ctx, memberID, profile.Username, func(sub *Subject, now time.Time) error {
		req = sub.addBanRequest(reason, cred.Pseudo, now)
		return nil
	}); err != nil {
		return BanRequest{}, err
	}
	if err := s.record(ctx, cred, ActionBanRequest, memberID, map[string]any{
		"reason": reason, "username": profile.Username, "requestId": req.ID,
	}); err != nil {
		return BanRequest{}, err
	}
	s.notify(ctx, stream.EventFounderBanRequest, stream.BanRequest{
		RequestID:   req.ID,
		MemberID:    memberID,
		Username:    profile.Username,
		Reason:      reason,
		RequestedBy: cred.Pseudo,
		RequestedAt: req.CreatedAt,
	})
	return req, nil
}

// TempBan bans the member for hours and returns when the ban ends.
func (s *Service) TempBan(ctx context.Context, cred auth.Credential, memberID string, hours int, reason string) (time.Time, error) {
	if err := auth.Require(cred, auth.PermTempBan); err != nil {
		return time.Time{}, err
	}
	if err := requireMember(memberID); err != nil {
		return time.Time{}, err
	}
	reason, err := requireReason(reason)
	if err != nil {
		return time.Time{}, err
	}
	if hours < 1 {
		return time.Time{}, invalid("durationHours", "duration must be at least one hour")
	}
	profile, err := s.members.FetchMember(ctx, memberID)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.members.BanMember(ctx, memberID, reason); err != nil {
		return time.Time{}, err
	}
	var ban Ban
	if _, err := s.Mutate(ctx, memberID, profile.Username, func(sub *Subject, now time.Time) error {
		until := now.Add(time.Duration(hours) * time.Hour)
		ban = sub.addBan(reason, cred.Pseudo, &until, now)
		return nil
	}); err != nil {
		return time.Time{}, err
	}
	if err := s.record(ctx, cred, ActionTempBan, memberID, map[string]any{
		"reason": reason, "durationHours": hours, "username": profile.Username,
	}); err != nil {
		return time.Time{}, err
	}
	s.notify(ctx, stream.EventFounderBanNotice, stream.BanNotice{
		MemberID:      memberID,
		Username:      profile.Username,
		Reason:        reason,
		Temporary:     true,
		DurationHours: hours,
		TempUntil:     ban.TempUntil,
		By:            cred.Pseudo,
	})
	return *ban.TempUntil, nil
}

// PermBan bans the member without expiry.
func (s *Service) PermBan(ctx context.Context, cred auth.Credential, memberID, reason string) error {
	if err := auth.Require(cred, auth.PermPermBan); err != nil {
		return err
	}
	if err := requireMember(memberID); err != nil {
		return err
	}
	reason, err := requireReason(reason)
	if err != nil {
		return err
	}
	profile, err := s.members.FetchMember(ctx, memberID)
	if err != nil {
		return err
	}
	if err := s.members.BanMember(ctx, memberID, reason); err != nil {
		return err
	}
	if _, err := s.Mutate(ctx, memberID, profile.Username, func(sub *Subject, now time.Time) error {
		sub.addBan(reason, cred.Pseudo, nil, now)
		return nil
	}); err != nil {
		return err
	}
	if err := s.record(ctx, cred, ActionPermBan, memberID, map[string]any{
		"reason": reason, "username": profile.Username,
	}); err != nil {
		return err
	}
	s.notify(ctx, stream.EventFounderBanNotice, stream.BanNotice{
		MemberID: memberID,
		Username: profile.Username,
		Reason:   reason,
		By:       cred.Pseudo,
	})
	return nil
}

// Unban lifts the provider ban, then deactivates the most recent active ban entry.
func (s *Service) Unban(ctx context.Context, cred auth.Credential, memberID, reason string) error {
	if err := auth.Require(cred, auth.PermRemoveBan); err != nil {
		return err
	}
	if err := requireMember(memberID); err != nil {
		return err
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = DefaultUnbanReason
	}
	if err := s.members.UnbanMember(ctx, memberID, reason); err != nil {
		return err
	}
	var lifted Ban
	if _, err := s.Mutate(ctx, memberID, "", func(sub *Subject, now time.Time) error {
		lifted, _ = sub.LiftLatestBan(cred.Pseudo, now)
		return nil
	}); err != nil {
		return err
	}
	details := map[string]any{"reason": reason}
	if lifted.ID != "" {
		details["banId"] = lifted.ID
	}
	return s.record(ctx, cred, ActionUnban, memberID, details)
}

// ReviewBanRequest approves or rejects a pending request.
func (s *Service) ReviewBanRequest(ctx context.Context, cred auth.Credential, memberID, requestID string, approve bool) (BanRequest, error) {
	if err := auth.Require(cred, auth.PermPermBan); err != nil {
		return BanRequest{}, err
	}
	if err := requireMember(memberID); err != nil {
		return BanRequest{}, err
	}
	if strings.TrimSpace(requestID) == "" {
		return BanRequest{}, invalid("requestId", "request id is required")
	}
	status := RequestRejected
	if approve {
		status = RequestApproved
	}
	var reviewed BanRequest
	_, err := s.Mutate(ctx, memberID, "", func(sub *Subject, now time.Time) error {
		req := sub.banRequest(requestID)
		if req == nil {
			return fmt.Errorf("%w: ban request %s", ErrNotFound, requestID)
		}
		if req.Status != RequestPending {
			return fmt.Errorf("%w: ban request %s is already %s", ErrConflict, requestID, req.Status)
		}
		req.Status = status
		req.ReviewedBy = cred.Pseudo
		req.ReviewedAt = &now
		reviewed = *req
		return nil
	})
	if err != nil {
		return BanRequest{}, err
	}
	err = s.record(ctx, cred, ActionBanRequestReview, memberID, map[string]any{
		"requestId": requestID, "status": string(status), "reason": reviewed.Reason,
	})
	return reviewed, err
}
