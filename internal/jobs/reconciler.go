// Package jobs runs the console's background work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/lock"
	"voidmod.org/internal/moderation"
	"voidmod.org/internal/obs"
	"voidmod.org/internal/provider"
)

const (
	// JobTempBanExpiry names the reconciler in metrics and logs.
	JobTempBanExpiry = "temp_ban_expiry"

	// AutoExpireReason is sent to the provider when lifting an expired ban.
	AutoExpireReason = "Fin automatique du ban temporaire"
	// AutoExpireBy stamps RemovedBy on bans lifted by the reconciler.
	AutoExpireBy = "system:auto"
)

// ErrRunInProgress is returned when a run is requested while another is in flight.
var ErrRunInProgress = errors.New("jobs: run already in progress")

var errNothingExpired = errors.New("no expired temporary ban")

// Result summarizes one reconciler run.
type Result struct {
	Candidates int
	Expired    int
	Skipped    int
}

// Reconciler lifts temporary bans whose end has passed. A subject is only changed
// after the provider accepted the unban, so a failed call leaves it for the next run.
type Reconciler struct {
	store   moderation.Store
	members provider.Members
	journal moderation.Journal
	locker  lock.Locker
	metrics *Metrics
	now     func() time.Time
	logger  *slog.Logger

	running atomic.Bool
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerClock injects the clock.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithReconcilerLocker shares the per-subject lock with foreground writers.
func WithReconcilerLocker(l lock.Locker) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithMetrics attaches job metrics.
func WithMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithReconcilerLogger overrides the logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReconciler builds the temporary ban reconciler.
func NewReconciler(store moderation.Store, members provider.Members, journal moderation.Journal, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:   store,
		members: members,
		journal: journal,
		locker:  lock.NewLocal(),
		now:     time.Now,
		logger:  obs.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs one reconciliation pass. Overlapping calls fail with
// ErrRunInProgress. Per-subject failures are logged and counted, not returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	var res Result
	tracker := r.metrics.Track(JobTempBanExpiry)
	err := tracker.End(r.run(ctx, &res))
	r.metrics.AddExpired(res.Expired)
	r.metrics.AddSkipped(res.Skipped)
	return res, err
}

func (r *Reconciler) run(ctx context.Context, res *Result) error {
	ids, err := r.store.FindExpiredTempBans(ctx, r.now().UTC())
	if err != nil {
		return fmt.Errorf("find expired temporary bans: %w", err)
	}
	res.Candidates = len(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch n, err := r.expire(ctx, id); {
		case errors.Is(err, errNothingExpired):
		case err != nil:
			res.Skipped++
			r.logger.Warn("temporary ban expiry deferred",
				slog.String("job", JobTempBanExpiry),
				slog.String("member_id", id),
				slog.Any("error", err))
		default:
			res.Expired++
			r.logger.Info("temporary bans expired",
				slog.String("job", JobTempBanExpiry),
				slog.String("member_id", id),
				slog.Int("bans", n))
		}
	}
	return nil
}

// expire lifts the subject's expired bans. Expiry is evaluated again under the lock
// at processing time.
func (r *Reconciler) expire(ctx context.Context, memberID string) (int, error) {
	var (
		expired  int
		unbanned bool
	)
	sub, err := moderation.Mutate(ctx, r.store, r.locker, r.now, memberID, "", func(sub *moderation.Subject, now time.Time) error {
		if !sub.HasExpiredTempBans(now) {
			return errNothingExpired
		}
		// Mutate replays this closure after a save conflict; the provider is asked once.
		if !unbanned {
			if err := r.members.UnbanMember(ctx, memberID, AutoExpireReason); err != nil {
				return fmt.Errorf("unban: %w", err)
			}
			unbanned = true
		}
		expired = sub.ExpireTempBans(now, AutoExpireBy)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if _, err := r.journal.Record(ctx, audit.SystemActor, audit.Action{
		Type:       moderation.ActionTempBanAutoExpire,
		TargetType: moderation.TargetMember,
		TargetID:   memberID,
		Details:    map[string]any{"username": sub.Username, "expiredBans": expired},
	}); err != nil {
		r.logger.Error("temporary ban expiry not journaled",
			slog.String("job", JobTempBanExpiry),
			slog.String("member_id", memberID),
			slog.Any("error", err))
	}
	return expired, nil
}
