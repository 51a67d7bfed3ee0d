package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is the reconciler period.
const DefaultInterval = time.Minute

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Schedule runs the reconciler every interval until ctx ends. A run still in flight
// when the next tick fires makes that tick a no-op.
func (r *Reconciler) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cronLogger{logger: r.logger.With(slog.String("job", JobTempBanExpiry))}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)), cron.WithLogger(logger))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		res, err := r.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrRunInProgress), errors.Is(err, context.Canceled):
		case err != nil:
			logger.logger.Error("reconciler run failed", slog.Any("error", err))
		case res.Candidates > 0:
			logger.logger.Info("reconciler run complete",
				slog.Int("candidates", res.Candidates),
				slog.Int("expired", res.Expired),
				slog.Int("skipped", res.Skipped))
		}
	}); err != nil {
		return fmt.Errorf("schedule reconciler: %w", err)
	}

	r.logger.Info("reconciler started", slog.String("job", JobTempBanExpiry), slog.Duration("interval", interval))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reconciler stopped", slog.String("job", JobTempBanExpiry))
	return nil
}
