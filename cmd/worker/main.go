package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/config"
	"voidmod.org/internal/jobs"
	"voidmod.org/internal/lock"
	"voidmod.org/internal/obs"
	"voidmod.org/internal/provider"
	"voidmod.org/internal/store/pg"
	"voidmod.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const service = "voidmod-worker"

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

// run drives the temporary ban reconciler outside the console. Consoles should then
// set RECONCILER_ENABLED=false and share REDIS_ADDR so locks and events cross processes.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := obs.Configure(os.Stdout, cfg.LogFormat)
	obs.Init()
	obs.InitBuildInfo(service, version, commit)

	if !cfg.DiscordConfigured() {
		return errors.New("worker requires DISCORD_BOT_TOKEN and DISCORD_GUILD_ID")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		locker lock.Locker = lock.NewLocal()
		pub    stream.Publisher
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
		locker = lock.NewRedis(client)
		pub = stream.NewRedisRelay(client, "")
	} else {
		logger.Warn("redis not configured, reconciler locks are local to this process")
	}

	members := provider.NewDiscord(provider.DiscordConfig{
		BotToken: cfg.DiscordBotToken,
		GuildID:  cfg.DiscordGuildID,
		APIBase:  cfg.DiscordAPIBase,
	})
	reconciler := jobs.NewReconciler(store, members, audit.NewJournal(store, pub),
		jobs.WithReconcilerLocker(locker),
		jobs.WithMetrics(jobs.NewMetrics(nil)),
	)

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", obs.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reconciler.Schedule(gctx, cfg.ReconcilerInterval) })
	g.Go(func() error {
		logger.Info("starting worker metrics", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
