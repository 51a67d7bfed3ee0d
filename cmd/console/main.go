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

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
	"voidmod.org/internal/config"
	"voidmod.org/internal/dashboard"
	"voidmod.org/internal/httpapi"
	"voidmod.org/internal/jobs"
	"voidmod.org/internal/lock"
	"voidmod.org/internal/migrate"
	"voidmod.org/internal/moderation"
	"voidmod.org/internal/obs"
	"voidmod.org/internal/provider"
	"voidmod.org/internal/staff"
	"voidmod.org/internal/store/pg"
	"voidmod.org/internal/stream"
	"voidmod.org/internal/tickets"
	"voidmod.org/migrations"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const service = "voidmod-console"

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("console exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}
	logger := obs.Configure(os.Stdout, cfg.LogFormat)
	obs.Init()
	obs.InitBuildInfo(service, version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.MigrateOnStart {
		applied, err := migrate.NewManager(store.DB(), migrations.FS).Up(ctx)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", slog.Any("files", applied))
		}
	}

	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, store)
	if err != nil {
		return err
	}
	codec := auth.NewKeyCodec()
	hub := stream.NewHub(tokens)

	// Redis is optional: without it locks stay in process and worker events are not relayed.
	var (
		locker lock.Locker = lock.NewLocal()
		relay  *stream.RedisRelay
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
		locker = lock.NewRedis(client)
		relay = stream.NewRedisRelay(client, "")
	}

	var members provider.Members = provider.Disabled{}
	if cfg.DiscordConfigured() {
		members = provider.NewDiscord(provider.DiscordConfig{
			BotToken: cfg.DiscordBotToken,
			GuildID:  cfg.DiscordGuildID,
			APIBase:  cfg.DiscordAPIBase,
		})
	} else {
		logger.Warn("discord not configured, member actions are unavailable")
	}

	workbook, err := audit.NewWorkbook(cfg.ConnectionWorkbook, cfg.WorkbookTimezone)
	if err != nil {
		return err
	}
	journal := audit.NewJournal(store, hub)
	connLog := audit.NewConnectionLog(store)
	recorder := staff.NewLoginRecorder(connLog, workbook, journal, hub)
	ticketSvc := tickets.NewService(store, journal)

	api := httpapi.New(httpapi.Deps{
		Sessions:   auth.NewSessions(store, codec, tokens, auth.WithLoginObserver(recorder)),
		Tokens:     tokens,
		Keys:       staff.NewKeyAdmin(store, codec, journal),
		Journal:    journal,
		Moderation: moderation.NewService(store, members, journal, hub, moderation.WithLocker(locker)),
		Tickets:    ticketSvc,
		Dashboard:  dashboard.NewService(store, hub, ticketSvc, journal, connLog),
		Hub:        hub,
		OAuth:      provider.OAuthConfig{ClientID: cfg.DiscordClientID, RedirectURI: cfg.DiscordRedirectURI},
		Ready:      httpapi.ReadyProbe{DB: store.DB()},
		Bootstrap:  httpapi.Bootstrap{Pseudo: cfg.FounderBootstrapPseudo, Secret: cfg.FounderBootstrapKey},
	},
		httpapi.WithVersion(version),
		httpapi.WithProduction(cfg.IsProduction()),
		httpapi.WithCORSOrigins(cfg.CORSOrigins()...),
		httpapi.WithRateLimits(cfg.RateLimitGlobal, cfg.RateLimitLogin),
		httpapi.WithTrustedProxies(trusted...),
	)

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		logger.Info("starting console", slog.String("version", version), slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if relay != nil {
		g.Go(func() error { return relay.Forward(gctx, hub) })
	}
	if cfg.ReconcilerEnabled {
		reconciler := jobs.NewReconciler(store, members, journal,
			jobs.WithReconcilerLocker(locker),
			jobs.WithMetrics(jobs.NewMetrics(nil)),
		)
		g.Go(func() error { return reconciler.Schedule(gctx, cfg.ReconcilerInterval) })
	}

	err = g.Wait()
	logger.Info("stopped")
	return err
}
