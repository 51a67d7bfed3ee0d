package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"voidmod.org/internal/auth"
	"voidmod.org/internal/dashboard"
	"voidmod.org/internal/moderation"
	"voidmod.org/internal/obs"
	"voidmod.org/internal/provider"
	"voidmod.org/internal/staff"
	"voidmod.org/internal/stream"
	"voidmod.org/internal/tickets"
)

// ReadyProbe checks that the database answers before traffic is routed here.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Bootstrap holds the founder identity used by POST /api/auth/bootstrap-founder.
// An empty Secret makes the server generate one.
type Bootstrap struct {
	Pseudo string
	Secret string
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Sessions   *auth.Sessions
	Tokens     *auth.TokenIssuer
	Keys       *staff.KeyAdmin
	Journal    staff.Journal
	Moderation *moderation.Service
	Tickets    *tickets.Service
	Dashboard  *dashboard.Service
	Hub        *stream.Hub
	OAuth      provider.OAuthConfig
	Ready      ReadyProbe
	Bootstrap  Bootstrap
}

// API is the console HTTP layer.
type API struct {
	deps      Deps
	router    chi.Router
	validator *validator.Validate

	version     string
	production  bool
	origins     []string
	globalLimit int
	loginLimit  int

	trustedProxies []netip.Prefix
}

// Option tunes the API.
type Option func(*API)

// WithVersion is reported by /healthz.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithProduction enables the SSL redirect and HSTS.
func WithProduction(on bool) Option {
	return func(a *API) { a.production = on }
}

// WithCORSOrigins lists the browser origins allowed to call the API.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.origins = origins }
}

// WithTrustedProxies lists the peers whose X-Forwarded-For, X-Real-IP or
// True-Client-IP headers are believed. Without any, the socket address is the client.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithRateLimits sets the per-IP request budgets of the global and login windows.
func WithRateLimits(global, login int) Option {
	return func(a *API) {
		if global > 0 {
			a.globalLimit = global
		}
		if login > 0 {
			a.loginLimit = login
		}
	}
}

func New(deps Deps, opts ...Option) *API {
	a := &API{
		deps:        deps,
		validator:   validator.New(),
		version:     "dev",
		globalLimit: defaultGlobalLimit,
		loginLimit:  defaultLoginLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a
}

// Handler returns the root handler.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	a.middlewareStack(r)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())
	r.Get("/ws", a.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", a.handleEvents)

		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.With(a.loginLimiter()).Post("/login", a.handleLogin)
			r.Post("/bootstrap-founder", a.handleBootstrap)
			r.Group(func(r chi.Router) {
				r.Use(a.withAuth)
				r.Post("/logout", a.handleLogout)
				r.Get("/me", a.handleMe)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout), a.withAuth)

			r.Route("/keys", func(r chi.Router) {
				r.Get("/", a.handleListKeys)
				r.Post("/", a.handleCreateKey)
				r.Patch("/{id}/active", a.handleSetKeyActive)
				r.Patch("/{id}/permissions", a.handleSetKeyPermissions)
			})

			r.Route("/discord", func(r chi.Router) {
				r.Get("/oauth/login-url", a.handleOAuthLoginURL)
				r.Get("/oauth/callback", a.handleOAuthCallback)
				r.Get("/members", a.handleSearchMembers)
				r.Route("/member/{id}", func(r chi.Router) {
					r.Get("/", a.handleMember)
					r.Get("/history", a.handleMemberHistory)
					r.Post("/warn", a.handleWarn)
					r.Post("/note", a.handleNote)
					r.Post("/mute-temp", a.handleTempMute)
					r.Post("/kick", a.handleKick)
					r.Post("/ban-request", a.handleBanRequest)
					r.Post("/ban-temp", a.handleTempBan)
					r.Post("/ban", a.handlePermBan)
					r.Delete("/ban", a.handleUnban)
					r.Post("/ban-requests/{requestId}/review", a.handleReviewBanRequest)
				})
			})

			r.Route("/tickets", func(r chi.Router) {
				r.Get("/", a.handleListTickets)
				r.Post("/", a.handleCreateTicket)
				r.Patch("/{id}/status", a.handleTicketStatus)
				r.Patch("/{id}/assign", a.handleTicketAssign)
				r.Post("/{id}/messages", a.handleTicketMessage)
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/stats", a.handleStats)
				r.Get("/recent-activity", a.handleRecentActivity)
				r.Get("/recent-connections", a.handleRecentConnections)
			})

			r.Route("/logs", func(r chi.Router) {
				r.Get("/actions", a.handleActionLogs)
				r.Get("/actions/export.csv", a.handleExportActions)
				r.Get("/connections", a.handleConnectionLogs)
				r.Get("/connections/export.csv", a.handleExportConnections)
			})

			r.Get("/users/me/profile", a.handleProfile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "voidmod-console",
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
