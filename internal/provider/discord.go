package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/time/rate"

	"voidmod.org/internal/obs"
)

const (
	// DefaultAPIBase is the Discord REST v10 endpoint.
	DefaultAPIBase = "https://discord.com/api/v10"

	memberPageSize   = 1000
	maxSearchResults = 100
	everyoneRole     = "@everyone"
	auditReasonLimit = 512
)

// DiscordConfig configures the REST client.
type DiscordConfig struct {
	BotToken string
	GuildID  string
	APIBase  string
	Timeout  time.Duration
	// RequestsPerSecond throttles outbound calls. Zero uses 5.
	RequestsPerSecond float64
}

// Discord implements Members over the Discord REST API.
type Discord struct {
	cfg     DiscordConfig
	http    *http.Client
	limiter *rate.Limiter
	fold    cases.Caser
}

// DiscordOption configures the client.
type DiscordOption func(*Discord)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(c *http.Client) DiscordOption {
	return func(d *Discord) {
		if c != nil {
			d.http = c
		}
	}
}

// NewDiscord builds a client. A missing token or guild yields a client whose calls
// all fail with ErrUnavailable.
func NewDiscord(cfg DiscordConfig, opts ...DiscordOption) *Discord {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	d := &Discord{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		fold:    cases.Fold(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Configured reports whether the bot token and guild are set.
func (d *Discord) Configured() bool {
	return d.cfg.BotToken != "" && d.cfg.GuildID != ""
}

type apiUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

type apiMember struct {
	User  apiUser  `json:"user"`
	Nick  string   `json:"nick"`
	Roles []string `json:"roles"`
}

type apiRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (m apiMember) displayName() string {
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User.GlobalName != "":
		return m.User.GlobalName
	default:
		return m.User.Username
	}
}

func (d *Discord) compact(m apiMember, roles map[string]string) Member {
	out := Member{
		ID:          m.User.ID,
		Username:    m.User.Username,
		DisplayName: m.displayName(),
		Roles:       []Role{},
	}
	if out.Username == "" {
		out.Username = out.DisplayName
	}
	for _, id := range m.Roles {
		name, ok := roles[id]
		if !ok || name == everyoneRole {
			continue
		}
		out.Roles = append(out.Roles, Role{ID: id, Name: name})
	}
	return out
}

func (d *Discord) guildPath(parts ...string) string {
	elems := append([]string{"guilds", url.PathEscape(d.cfg.GuildID)}, parts...)
	return "/" + strings.Join(elems, "/")
}

func (d *Discord) roleNames(ctx context.Context) (map[string]string, error) {
	var roles []apiRole
	if err := d.do(ctx, "roles", http.MethodGet, d.guildPath("roles"), "", nil, &roles); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(roles))
	for _, r := range roles {
		out[r.ID] = r.Name
	}
	return out, nil
}

// FetchMember returns the member profile with resolved role names.
func (d *Discord) FetchMember(ctx context.Context, id string) (Member, error) {
	var m apiMember
	if err := d.do(ctx, "fetch", http.MethodGet, d.guildPath("members", url.PathEscape(id)), "", nil, &m); err != nil {
		return Member{}, err
	}
	roles, err := d.roleNames(ctx)
	if err != nil {
		return Member{}, err
	}
	return d.compact(m, roles), nil
}

// SearchMembers matches query against username and display name ignoring case, or an
// exact id. An empty query lists members. At most 100 results are returned.
func (d *Discord) SearchMembers(ctx context.Context, query string) ([]Member, error) {
	var page []apiMember
	path := d.guildPath("members") + fmt.Sprintf("?limit=%d", memberPageSize)
	if err := d.do(ctx, "search", http.MethodGet, path, "", nil, &page); err != nil {
		return nil, err
	}
	roles, err := d.roleNames(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	needle := d.fold.String(query)
	out := make([]Member, 0, min(len(page), maxSearchResults))
	for _, m := range page {
		if len(out) == maxSearchResults {
			break
		}
		if query != "" &&
			m.User.ID != query &&
			!strings.Contains(d.fold.String(m.User.Username), needle) &&
			!strings.Contains(d.fold.String(m.displayName()), needle) {
			continue
		}
		out = append(out, d.compact(m, roles))
	}
	return out, nil
}

// TimeoutMember mutes the member for minutes.
func (d *Discord) TimeoutMember(ctx context.Context, id string, minutes int, reason string) (Member, error) {
	if minutes < 1 {
		return Member{}, fmt.Errorf("timeout duration must be positive, got %d", minutes)
	}
	until := time.Now().UTC().Add(time.Duration(minutes) * time.Minute)
	body := map[string]any{"communication_disabled_until": until.Format(time.RFC3339)}
	var m apiMember
	if err := d.do(ctx, "timeout", http.MethodPatch, d.guildPath("members", url.PathEscape(id)), reason, body, &m); err != nil {
		return Member{}, err
	}
	roles, err := d.roleNames(ctx)
	if err != nil {
		return Member{}, err
	}
	return d.compact(m, roles), nil
}

// KickMember removes the member from the guild.
func (d *Discord) KickMember(ctx context.Context, id, reason string) error {
	return d.do(ctx, "kick", http.MethodDelete, d.guildPath("members", url.PathEscape(id)), reason, nil, nil)
}

// BanMember bans the member without deleting messages.
func (d *Discord) BanMember(ctx context.Context, id, reason string) error {
	body := map[string]any{"delete_message_seconds": 0}
	return d.do(ctx, "ban", http.MethodPut, d.guildPath("bans", url.PathEscape(id)), reason, body, nil)
}

// UnbanMember lifts a guild ban.
func (d *Discord) UnbanMember(ctx context.Context, id, reason string) error {
	return d.do(ctx, "unban", http.MethodDelete, d.guildPath("bans", url.PathEscape(id)), reason, nil, nil)
}

func (d *Discord) do(ctx context.Context, op, method, path, reason string, body, out any) (err error) {
	defer func() { obs.ObserveProviderCall(op, outcome(err)) }()

	if !d.Configured() {
		return fmt.Errorf("%w: discord bot is not configured", ErrUnavailable)
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.cfg.APIBase+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+d.cfg.BotToken)
	req.Header.Set("User-Agent", "voidmod-console (https://voidmod.org, 1.0)")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		if len(reason) > auditReasonLimit {
			reason = reason[:auditReasonLimit]
		}
		req.Header.Set("X-Audit-Log-Reason", url.QueryEscape(reason))
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode discord response: %w", err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
