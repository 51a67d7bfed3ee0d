package provider

import (
	"net/url"
	"strconv"
)

const (
	authorizeURL = "https://discord.com/oauth2/authorize"

	permKickMembers     int64 = 1 << 1
	permBanMembers      int64 = 1 << 2
	permViewAuditLog    int64 = 1 << 7
	permModerateMembers int64 = 1 << 40

	// BotPermissions is the permission bitfield requested by the bot invite.
	BotPermissions = permBanMembers | permKickMembers | permModerateMembers | permViewAuditLog
)

// OAuthConfig holds the application identity used for links.
type OAuthConfig struct {
	ClientID    string
	RedirectURI string
}

// LoginURL returns the identify+guilds authorization URL, or "" when unconfigured.
func (c OAuthConfig) LoginURL() string {
	if c.ClientID == "" || c.RedirectURI == "" {
		return ""
	}
	q := url.Values{}
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "identify guilds")
	return authorizeURL + "?" + q.Encode()
}

// BotInviteURL returns the bot invite link, or "" when unconfigured.
func (c OAuthConfig) BotInviteURL() string {
	if c.ClientID == "" {
		return ""
	}
	q := url.Values{}
	q.Set("client_id", c.ClientID)
	q.Set("permissions", strconv.FormatInt(BotPermissions, 10))
	q.Set("scope", "bot applications.commands")
	return authorizeURL + "?" + q.Encode()
}
