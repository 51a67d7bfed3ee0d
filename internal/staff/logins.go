package staff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
	"voidmod.org/internal/obs"
	"voidmod.org/internal/stream"
)

// ConnectionAppender stores the connection log.
type ConnectionAppender interface {
	Append(ctx context.Context, c audit.Connection) (audit.Connection, error)
}

// WorkbookAppender writes the flat login workbook.
type WorkbookAppender interface {
	Append(pseudo, ip string, at time.Time) error
}

// LoginRecorder runs the side effects of a successful login. It implements
// auth.LoginObserver.
type LoginRecorder struct {
	connections ConnectionAppender
	workbook    WorkbookAppender
	journal     Journal
	pub         stream.Publisher
	logger      *slog.Logger
}

var _ auth.LoginObserver = (*LoginRecorder)(nil)

// NewLoginRecorder wires the recorder. workbook and pub may be nil.
func NewLoginRecorder(connections ConnectionAppender, workbook WorkbookAppender, journal Journal, pub stream.Publisher) *LoginRecorder {
	return &LoginRecorder{
		connections: connections,
		workbook:    workbook,
		journal:     journal,
		pub:         pub,
		logger:      obs.Logger(),
	}
}

// StaffLoggedIn stores the connection, appends the workbook, journals the login and
// tells founders. Only the connection log and the journal can fail the login.
func (r *LoginRecorder) StaffLoggedIn(ctx context.Context, key *auth.SessionKey, meta auth.LoginMeta, at time.Time) error {
	conn, err := r.connections.Append(ctx, audit.Connection{
		SessionKeyID: key.ID,
		Pseudo:       key.Pseudo,
		Role:         string(key.Role),
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		ConnectedAt:  at,
	})
	if err != nil {
		return err
	}
	if r.workbook != nil {
		if err := r.workbook.Append(key.Pseudo, conn.IPAddress, at); err != nil {
			r.logger.Warn("connection workbook append failed", slog.String("pseudo", key.Pseudo), slog.Any("error", err))
		}
	}
	if _, err := r.journal.Record(audit.WithClientIP(ctx, conn.IPAddress), audit.Actor{
		Pseudo: key.Pseudo,
		Role:   string(key.Role),
		KeyID:  key.ID,
	}, audit.Action{
		Type:       ActionLogin,
		TargetType: TargetSession,
		TargetID:   key.ID,
		Details:    map[string]any{"message": fmt.Sprintf("%s s'est connecté", key.Pseudo)},
	}); err != nil {
		return err
	}
	if r.pub != nil {
		ev, err := stream.NewEvent(stream.EventFounderStaffLogin, stream.StaffLogin{
			Pseudo:      key.Pseudo,
			Role:        string(key.Role),
			IPAddress:   conn.IPAddress,
			ConnectedAt: conn.ConnectedAt,
		})
		if err == nil {
			err = r.pub.Publish(ctx, ev)
		}
		if err != nil {
			r.logger.Warn("staff login notification failed", slog.Any("error", err))
		}
	}
	return nil
}

// RecordLogout journals the end of a session.
func RecordLogout(ctx context.Context, journal Journal, cred auth.Credential) error {
	_, err := journal.Record(ctx, audit.ActorFromCredential(cred), audit.Action{
		Type:       ActionLogout,
		TargetType: TargetSession,
		TargetID:   cred.KeyID,
	})
	return err
}
