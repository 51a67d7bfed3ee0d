// Package dashboard serves the console's read side: headline stats, recent feeds,
// full logs with CSV exports and the caller's staff level.
package dashboard

import (
	"context"
	"io"

	"golang.org/x/sync/singleflight"

	"voidmod.org/internal/audit"
	"voidmod.org/internal/auth"
)

const (
	// RecentLimit bounds the dashboard feeds.
	RecentLimit = 50
	// LogLimit bounds the log pages.
	LogLimit = 200
	// exportAll asks a feed for every row.
	exportAll = 0
)

// SanctionTotals aggregates across every subject record.
type SanctionTotals interface {
	CountWarns(ctx context.Context) (int, error)
	CountActiveBans(ctx context.Context) (int, error)
}

// Presence reports how many distinct session keys are connected.
type Presence interface {
	OnlineCount(ctx context.Context) (int, error)
}

// OpenTickets counts tickets that are not closed.
type OpenTickets interface {
	CountOpen(ctx context.Context) (int, error)
}

// ActivityFeed reads the journal. A limit of zero returns every entry.
type ActivityFeed interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
	CountByActor(ctx context.Context, pseudo string) (int, error)
}

// ConnectionFeed reads the connection log. A limit of zero returns every row.
type ConnectionFeed interface {
	Recent(ctx context.Context, limit int) ([]audit.Connection, error)
}

// Stats are the dashboard headline numbers.
type Stats struct {
	WarnCount      int `json:"warnCount"`
	BanCount       int `json:"banCount"`
	StaffConnected int `json:"staffConnected"`
	OpenTickets    int `json:"openTickets"`
}

// Service answers dashboard queries.
type Service struct {
	sanctions   SanctionTotals
	presence    Presence
	tickets     OpenTickets
	activity    ActivityFeed
	connections ConnectionFeed

	stats singleflight.Group
}

// NewService wires the read side.
func NewService(sanctions SanctionTotals, presence Presence, tickets OpenTickets, activity ActivityFeed, connections ConnectionFeed) *Service {
	return &Service{
		sanctions:   sanctions,
		presence:    presence,
		tickets:     tickets,
		activity:    activity,
		connections: connections,
	}
}

// Stats computes the headline numbers. Concurrent callers share one computation.
func (s *Service) Stats(ctx context.Context, cred auth.Credential) (Stats, error) {
	if err := auth.Require(cred, auth.PermViewDashboard); err != nil {
		return Stats{}, err
	}
	ch := s.stats.DoChan("stats", func() (any, error) {
		return s.computeStats(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Stats{}, res.Err
		}
		return res.Val.(Stats), nil
	}
}

func (s *Service) computeStats(ctx context.Context) (Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.WarnCount, err = s.sanctions.CountWarns(ctx); err != nil {
		return Stats{}, err
	}
	if st.BanCount, err = s.sanctions.CountActiveBans(ctx); err != nil {
		return Stats{}, err
	}
	if st.OpenTickets, err = s.tickets.CountOpen(ctx); err != nil {
		return Stats{}, err
	}
	if s.presence != nil {
		if st.StaffConnected, err = s.presence.OnlineCount(ctx); err != nil {
			return Stats{}, err
		}
	}
	return st, nil
}

// RecentActivity returns the latest journal entries for the dashboard.
func (s *Service) RecentActivity(ctx context.Context, cred auth.Credential) ([]audit.Entry, error) {
	if err := auth.Require(cred, auth.PermViewDashboard); err != nil {
		return nil, err
	}
	return s.activity.Recent(ctx, RecentLimit)
}

// RecentConnections returns the latest logins for the dashboard.
func (s *Service) RecentConnections(ctx context.Context, cred auth.Credential) ([]audit.Connection, error) {
	if err := auth.Require(cred, auth.PermViewConnections); err != nil {
		return nil, err
	}
	return s.connections.Recent(ctx, RecentLimit)
}

// ActionLogs returns the action log page.
func (s *Service) ActionLogs(ctx context.Context, cred auth.Credential) ([]audit.Entry, error) {
	if err := auth.Require(cred, auth.PermViewLogs); err != nil {
		return nil, err
	}
	return s.activity.Recent(ctx, LogLimit)
}

// ConnectionLogs returns the connection log page.
func (s *Service) ConnectionLogs(ctx context.Context, cred auth.Credential) ([]audit.Connection, error) {
	if err := auth.Require(cred, auth.PermViewConnections); err != nil {
		return nil, err
	}
	return s.connections.Recent(ctx, LogLimit)
}

// ExportActions writes the whole action log as CSV.
func (s *Service) ExportActions(ctx context.Context, cred auth.Credential, w io.Writer) error {
	if err := auth.Require(cred, auth.PermViewLogs); err != nil {
		return err
	}
	entries, err := s.activity.Recent(ctx, exportAll)
	if err != nil {
		return err
	}
	return audit.WriteActivityCSV(w, entries)
}

// ExportConnections writes the whole connection log as CSV.
func (s *Service) ExportConnections(ctx context.Context, cred auth.Credential, w io.Writer) error {
	if err := auth.Require(cred, auth.PermViewConnections); err != nil {
		return err
	}
	conns, err := s.connections.Recent(ctx, exportAll)
	if err != nil {
		return err
	}
	return audit.WriteConnectionsCSV(w, conns)
}
