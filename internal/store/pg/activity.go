package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"voidmod.org/internal/audit"
)

var (
	_ audit.Store           = (*Store)(nil)
	_ audit.ConnectionStore = (*Store)(nil)
)

func (s *Store) InsertActivity(ctx context.Context, e *audit.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into activity_logs (id, actor_pseudo, actor_role, actor_key_id, action_type, target_type, target_id, details, ip_address, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.ActorPseudo, e.ActorRole, nullIfEmpty(e.ActorKeyID), e.ActionType, e.TargetType,
		nullIfEmpty(e.TargetID), details, e.IPAddress, e.CreatedAt)
	return wrap(err)
}

// ListActivity returns the newest entries first. A limit of zero lists everything.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, actor_pseudo, actor_role, coalesce(actor_key_id, ''), action_type, target_type,
		       coalesce(target_id, ''), details, ip_address, created_at
		from activity_logs
		order by created_at desc, id desc
		limit nullif($1, 0)
	`, limit)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	out := []audit.Entry{}
	for rows.Next() {
		var (
			e   audit.Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorPseudo, &e.ActorRole, &e.ActorKeyID, &e.ActionType, &e.TargetType,
			&e.TargetID, &raw, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Details = map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details of %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountActivityByActor(ctx context.Context, pseudo string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from activity_logs where actor_pseudo = $1`, pseudo).Scan(&n)
	return n, wrap(err)
}

func (s *Store) InsertConnection(ctx context.Context, c *audit.Connection) error {
	_, err := s.db.ExecContext(ctx, `
		insert into connection_logs (id, session_key_id, pseudo, role, ip_address, user_agent, connected_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, nullIfEmpty(c.SessionKeyID), c.Pseudo, c.Role, c.IPAddress, c.UserAgent, c.ConnectedAt)
	return wrap(err)
}

// ListConnections returns the newest logins first. A limit of zero lists everything.
func (s *Store) ListConnections(ctx context.Context, limit int) ([]audit.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, coalesce(session_key_id, ''), pseudo, role, ip_address, user_agent, connected_at
		from connection_logs
		order by connected_at desc, id desc
		limit nullif($1, 0)
	`, limit)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	out := []audit.Connection{}
	for rows.Next() {
		var c audit.Connection
		if err := rows.Scan(&c.ID, &c.SessionKeyID, &c.Pseudo, &c.Role, &c.IPAddress, &c.UserAgent, &c.ConnectedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
