package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voidmod.org/internal/moderation"
)

var _ moderation.Store = (*Store)(nil)

// Subjects are stored as one jsonb document per member; version guards concurrent
// writers.

func (s *Store) LoadSubject(ctx context.Context, memberID string) (*moderation.Subject, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `select record, version from subjects where member_id = $1`, memberID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, moderation.ErrNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}
	var sub moderation.Subject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode subject %s: %w", memberID, err)
	}
	sub.Version = version
	return &sub, nil
}

func (s *Store) SaveSubject(ctx context.Context, sub *moderation.Subject) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subject %s: %w", sub.MemberID, err)
	}
	var res sql.Result
	if sub.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			insert into subjects (member_id, username, record, version, created_at, updated_at)
			values ($1, $2, $3, 1, $4, $5)
			on conflict (member_id) do nothing
		`, sub.MemberID, sub.Username, raw, sub.CreatedAt, sub.LastUpdated)
	} else {
		res, err = s.db.ExecContext(ctx, `
			update subjects
			set username = $2, record = $3, version = version + 1, updated_at = $5
			where member_id = $1 and version = $4
		`, sub.MemberID, sub.Username, raw, sub.Version, sub.LastUpdated)
	}
	if err != nil {
		return wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: subject %s version %d", moderation.ErrConflict, sub.MemberID, sub.Version)
	}
	sub.Version++
	return nil
}

func (s *Store) FindExpiredTempBans(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select member_id
		from subjects
		where exists (
			select 1 from jsonb_array_elements(record->'bans') b
			where (b->>'active')::boolean
			  and (b->>'temporary')::boolean
			  and (b->>'tempUntil')::timestamptz <= $1
		)
		order by member_id
	`, now)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountWarns totals warnings across every subject.
func (s *Store) CountWarns(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select coalesce(sum(jsonb_array_length(record->'warns')), 0) from subjects
	`).Scan(&n)
	return n, wrap(err)
}

// CountActiveBans totals active ban entries across every subject.
func (s *Store) CountActiveBans(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from subjects, jsonb_array_elements(record->'bans') b
		where (b->>'active')::boolean
	`).Scan(&n)
	return n, wrap(err)
}
