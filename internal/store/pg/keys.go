package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voidmod.org/internal/auth"
)

var _ auth.KeyStore = (*Store)(nil)

const keyColumns = `id, pseudo, role, permissions, key_hash, is_active, created_by, last_used_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*auth.SessionKey, error) {
	var (
		k        auth.SessionKey
		role     string
		perms    []byte
		lastUsed sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.Pseudo, &role, &perms, &k.KeyHash, &k.Active, &k.CreatedBy, &lastUsed, &k.CreatedAt); err != nil {
		return nil, err
	}
	k.Role = auth.Role(role)
	if err := json.Unmarshal(perms, &k.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions of key %s: %w", k.ID, err)
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}

func (s *Store) listKeys(ctx context.Context, query string) ([]*auth.SessionKey, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	var out []*auth.SessionKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) CreateKey(ctx context.Context, k *auth.SessionKey) error {
	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into session_keys (`+keyColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, null, $8)
	`, k.ID, k.Pseudo, string(k.Role), perms, k.KeyHash, k.Active, k.CreatedBy, k.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: key %s already exists", auth.ErrInvalidInput, k.ID)
	}
	return wrap(err)
}

// CreateFirstKey serializes concurrent bootstraps on an advisory lock so only one
// of them can observe the empty table.
func (s *Store) CreateFirstKey(ctx context.Context, k *auth.SessionKey) error {
	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext('session_keys_bootstrap'))`); err != nil {
		return wrap(err)
	}
	res, err := tx.ExecContext(ctx, `
		insert into session_keys (`+keyColumns+`)
		select $1, $2, $3, $4, $5, $6, $7, null, $8
		where not exists (select 1 from session_keys)
	`, k.ID, k.Pseudo, string(k.Role), perms, k.KeyHash, k.Active, k.CreatedBy, k.CreatedAt)
	if err != nil {
		return wrap(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return auth.ErrNotBootstrappable
	}
	return wrap(tx.Commit())
}

func (s *Store) FindKey(ctx context.Context, id string) (*auth.SessionKey, error) {
	k, err := scanKey(s.db.QueryRowContext(ctx, `select `+keyColumns+` from session_keys where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}
	return k, nil
}

func (s *Store) ListKeys(ctx context.Context) ([]*auth.SessionKey, error) {
	return s.listKeys(ctx, `select `+keyColumns+` from session_keys order by created_at desc`)
}

func (s *Store) ListActiveKeys(ctx context.Context) ([]*auth.SessionKey, error) {
	return s.listKeys(ctx, `select `+keyColumns+` from session_keys where is_active order by created_at`)
}

func (s *Store) CountKeys(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from session_keys`).Scan(&n); err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

func (s *Store) updateKey(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) SetKeyActive(ctx context.Context, id string, active bool) error {
	return s.updateKey(ctx, `update session_keys set is_active = $2 where id = $1`, id, active)
}

func (s *Store) SetKeyPermissions(ctx context.Context, id string, perms auth.PermissionSet) error {
	raw, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	return s.updateKey(ctx, `update session_keys set permissions = $2 where id = $1`, id, raw)
}

func (s *Store) TouchKey(ctx context.Context, id string, at time.Time) error {
	return s.updateKey(ctx, `update session_keys set last_used_at = $2 where id = $1`, id, at)
}
