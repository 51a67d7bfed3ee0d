package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voidmod.org/internal/tickets"
)

var _ tickets.Store = (*Store)(nil)

const ticketColumns = `id, subject, description, status, created_by, coalesce(assigned_to, ''), messages, created_at, updated_at`

func scanTicket(row rowScanner) (*tickets.Ticket, error) {
	var (
		t        tickets.Ticket
		status   string
		author   []byte
		messages []byte
	)
	if err := row.Scan(&t.ID, &t.Subject, &t.Description, &status, &author, &t.AssignedTo, &messages, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = tickets.Status(status)
	if err := json.Unmarshal(author, &t.CreatedBy); err != nil {
		return nil, fmt.Errorf("decode author of %s: %w", t.ID, err)
	}
	t.Messages = []tickets.Message{}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &t.Messages); err != nil {
			return nil, fmt.Errorf("decode messages of %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func (s *Store) CreateTicket(ctx context.Context, t *tickets.Ticket) error {
	author, err := json.Marshal(t.CreatedBy)
	if err != nil {
		return err
	}
	messages, err := json.Marshal(t.Messages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into tickets (id, subject, description, status, created_by, assigned_to, messages, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Subject, t.Description, string(t.Status), author, nullIfEmpty(t.AssignedTo), messages, t.CreatedAt, t.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return tickets.ErrDuplicateID
	}
	return wrap(err)
}

func (s *Store) ListTickets(ctx context.Context, limit int) ([]tickets.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+ticketColumns+`
		from tickets
		order by updated_at desc
		limit $1
	`, limit)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()
	out := []tickets.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// updateTicket applies one atomic update and returns the resulting row.
func (s *Store) updateTicket(ctx context.Context, query string, args ...any) (*tickets.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx, query+` returning `+ticketColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tickets.ErrNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}
	return t, nil
}

func (s *Store) AppendMessage(ctx context.Context, id string, msg tickets.Message) (*tickets.Ticket, error) {
	raw, err := json.Marshal([]tickets.Message{msg})
	if err != nil {
		return nil, err
	}
	return s.updateTicket(ctx, `
		update tickets set messages = messages || $2::jsonb, updated_at = $3
		where id = $1`, id, raw, msg.CreatedAt)
}

func (s *Store) SetStatus(ctx context.Context, id string, status tickets.Status, at time.Time) (*tickets.Ticket, error) {
	return s.updateTicket(ctx, `
		update tickets set status = $2, updated_at = $3
		where id = $1`, id, string(status), at)
}

func (s *Store) Assign(ctx context.Context, id, assignee string, at time.Time) (*tickets.Ticket, error) {
	return s.updateTicket(ctx, `
		update tickets set assigned_to = $2, updated_at = $3
		where id = $1`, id, nullIfEmpty(assignee), at)
}

func (s *Store) CountOpenTickets(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from tickets where status <> 'closed'`).Scan(&n)
	return n, wrap(err)
}
