package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/keyfold/keyfold/internal/auth/event"
)

// AppendEvent records one audit event. Events are append-only; the id is
// assigned by the database.
func (s *Store) AppendEvent(ctx context.Context, record event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(string(record.Type)) == "" {
		return fmt.Errorf("event type is required")
	}

	// Events without an owner (failed logins for unknown usernames) store a
	// NULL user id so the foreign key stays satisfied.
	var userID any
	if record.UserID != "" {
		userID = record.UserID
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO auth_events (user_id, event_type, details, created_at)
VALUES (?, ?, ?, ?)
`,
		userID,
		string(record.Type),
		record.Details,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEventsByUser returns a user's audit trail, newest first.
func (s *Store) ListEventsByUser(ctx context.Context, userID string, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, event_type, details, created_at
FROM auth_events
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, userID, normalizeEventLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list events by user: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListEvents returns the global audit trail, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, user_id, event_type, details, created_at
FROM auth_events
ORDER BY created_at DESC, id DESC
LIMIT ?
`, normalizeEventLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

const defaultEventLimit = 100

func normalizeEventLimit(limit int) int {
	if limit <= 0 {
		return defaultEventLimit
	}
	return limit
}

func collectEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var record event.Event
		var userID sql.NullString
		var eventType string
		var createdAt int64
		if err := rows.Scan(&record.ID, &userID, &eventType, &record.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		record.UserID = userID.String
		record.Type = event.Type(eventType)
		record.CreatedAt = fromMillis(createdAt)
		events = append(events, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect events: %w", err)
	}
	return events, nil
}
