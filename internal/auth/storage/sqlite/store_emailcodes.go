package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/auth/storage"
)

// CreateEmailCode inserts a fresh code after invalidating every live code for
// the user. Both writes share a transaction so at most one usable code exists
// per user at any moment.
func (s *Store) CreateEmailCode(ctx context.Context, code storage.EmailCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(code.ID) == "" {
		return fmt.Errorf("code id is required")
	}
	if strings.TrimSpace(code.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(code.Code) == "" {
		return fmt.Errorf("code value is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create email code: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"UPDATE email_codes SET used = 1 WHERE user_id = ? AND used = 0", code.UserID); err != nil {
		return fmt.Errorf("invalidate prior email codes: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO email_codes (id, user_id, code, used, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		code.ID,
		code.UserID,
		code.Code,
		boolToInt(code.Used),
		toMillis(code.CreatedAt),
		toMillis(code.ExpiresAt),
	); err != nil {
		return fmt.Errorf("insert email code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create email code: %w", err)
	}
	return nil
}

// ConsumeEmailCode marks a live matching code as used.
//
// The used flip and the liveness check run in one statement, so a code that
// two requests race for verifies exactly once.
func (s *Store) ConsumeEmailCode(ctx context.Context, userID string, code string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("code value is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE email_codes
SET used = 1
WHERE user_id = ? AND code = ? AND used = 0 AND expires_at > ?
`, userID, code, toMillis(now))
	if err != nil {
		return fmt.Errorf("consume email code: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume email code: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListEmailCodesByUser returns codes for a user, newest first.
func (s *Store) ListEmailCodesByUser(ctx context.Context, userID string) ([]storage.EmailCode, error) {
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
SELECT id, user_id, code, used, created_at, expires_at
FROM email_codes
WHERE user_id = ?
ORDER BY created_at DESC, id
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list email codes: %w", err)
	}
	defer rows.Close()

	var codes []storage.EmailCode
	for rows.Next() {
		var code storage.EmailCode
		var used int
		var createdAt int64
		var expiresAt int64
		if err := rows.Scan(&code.ID, &code.UserID, &code.Code, &used, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan email code: %w", err)
		}
		code.Used = used != 0
		code.CreatedAt = fromMillis(createdAt)
		code.ExpiresAt = fromMillis(expiresAt)
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list email codes: %w", err)
	}
	return codes, nil
}

// DeleteExpiredEmailCodes removes codes whose expiry is at or before now.
func (s *Store) DeleteExpiredEmailCodes(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM email_codes WHERE expires_at <= ?", toMillis(now)); err != nil {
		return fmt.Errorf("delete expired email codes: %w", err)
	}
	return nil
}
