package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyfold/keyfold/internal/auth/passkey"
	"github.com/keyfold/keyfold/internal/auth/storage"
)

// PutChallenge stores an in-flight WebAuthn ceremony.
func (s *Store) PutChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge.RequestToken) == "" {
		return fmt.Errorf("request token is required")
	}
	if strings.TrimSpace(string(challenge.Kind)) == "" {
		return fmt.Errorf("challenge kind is required")
	}
	if strings.TrimSpace(challenge.SessionJSON) == "" {
		return fmt.Errorf("session json is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkey_challenges (request_token, kind, user_id, session_json, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		challenge.RequestToken,
		string(challenge.Kind),
		challenge.UserID,
		challenge.SessionJSON,
		toMillis(challenge.CreatedAt),
		toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

// RedeemChallenge atomically fetches and removes a challenge.
//
// The read and the delete share one transaction so a request token can only
// ever complete a single ceremony, even under concurrent finish calls.
// Expired challenges are removed and reported as missing.
func (s *Store) RedeemChallenge(ctx context.Context, requestToken string, now time.Time) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Challenge{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(requestToken) == "" {
		return storage.Challenge{}, fmt.Errorf("request token is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("begin redeem: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT request_token, kind, user_id, session_json, created_at, expires_at
FROM passkey_challenges
WHERE request_token = ?
`, requestToken)

	var challenge storage.Challenge
	var kind string
	var createdAt int64
	var expiresAt int64
	err = row.Scan(
		&challenge.RequestToken,
		&kind,
		&challenge.UserID,
		&challenge.SessionJSON,
		&createdAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, fmt.Errorf("scan challenge: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM passkey_challenges WHERE request_token = ?", requestToken)
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("delete challenge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("delete challenge: %w", err)
	}
	if affected == 0 {
		return storage.Challenge{}, storage.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return storage.Challenge{}, fmt.Errorf("commit redeem: %w", err)
	}

	challenge.Kind = passkey.ChallengeKind(kind)
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	if !challenge.ExpiresAt.After(now) {
		return storage.Challenge{}, storage.ErrNotFound
	}
	return challenge, nil
}

// DeleteExpiredChallenges removes challenges whose expiry is at or before now.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM passkey_challenges WHERE expires_at <= ?", toMillis(now)); err != nil {
		return fmt.Errorf("delete expired challenges: %w", err)
	}
	return nil
}
