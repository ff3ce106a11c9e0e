package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CacheStore is the per-user key-value cache with TTL. Expired rows are
// deleted lazily on read.
type CacheStore struct {
	db *DB
}

// Cache returns the cache accessor.
func (d *DB) Cache() *CacheStore {
	return &CacheStore{db: d}
}

// Get returns the cached payload for (userID, key), reporting whether a
// live entry exists. An expired entry is removed and reported as absent.
func (c *CacheStore) Get(ctx context.Context, userID, key string) (string, bool, error) {
	var payload string
	var expiresAt sql.NullString
	err := c.db.sqlDB.QueryRowContext(ctx,
		"SELECT payload, expires_at FROM cache WHERE user_id = ? AND key = ?",
		userID, key,
	).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: cache get: %w", err)
	}

	if expiresAt.Valid {
		exp, err := time.Parse(time.RFC3339, expiresAt.String)
		if err == nil && exp.Before(time.Now().UTC()) {
			if _, err := c.db.sqlDB.ExecContext(ctx,
				"DELETE FROM cache WHERE user_id = ? AND key = ?", userID, key,
			); err != nil {
				return "", false, fmt.Errorf("store: cache expire: %w", err)
			}
			return "", false, nil
		}
	}
	return payload, true, nil
}

// Set upserts a cache entry. ttl == 0 stores the entry without expiry; a
// negative ttl produces an entry that is already expired.
func (c *CacheStore) Set(ctx context.Context, userID, key, payload string, ttl time.Duration) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var expiresAt any
	if ttl != 0 {
		expiresAt = time.Now().UTC().Add(ttl).Format(time.RFC3339)
	}
	_, err := c.db.sqlDB.ExecContext(ctx, `
		INSERT INTO cache (user_id, key, payload, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		userID, key, payload, now, now, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("store: cache set: %w", err)
	}
	return nil
}

// Delete removes one cache entry.
func (c *CacheStore) Delete(ctx context.Context, userID, key string) error {
	if _, err := c.db.sqlDB.ExecContext(ctx,
		"DELETE FROM cache WHERE user_id = ? AND key = ?", userID, key,
	); err != nil {
		return fmt.Errorf("store: cache delete: %w", err)
	}
	return nil
}
