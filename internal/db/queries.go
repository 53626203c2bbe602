package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/HanTheDev/phone-checker/internal/cache"
	"github.com/HanTheDev/phone-checker/internal/models"
)

var _ cache.Store = (*DB)(nil)
var _ cache.Pinger = (*DB)(nil)

func (db *DB) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	query := `
        SELECT phone, platform, exists_flag, confidence, stored_at, expires_at
        FROM probe_cache
        WHERE cache_key = $1
    `

	var entry models.CacheEntry
	err := db.Pool.QueryRow(ctx, query, key).Scan(
		&entry.Phone,
		&entry.Platform,
		&entry.Exists,
		&entry.Confidence,
		&entry.StoredAt,
		&entry.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (db *DB) Put(ctx context.Context, entry *models.CacheEntry) error {
	query := `
        INSERT INTO probe_cache (cache_key, phone, platform, exists_flag, confidence, stored_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (cache_key) DO UPDATE
        SET exists_flag = EXCLUDED.exists_flag,
            confidence = EXCLUDED.confidence,
            stored_at = EXCLUDED.stored_at,
            expires_at = EXCLUDED.expires_at
    `

	_, err := db.Pool.Exec(ctx, query,
		entry.Key(),
		entry.Phone,
		entry.Platform,
		entry.Exists,
		entry.Confidence,
		entry.StoredAt,
		entry.ExpiresAt,
	)

	return err
}

func (db *DB) Delete(ctx context.Context, key string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM probe_cache WHERE cache_key = $1`, key)
	return err
}

func (db *DB) List(ctx context.Context) ([]*models.CacheEntry, error) {
	query := `
        SELECT phone, platform, exists_flag, confidence, stored_at, expires_at
        FROM probe_cache
        ORDER BY stored_at
    `

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.CacheEntry
	for rows.Next() {
		var entry models.CacheEntry
		if err := rows.Scan(
			&entry.Phone,
			&entry.Platform,
			&entry.Exists,
			&entry.Confidence,
			&entry.StoredAt,
			&entry.ExpiresAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
