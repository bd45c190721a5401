package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/quota-admission-service/internal/model"
)

func (p *Postgres) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO api_keys (
			name, owner, key_hash, key_prefix,
			requests_per_minute, requests_per_day, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`,
		key.Name, key.Owner, key.KeyHash, key.KeyPrefix,
		key.RequestsPerMinute, key.RequestsPerDay, key.Status,
	).Scan(&key.ID, &key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert api_key: %w", err)
	}
	return nil
}

const apiKeyColumns = `id, name, owner, key_hash, key_prefix,
	requests_per_minute, requests_per_day, status, created_at, updated_at`

// GetAPIKeyByHash resolves an active key by secret hash. Disabled and
// rotated-away hashes resolve to ErrNotFound.
func (p *Postgres) GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	return p.scanAPIKey(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1 AND status = $2`,
		keyHash, model.StatusActive)
}

func (p *Postgres) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	return p.scanAPIKey(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
}

func (p *Postgres) ListAPIKeys(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count api_keys: %w", err)
	}

	offset := (page - 1) * perPage
	rows, err := p.pool.Query(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list api_keys: %w", err)
	}
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		key, err := scanAPIKeyFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		keys = append(keys, key)
	}
	return keys, total, nil
}

func (p *Postgres) CountAPIKeys(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count api_keys: %w", err)
	}
	return count, nil
}

func (p *Postgres) UpdateAPIKeyLimits(ctx context.Context, id uuid.UUID, updates KeyUpdates) error {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	if updates.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *updates.Name)
		argIdx++
	}
	if updates.Owner != nil {
		setClauses = append(setClauses, fmt.Sprintf("owner = $%d", argIdx))
		args = append(args, *updates.Owner)
		argIdx++
	}
	if updates.RequestsPerMinute != nil {
		setClauses = append(setClauses, fmt.Sprintf("requests_per_minute = $%d", argIdx))
		args = append(args, *updates.RequestsPerMinute)
		argIdx++
	}
	if updates.RequestsPerDay != nil {
		setClauses = append(setClauses, fmt.Sprintf("requests_per_day = $%d", argIdx))
		args = append(args, *updates.RequestsPerDay)
		argIdx++
	}

	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE api_keys SET %s WHERE id = $%d",
		strings.Join(setClauses, ", "), argIdx)

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update api_key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateAPIKeyStatus(ctx context.Context, id uuid.UUID, status model.APIKeyStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update api_key status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateAPIKey swaps the secret hash in a single UPDATE: no reader can
// observe the old and new hash as simultaneously valid.
func (p *Postgres) RotateAPIKey(ctx context.Context, id uuid.UUID, keyHash, keyPrefix string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys SET key_hash = $1, key_prefix = $2, updated_at = NOW() WHERE id = $3
	`, keyHash, keyPrefix, id)
	if err != nil {
		return fmt.Errorf("rotate api_key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) scanAPIKey(ctx context.Context, query string, args ...interface{}) (*model.APIKey, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query api_key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanAPIKeyFromRow(rows)
}

func scanAPIKeyFromRow(rows pgx.Rows) (*model.APIKey, error) {
	var key model.APIKey
	err := rows.Scan(
		&key.ID, &key.Name, &key.Owner, &key.KeyHash, &key.KeyPrefix,
		&key.RequestsPerMinute, &key.RequestsPerDay, &key.Status,
		&key.CreatedAt, &key.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan api_key: %w", err)
	}
	return &key, nil
}
