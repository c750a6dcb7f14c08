package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/commissiontracker/underwriter/internal/core/auth"
)

type apiKeyRow struct {
	ID         string       `db:"api_key_id"`
	TenantID   string       `db:"tenant_id"`
	Name       string       `db:"name"`
	SecretID   string       `db:"secret_id"`
	Hash       []byte       `db:"key_hash"`
	CreatedAt  time.Time    `db:"created_at"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
}

func (r apiKeyRow) toAPIKey() auth.APIKey {
	k := auth.APIKey{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Name:      r.Name,
		SecretID:  r.SecretID,
		Hash:      r.Hash,
		CreatedAt: r.CreatedAt,
	}
	if r.LastUsedAt.Valid {
		t := r.LastUsedAt.Time
		k.LastUsedAt = &t
	}
	if r.RevokedAt.Valid {
		t := r.RevokedAt.Time
		k.RevokedAt = &t
	}
	return k
}

// CreateAPIKey stores the digest of a newly generated key for tenantID.
func (s *Store) CreateAPIKey(ctx context.Context, tenantID, name, secretID string, hash []byte) (auth.APIKey, error) {
	if tenantID == "" {
		return auth.APIKey{}, fmt.Errorf("tenant id is required")
	}
	k := auth.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		Name:      name,
		SecretID:  secretID,
		Hash:      hash,
		CreatedAt: s.now(),
	}
	if _, err := s.q.Exec(ctx, "create-api-key", k.ID, k.TenantID, k.Name, k.SecretID, k.Hash, k.CreatedAt); err != nil {
		return auth.APIKey{}, eris.Wrapf(err, "store: insert api key for %s", tenantID)
	}
	return k, nil
}

// FindAPIKeyByHash returns the key with the given digest, revoked or not.
func (s *Store) FindAPIKeyByHash(ctx context.Context, hash []byte) (auth.APIKey, error) {
	var row apiKeyRow
	if err := s.q.Get(ctx, "get-api-key-by-hash", &row, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.APIKey{}, auth.ErrKeyNotFound
		}
		return auth.APIKey{}, eris.Wrap(err, "store: get api key")
	}
	return row.toAPIKey(), nil
}

// TouchAPIKey records when a key was last used.
func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	if _, err := s.q.Exec(ctx, "update-api-key-last-used", at, id); err != nil {
		return eris.Wrapf(err, "store: touch api key %s", id)
	}
	return nil
}

// RevokeAPIKey revokes an active key. Revoking an unknown or already
// revoked key returns auth.ErrKeyNotFound.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.q.Exec(ctx, "revoke-api-key", s.now(), id)
	if err != nil {
		return eris.Wrapf(err, "store: revoke api key %s", id)
	}
	return requireRow(res, fmt.Errorf("%w: %s", auth.ErrKeyNotFound, id))
}

// ListAPIKeys returns a tenant's keys, revoked ones included.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]auth.APIKey, error) {
	var rows []apiKeyRow
	if err := s.q.Select(ctx, "list-api-keys-for-tenant", &rows, tenantID); err != nil {
		return nil, eris.Wrapf(err, "store: list api keys for %s", tenantID)
	}
	out := make([]auth.APIKey, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toAPIKey())
	}
	return out, nil
}
