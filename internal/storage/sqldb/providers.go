package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

const providerColumns = `id, name, family, base_url, is_active, deleted_at, created_by, updated_by, created_at, updated_at`

func (s *Store) CreateProvider(ctx context.Context, p *domain.Provider) (int64, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.dialect.Rebind(
		`SELECT COUNT(*) FROM providers WHERE name = ? AND deleted_at IS NULL`), p.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to check provider name: %w", err)
	}
	if count > 0 {
		return 0, domain.ErrDuplicateName
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `INSERT INTO providers (name, family, base_url, is_active, created_by, updated_by, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`

	var id int64
	err = s.db.QueryRowxContext(ctx, s.dialect.Rebind(query),
		p.Name, string(p.Family), p.BaseURL, p.Active, p.CreatedBy, p.UpdatedBy, p.CreatedAt, p.UpdatedAt,
	).Scan(&id)
	if s.dialect.IsUniqueViolation(err) {
		return 0, domain.ErrDuplicateName
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create provider: %w", err)
	}

	p.ID = id
	return id, nil
}

func (s *Store) GetProvider(ctx context.Context, id int64) (*domain.Provider, error) {
	var p domain.Provider
	query := `SELECT ` + providerColumns + ` FROM providers WHERE id = ? AND deleted_at IS NULL`
	if err := s.db.GetContext(ctx, &p, s.dialect.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) GetProviderByName(ctx context.Context, name string) (*domain.Provider, error) {
	var p domain.Provider
	query := `SELECT ` + providerColumns + ` FROM providers WHERE name = ? AND deleted_at IS NULL`
	if err := s.db.GetContext(ctx, &p, s.dialect.Rebind(query), name); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) ListProviders(ctx context.Context, activeOnly bool) ([]*domain.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE deleted_at IS NULL`
	args := []any{}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY id ASC`

	var providers []*domain.Provider
	if err := s.db.SelectContext(ctx, &providers, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

func (s *Store) SoftDeleteProvider(ctx context.Context, id int64, actor string, at time.Time) error {
	query := `UPDATE providers SET deleted_at = ?, updated_by = ?, updated_at = ?
	          WHERE id = ? AND deleted_at IS NULL`

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), at, actor, at, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertSecret(ctx context.Context, entry *domain.SecretEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	query := `INSERT INTO provider_secrets (provider_id, key_name, value, is_secret, updated_at)
	          VALUES (?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause([]string{"provider_id", "key_name"}, []string{"value", "is_secret", "updated_at"})

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		entry.ProviderID, entry.Key, entry.Value, entry.IsSecret, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert secret: %w", err)
	}
	return nil
}

func (s *Store) ListSecrets(ctx context.Context, providerID int64) ([]*domain.SecretEntry, error) {
	query := `SELECT provider_id, key_name, value, is_secret, updated_at
	          FROM provider_secrets WHERE provider_id = ? ORDER BY key_name ASC`

	var entries []*domain.SecretEntry
	if err := s.db.SelectContext(ctx, &entries, s.dialect.Rebind(query), providerID); err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	return entries, nil
}
