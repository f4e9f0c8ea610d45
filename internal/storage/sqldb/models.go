package sqldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

const modelColumns = `id, provider_id, model_id, display_name, description, latency_tier, input_cost, output_cost,
capabilities, is_recommended, is_active, last_latency_ms, last_verified_at, created_at, updated_at`

// modelRow carries the JSON-encoded capabilities column alongside the model.
type modelRow struct {
	domain.Model
	CapabilitiesJSON string `db:"capabilities"`
}

func (r *modelRow) toModel() *domain.Model {
	m := r.Model
	if r.CapabilitiesJSON != "" {
		_ = json.Unmarshal([]byte(r.CapabilitiesJSON), &m.Capabilities)
	}
	if m.Capabilities == nil {
		m.Capabilities = []string{}
	}
	return &m
}

func encodeCapabilities(caps []string) string {
	if len(caps) == 0 {
		return "[]"
	}
	data, err := json.Marshal(caps)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func (s *Store) getModelByKey(ctx context.Context, providerID int64, modelID string) (*domain.Model, error) {
	var row modelRow
	query := `SELECT ` + modelColumns + ` FROM models WHERE provider_id = ? AND model_id = ?`
	if err := s.db.GetContext(ctx, &row, s.dialect.Rebind(query), providerID, modelID); err != nil {
		return nil, notFound(err)
	}
	return row.toModel(), nil
}

func (s *Store) UpsertModel(ctx context.Context, m ports.ModelUpsert) (*domain.Model, bool, error) {
	existing, err := s.getModelByKey(ctx, m.ProviderID, m.ModelID)
	switch {
	case err == nil:
		return s.refreshModel(ctx, existing, m)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up model: %w", err)
	}

	tier := m.Tier
	if tier == "" {
		tier = domain.TierBalanced
	}
	now := time.Now().UTC()

	query := `INSERT INTO models (provider_id, model_id, display_name, description, latency_tier, input_cost,
	          output_cost, capabilities, is_recommended, is_active, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause([]string{"provider_id", "model_id"}, nil)

	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(query),
		m.ProviderID, m.ModelID, m.DisplayName, m.Description, string(tier), m.InputCost,
		m.OutputCost, encodeCapabilities(m.Capabilities), m.IsRecommended, true, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert model: %w", err)
	}

	created, err := s.getModelByKey(ctx, m.ProviderID, m.ModelID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read inserted model: %w", err)
	}
	return created, true, nil
}

// refreshModel updates catalog metadata on an existing row. Description,
// activity, recommendation and verification state are left untouched.
func (s *Store) refreshModel(ctx context.Context, existing *domain.Model, m ports.ModelUpsert) (*domain.Model, bool, error) {
	displayName := existing.DisplayName
	if m.DisplayName != "" {
		displayName = m.DisplayName
	}
	inputCost, outputCost := existing.InputCost, existing.OutputCost
	if m.InputCost != 0 || m.OutputCost != 0 {
		inputCost, outputCost = m.InputCost, m.OutputCost
	}
	caps := existing.Capabilities
	if len(m.Capabilities) > 0 {
		caps = m.Capabilities
	}

	if displayName == existing.DisplayName && inputCost == existing.InputCost &&
		outputCost == existing.OutputCost && equalStrings(caps, existing.Capabilities) {
		return existing, false, nil
	}

	now := time.Now().UTC()
	query := `UPDATE models SET display_name = ?, input_cost = ?, output_cost = ?, capabilities = ?, updated_at = ?
	          WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		displayName, inputCost, outputCost, encodeCapabilities(caps), now, existing.ID); err != nil {
		return nil, false, fmt.Errorf("failed to update model: %w", err)
	}

	existing.DisplayName = displayName
	existing.InputCost = inputCost
	existing.OutputCost = outputCost
	existing.Capabilities = caps
	existing.UpdatedAt = now
	return existing, false, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Store) GetModel(ctx context.Context, id int64) (*domain.Model, error) {
	var row modelRow
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = ?`
	if err := s.db.GetContext(ctx, &row, s.dialect.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return row.toModel(), nil
}

func (s *Store) ListModels(ctx context.Context, providerID int64) ([]*domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models`
	var args []any
	if providerID != 0 {
		query += ` WHERE provider_id = ?`
		args = append(args, providerID)
	}
	query += ` ORDER BY provider_id ASC, id ASC`

	var rows []modelRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]*domain.Model, 0, len(rows))
	for i := range rows {
		models = append(models, rows[i].toModel())
	}
	return models, nil
}

func (s *Store) SetModelActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE models SET is_active = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update model: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update model: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) RecordProbe(ctx context.Context, outcome ports.ProbeOutcome) error {
	now := time.Now().UTC()

	var (
		query string
		args  []any
	)
	if outcome.Success {
		verifiedAt := outcome.VerifiedAt
		if verifiedAt.IsZero() {
			verifiedAt = now
		}
		query = `UPDATE models SET last_latency_ms = ?, last_verified_at = ?, latency_tier = ?, is_active = ?, updated_at = ?
		         WHERE id = ?`
		args = []any{outcome.LatencyMs, verifiedAt, string(outcome.Tier), true, now, outcome.ModelRowID}
	} else {
		query = `UPDATE models SET is_active = ?, is_recommended = ?, description = ?, updated_at = ?
		         WHERE id = ?`
		args = []any{false, false, outcome.Description, now, outcome.ModelRowID}
	}

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to record probe: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record probe: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
