package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

// refSelect joins a model to its provider and filters out anything that
// cannot currently serve traffic.
const refSelect = `SELECT m.id AS model_row_id, m.model_id, p.id AS provider_id, p.name AS provider_name, p.family
FROM models m
JOIN providers p ON p.id = m.provider_id`

const refLive = `m.is_active = ? AND p.is_active = ? AND p.deleted_at IS NULL`

func (s *Store) UpsertSystemRule(ctx context.Context, rule *domain.SystemRule) error {
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = time.Now().UTC()
	}
	if rule.Scope == domain.ScopeGlobal {
		rule.ModuleID = domain.GlobalModule
	}

	query := `INSERT INTO system_rules (scope, module_id, model_ref, updated_by, updated_at)
	          VALUES (?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause([]string{"scope", "module_id"}, []string{"model_ref", "updated_by", "updated_at"})

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		string(rule.Scope), rule.ModuleID, rule.ModelRef, rule.UpdatedBy, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert system rule: %w", err)
	}
	return nil
}

func (s *Store) UpsertUserPreference(ctx context.Context, pref *domain.UserPreference) error {
	if pref.UpdatedAt.IsZero() {
		pref.UpdatedAt = time.Now().UTC()
	}

	query := `INSERT INTO user_preferences (user_id, module_id, model_ref, updated_at)
	          VALUES (?, ?, ?, ?) ` +
		s.dialect.UpsertClause([]string{"user_id", "module_id"}, []string{"model_ref", "updated_at"})

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		pref.UserID, pref.ModuleID, pref.ModelRef, pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user preference: %w", err)
	}
	return nil
}

func (s *Store) FindModelByIdentifier(ctx context.Context, modelID string) (*domain.ModelRef, error) {
	query := refSelect + `
WHERE m.model_id = ? AND ` + refLive + `
ORDER BY m.is_recommended DESC, m.id ASC
LIMIT 1`
	return s.findRef(ctx, query, modelID, true, true)
}

func (s *Store) FindUserPreference(ctx context.Context, userID, moduleID string) (*domain.ModelRef, error) {
	query := refSelect + `
JOIN user_preferences up ON up.model_ref = m.id
WHERE up.user_id = ? AND up.module_id = ? AND ` + refLive
	return s.findRef(ctx, query, userID, moduleID, true, true)
}

func (s *Store) FindSystemRule(ctx context.Context, scope domain.RuleScope, moduleID string) (*domain.ModelRef, error) {
	if scope == domain.ScopeGlobal {
		moduleID = domain.GlobalModule
	}
	query := refSelect + `
JOIN system_rules sr ON sr.model_ref = m.id
WHERE sr.scope = ? AND sr.module_id = ? AND ` + refLive
	return s.findRef(ctx, query, string(scope), moduleID, true, true)
}

func (s *Store) findRef(ctx context.Context, query string, args ...any) (*domain.ModelRef, error) {
	var ref domain.ModelRef
	if err := s.db.GetContext(ctx, &ref, s.dialect.Rebind(query), args...); err != nil {
		return nil, notFound(err)
	}
	return &ref, nil
}
