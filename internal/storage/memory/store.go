package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

// Store is an in-memory implementation of ports.Store. Returned values are
// copies; callers may mutate them freely.
type Store struct {
	mu sync.RWMutex

	nextProvider int64
	nextModel    int64

	providers map[int64]*domain.Provider
	secrets   map[int64]map[string]*domain.SecretEntry
	models    map[int64]*domain.Model
	rules     map[ruleKey]*domain.SystemRule
	prefs     map[prefKey]*domain.UserPreference
	audit     []*domain.AuditEvent
}

type ruleKey struct {
	scope    domain.RuleScope
	moduleID string
}

type prefKey struct {
	userID   string
	moduleID string
}

var _ ports.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		providers: make(map[int64]*domain.Provider),
		secrets:   make(map[int64]map[string]*domain.SecretEntry),
		models:    make(map[int64]*domain.Model),
		rules:     make(map[ruleKey]*domain.SystemRule),
		prefs:     make(map[prefKey]*domain.UserPreference),
	}
}

func (s *Store) CreateProvider(ctx context.Context, p *domain.Provider) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.providers {
		if !existing.Deleted() && existing.Name == p.Name {
			return 0, domain.ErrDuplicateName
		}
	}

	s.nextProvider++
	now := time.Now().UTC()
	p.ID = s.nextProvider
	p.CreatedAt = now
	p.UpdatedAt = now

	cp := *p
	s.providers[p.ID] = &cp
	return p.ID, nil
}

func (s *Store) GetProvider(ctx context.Context, id int64) (*domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok || p.Deleted() {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetProviderByName(ctx context.Context, name string) (*domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.providers {
		if !p.Deleted() && p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListProviders(ctx context.Context, activeOnly bool) ([]*domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Provider{}
	for _, p := range s.providers {
		if p.Deleted() || (activeOnly && !p.Active) {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SoftDeleteProvider(ctx context.Context, id int64, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.providers[id]
	if !ok || p.Deleted() {
		return domain.ErrNotFound
	}
	deletedAt := at
	p.DeletedAt = &deletedAt
	p.UpdatedBy = actor
	p.UpdatedAt = at
	return nil
}

func (s *Store) UpsertSecret(ctx context.Context, entry *domain.SecretEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	bucket, ok := s.secrets[entry.ProviderID]
	if !ok {
		bucket = make(map[string]*domain.SecretEntry)
		s.secrets[entry.ProviderID] = bucket
	}
	cp := *entry
	bucket[entry.Key] = &cp
	return nil
}

func (s *Store) ListSecrets(ctx context.Context, providerID int64) ([]*domain.SecretEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.SecretEntry{}
	for _, e := range s.secrets[providerID] {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func copyModel(m *domain.Model) *domain.Model {
	cp := *m
	cp.Capabilities = append([]string{}, m.Capabilities...)
	return &cp
}

func (s *Store) UpsertModel(ctx context.Context, u ports.ModelUpsert) (*domain.Model, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, m := range s.models {
		if m.ProviderID != u.ProviderID || m.ModelID != u.ModelID {
			continue
		}
		if u.DisplayName != "" {
			m.DisplayName = u.DisplayName
		}
		if u.InputCost != 0 || u.OutputCost != 0 {
			m.InputCost, m.OutputCost = u.InputCost, u.OutputCost
		}
		if len(u.Capabilities) > 0 {
			m.Capabilities = append([]string{}, u.Capabilities...)
		}
		m.UpdatedAt = now
		return copyModel(m), false, nil
	}

	tier := u.Tier
	if tier == "" {
		tier = domain.TierBalanced
	}
	s.nextModel++
	m := &domain.Model{
		ID:            s.nextModel,
		ProviderID:    u.ProviderID,
		ModelID:       u.ModelID,
		DisplayName:   u.DisplayName,
		Description:   u.Description,
		Tier:          tier,
		InputCost:     u.InputCost,
		OutputCost:    u.OutputCost,
		Capabilities:  append([]string{}, u.Capabilities...),
		IsRecommended: u.IsRecommended,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.models[m.ID] = m
	return copyModel(m), true, nil
}

func (s *Store) GetModel(ctx context.Context, id int64) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyModel(m), nil
}

func (s *Store) ListModels(ctx context.Context, providerID int64) ([]*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Model{}
	for _, m := range s.models {
		if providerID != 0 && m.ProviderID != providerID {
			continue
		}
		result = append(result, copyModel(m))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ProviderID != result[j].ProviderID {
			return result[i].ProviderID < result[j].ProviderID
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) SetModelActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.IsActive = active
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RecordProbe(ctx context.Context, outcome ports.ProbeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[outcome.ModelRowID]
	if !ok {
		return domain.ErrNotFound
	}

	now := time.Now().UTC()
	if outcome.Success {
		verifiedAt := outcome.VerifiedAt
		if verifiedAt.IsZero() {
			verifiedAt = now
		}
		latency := outcome.LatencyMs
		m.LastLatencyMs = &latency
		m.LastVerifiedAt = &verifiedAt
		m.Tier = outcome.Tier
		m.IsActive = true
	} else {
		m.IsActive = false
		m.IsRecommended = false
		m.Description = outcome.Description
	}
	m.UpdatedAt = now
	return nil
}

func (s *Store) UpsertSystemRule(ctx context.Context, rule *domain.SystemRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = time.Now().UTC()
	}
	if rule.Scope == domain.ScopeGlobal {
		rule.ModuleID = domain.GlobalModule
	}
	cp := *rule
	s.rules[ruleKey{rule.Scope, rule.ModuleID}] = &cp
	return nil
}

func (s *Store) UpsertUserPreference(ctx context.Context, pref *domain.UserPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pref.UpdatedAt.IsZero() {
		pref.UpdatedAt = time.Now().UTC()
	}
	cp := *pref
	s.prefs[prefKey{pref.UserID, pref.ModuleID}] = &cp
	return nil
}

// liveRef joins a model row to its provider, returning false when either
// side cannot serve traffic. Callers hold s.mu.
func (s *Store) liveRef(m *domain.Model) (*domain.ModelRef, bool) {
	if m == nil || !m.IsActive {
		return nil, false
	}
	p, ok := s.providers[m.ProviderID]
	if !ok || p.Deleted() || !p.Active {
		return nil, false
	}
	return &domain.ModelRef{
		ModelRowID:   m.ID,
		ModelID:      m.ModelID,
		ProviderID:   p.ID,
		ProviderName: p.Name,
		Family:       p.Family,
	}, true
}

func (s *Store) FindModelByIdentifier(ctx context.Context, modelID string) (*domain.ModelRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Model
	for _, m := range s.models {
		if m.ModelID != modelID {
			continue
		}
		if _, ok := s.liveRef(m); !ok {
			continue
		}
		if best == nil ||
			(m.IsRecommended && !best.IsRecommended) ||
			(m.IsRecommended == best.IsRecommended && m.ID < best.ID) {
			best = m
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	ref, _ := s.liveRef(best)
	return ref, nil
}

func (s *Store) FindUserPreference(ctx context.Context, userID, moduleID string) (*domain.ModelRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pref, ok := s.prefs[prefKey{userID, moduleID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	ref, ok := s.liveRef(s.models[pref.ModelRef])
	if !ok {
		return nil, domain.ErrNotFound
	}
	return ref, nil
}

func (s *Store) FindSystemRule(ctx context.Context, scope domain.RuleScope, moduleID string) (*domain.ModelRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if scope == domain.ScopeGlobal {
		moduleID = domain.GlobalModule
	}
	rule, ok := s.rules[ruleKey{scope, moduleID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	ref, ok := s.liveRef(s.models[rule.ModelRef])
	if !ok {
		return nil, domain.ErrNotFound
	}
	return ref, nil
}

func (s *Store) AppendAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	result := []*domain.AuditEvent{}
	for i := len(s.audit) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *s.audit[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
