package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

func (s *Store) AppendAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `INSERT INTO audit_events (actor, action, resource_type, resource_id, detail, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(query),
		event.Actor, event.Action, event.ResourceType, event.ResourceID, event.Detail, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the newest events first.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT actor, action, resource_type, resource_id, detail, created_at
	          FROM audit_events ORDER BY id DESC LIMIT ?`

	var events []*domain.AuditEvent
	if err := s.db.SelectContext(ctx, &events, s.dialect.Rebind(query), limit); err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}
