package storage

import (
	"context"

	"retrosim/internal/model"
)

// Store defines optional durable persistence for the core records. The
// simulation loop never depends on a store; callers snapshot into one when
// restart survival matters.
type Store interface {
	Init(ctx context.Context) error
	SaveRule(ctx context.Context, rule model.RuleRecord) error
	GetRule(ctx context.Context, id string) (model.RuleRecord, bool, error)
	ListRules(ctx context.Context) ([]model.RuleRecord, error)
	SaveForecast(ctx context.Context, record model.ForecastRecord) error
	GetForecasts(ctx context.Context, traceID string) ([]model.ForecastRecord, bool, error)
	SaveTrustHistory(ctx context.Context, id string, history []model.TrustEntry) error
	GetTrustHistory(ctx context.Context, id string) ([]model.TrustEntry, bool, error)
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]model.AuditEntry, error)
}
