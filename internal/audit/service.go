package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/subramanya1997/agentic-trust-platform/internal/identity"
	"github.com/subramanya1997/agentic-trust-platform/internal/metrics"
)

// defaultPageSize is how many feed entries one provider page request asks for.
const defaultPageSize = 100

// Service ingests audit events from the identity provider's feed and records
// application-local events, both into the audit_events table.
type Service struct {
	db       *gorm.DB
	provider identity.Provider
	logger   *zap.Logger
}

// NewService 创建审计服务。
func NewService(db *gorm.DB, provider identity.Provider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, provider: provider, logger: logger}
}

// SyncResult summarizes one ingestion run for an organization.
type SyncResult struct {
	Ingested int
	Skipped  int
}

// SyncEvents fetches one page of the provider's audit feed for the
// organization (up to limit entries, default 100) and persists every event
// not yet seen in a single batch write. Already-ingested events (same
// provider event id) are dropped by the dedup index; a single malformed
// event is skipped with a warning instead of aborting the page. Re-running
// is therefore always safe.
func (s *Service) SyncEvents(ctx context.Context, orgID string, limit int) (SyncResult, error) {
	var result SyncResult
	if limit <= 0 {
		limit = defaultPageSize
	}

	events, _, err := s.provider.ListAuditEvents(ctx, orgID, limit, "")
	if err != nil {
		return result, err
	}
	if len(events) == 0 {
		return result, nil
	}

	records := make([]EventRecord, 0, len(events))
	for _, ev := range events {
		if ev.Action == "" {
			result.Skipped++
			metrics.AuditEventsSkipped.WithLabelValues("error").Inc()
			s.logger.Warn("skipping audit event without action",
				zap.String("organization_id", orgID),
				zap.String("event_id", ev.ID),
			)
			continue
		}
		records = append(records, recordFromRemote(orgID, ev))
	}
	if len(records) == 0 {
		return result, nil
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "dedup_key"}},
		DoNothing: true,
	}).Create(&records)
	if res.Error != nil {
		return result, res.Error
	}

	result.Ingested = int(res.RowsAffected)
	result.Skipped += len(records) - result.Ingested
	metrics.AuditEventsIngested.WithLabelValues(SourceProvider).Add(float64(result.Ingested))
	metrics.AuditEventsSkipped.WithLabelValues("duplicate").Add(float64(len(records) - result.Ingested))

	s.logger.Info("audit event sync completed",
		zap.String("organization_id", orgID),
		zap.Int("ingested", result.Ingested),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// LocalEventParams describes an application-generated audit event.
type LocalEventParams struct {
	OrganizationID string
	Action         EventType
	ActorID        string
	ActorName      string
	TargetType     string
	TargetID       string
	TargetName     string
	IPAddress      string
	UserAgent      string
	Metadata       map[string]any
}

// CreateLocalEvent records an event the application itself observed, such as
// a login or an organization rename done through this service.
func (s *Service) CreateLocalEvent(ctx context.Context, params LocalEventParams) (*EventRecord, error) {
	metadata := datatypes.JSONMap{}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	record := EventRecord{
		OrganizationID: params.OrganizationID,
		Action:         string(params.Action),
		Source:         SourceLocal,
		ActorID:        params.ActorID,
		ActorType:      "user",
		ActorName:      params.ActorName,
		TargetType:     params.TargetType,
		TargetID:       params.TargetID,
		TargetName:     params.TargetName,
		Metadata:       metadata,
		IPAddress:      params.IPAddress,
		UserAgent:      params.UserAgent,
		OccurredAt:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}

	metrics.AuditEventsIngested.WithLabelValues(SourceLocal).Inc()
	return &record, nil
}

// ListFilter narrows event listings. Zero values mean "no constraint".
type ListFilter struct {
	Category string
	Action   string
	ActorID  string
	Since    *time.Time
	Limit    int
	Offset   int
}

// ListOrganizationEvents returns the organization's events newest-first plus
// the total matching count for pagination.
func (s *Service) ListOrganizationEvents(ctx context.Context, orgID string, filter ListFilter) ([]EventRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&EventRecord{}).Where("organization_id = ?", orgID)

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.ActorID != "" {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.Since != nil {
		query = query.Where("occurred_at >= ?", *filter.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var events []EventRecord
	err := query.Order("occurred_at DESC").Limit(limit).Offset(filter.Offset).Find(&events).Error
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListUserEvents returns the events a given actor produced within an
// organization, newest-first.
func (s *Service) ListUserEvents(ctx context.Context, orgID, actorID string, filter ListFilter) ([]EventRecord, int64, error) {
	filter.ActorID = actorID
	return s.ListOrganizationEvents(ctx, orgID, filter)
}
