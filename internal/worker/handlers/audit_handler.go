package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/subramanya1997/agentic-trust-platform/internal/audit"
	"github.com/subramanya1997/agentic-trust-platform/internal/identity"
	"github.com/subramanya1997/agentic-trust-platform/internal/infra/queue"
	"github.com/subramanya1997/agentic-trust-platform/internal/worker/tasks"
)

// AuditHandler 处理审计同步任务
type AuditHandler struct {
	db     *gorm.DB
	svc    *audit.Service
	engine *identity.SyncEngine
	client queue.Client
	logger *zap.Logger
}

func NewAuditHandler(db *gorm.DB, svc *audit.Service, engine *identity.SyncEngine, client queue.Client, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{db: db, svc: svc, engine: engine, client: client, logger: logger}
}

// HandleSyncEvents 同步单个组织的审计事件，并顺带刷新组织镜像。
// 熔断器打开时任务返回错误，由 asynq 按退避策略重试。
func (h *AuditHandler) HandleSyncEvents(ctx context.Context, t *asynq.Task) error {
	var payload tasks.SyncAuditEventsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %v: %w", err, asynq.SkipRetry)
	}
	if payload.OrganizationID == "" {
		return fmt.Errorf("empty organization_id: %w", asynq.SkipRetry)
	}

	// 镜像刷新失败不阻塞事件同步
	if h.engine != nil {
		if _, err := h.engine.SyncOrganization(ctx, payload.OrganizationID); err != nil {
			h.logger.Warn("刷新组织镜像失败",
				zap.String("organization_id", payload.OrganizationID),
				zap.Error(err),
			)
		}
	}

	result, err := h.svc.SyncEvents(ctx, payload.OrganizationID, 0)
	if err != nil {
		return fmt.Errorf("sync audit events for %s: %w", payload.OrganizationID, err)
	}

	h.logger.Info("审计同步任务完成",
		zap.String("organization_id", payload.OrganizationID),
		zap.Int("ingested", result.Ingested),
		zap.Int("skipped", result.Skipped),
	)
	return nil
}

// HandleSyncAll 为本地已镜像的所有组织派发单独的同步任务。
// 逐组织入队而不是就地同步，让单个组织的故障互不影响。
func (h *AuditHandler) HandleSyncAll(ctx context.Context, _ *asynq.Task) error {
	var orgIDs []string
	if err := h.db.WithContext(ctx).
		Model(&identity.OrganizationMirror{}).
		Pluck("id", &orgIDs).Error; err != nil {
		return fmt.Errorf("list organizations: %w", err)
	}

	for _, id := range orgIDs {
		if err := h.client.EnqueueSyncAuditEvents(id); err != nil {
			h.logger.Warn("派发审计同步任务失败",
				zap.String("organization_id", id),
				zap.Error(err),
			)
		}
	}

	h.logger.Info("审计同步任务派发完成", zap.Int("organizations", len(orgIDs)))
	return nil
}
