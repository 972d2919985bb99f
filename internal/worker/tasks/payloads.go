package tasks

// 任务类型
const (
	TypeSyncAuditEvents = "audit:sync_events" // 同步单个组织的审计事件
	TypeSyncAllAudit    = "audit:sync_all"    // 周期任务：为所有组织派发同步
)

// SyncAuditEventsPayload 单组织审计同步任务载荷
type SyncAuditEventsPayload struct {
	OrganizationID string `json:"organization_id"`
}
