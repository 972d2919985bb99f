package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is one audit event persisted for an organization. Events come
// from two sources: the identity provider's feed (Source "provider") and the
// application itself (Source "local").
//
// DedupKey is the provider's event id for provider events and a random uuid
// for local ones; the composite unique index on (organization_id, dedup_key)
// makes re-ingesting an already-seen provider event a no-op.
type EventRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	OrganizationID string `gorm:"size:255;not null;index;uniqueIndex:idx_audit_org_dedup"`
	DedupKey       string `gorm:"size:255;not null;uniqueIndex:idx_audit_org_dedup"`

	Action   string `gorm:"size:255;not null;index"`
	Category string `gorm:"size:50;not null;index"`
	Source   string `gorm:"size:20;not null;default:local"`

	ActorID   string `gorm:"size:255;index"`
	ActorType string `gorm:"size:50"`
	ActorName string `gorm:"size:255"`

	// Primary target, promoted out of Targets for indexed lookups.
	TargetType string `gorm:"size:50"`
	TargetID   string `gorm:"size:255;index"`
	TargetName string `gorm:"size:255"`

	Targets  datatypes.JSON    `gorm:"type:jsonb"`
	Metadata datatypes.JSONMap `gorm:"type:jsonb"`

	IPAddress string `gorm:"size:45"`
	UserAgent string `gorm:"size:512"`

	OccurredAt time.Time `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (EventRecord) TableName() string {
	return "audit_events"
}

// BeforeCreate 在创建前生成主键
func (r *EventRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.DedupKey == "" {
		r.DedupKey = uuid.NewString()
	}
	if r.Category == "" {
		r.Category = CategoryFor(r.Action)
	}
	return nil
}
