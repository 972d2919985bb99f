package identity

import (
	"context"
	"encoding/json"
)

// RemoteUser is the provider's representation of a principal.
type RemoteUser struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	EmailVerified     bool   `json:"email_verified"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

// RemoteOrganization is the provider's representation of a tenant.
type RemoteOrganization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RemoteMembership links a remote user to a remote organization with a role.
type RemoteMembership struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
	Status         string `json:"status"`
}

// ListMembershipsParams filters membership listings. At least one of the two
// fields must be set.
type ListMembershipsParams struct {
	UserID         string
	OrganizationID string
}

// RemoteAuditEvent is one entry of the provider's audit event feed. The feed
// is heterogeneously shaped: actor, targets and context may arrive either as
// flat objects or with their fields nested under "attributes", so they are
// kept raw here and normalized downstream.
type RemoteAuditEvent struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	OccurredAt string            `json:"occurred_at"`
	Actor      json.RawMessage   `json:"actor"`
	Targets    []json.RawMessage `json:"targets"`
	Context    json.RawMessage   `json:"context"`
	Metadata   map[string]any    `json:"metadata"`
}

// Provider 定义外部身份供应商客户端的抽象。
// 实现方负责把传输层故障转换为 common 错误类别：网络错误 → network、
// 超时 → timeout、HTTP ≥500 → provider、4xx → 对应的永久性类别。
type Provider interface {
	GetUser(ctx context.Context, userID string) (*RemoteUser, error)
	GetOrganization(ctx context.Context, orgID string) (*RemoteOrganization, error)
	ListMemberships(ctx context.Context, params ListMembershipsParams) ([]RemoteMembership, error)
	CreateOrganization(ctx context.Context, name string) (*RemoteOrganization, error)
	CreateMembership(ctx context.Context, userID, orgID, role string) (*RemoteMembership, error)
	ListAuditEvents(ctx context.Context, orgID string, limit int, cursor string) ([]RemoteAuditEvent, string, error)
}
