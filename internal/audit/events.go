package audit

import "strings"

// EventType 审计事件类型
type EventType string

// 认证相关事件
const (
	EventUserLogin       EventType = "user.login"          // 用户登录
	EventUserLoginFailed EventType = "user.login.failed"   // 用户登录失败
	EventUserLogout      EventType = "user.logout"         // 用户登出
	EventUserSignedUp    EventType = "user.signed_up"      // 用户注册
	EventSessionCreated  EventType = "session.created"     // 会话创建
	EventSessionRevoked  EventType = "session.revoked"     // 会话撤销
	EventPasswordReset   EventType = "user.password.reset" // 重置密码
	EventMFAEnrolled     EventType = "user.mfa.enrolled"   // 开启多因子认证
)

// 组织管理事件
const (
	EventOrgCreated EventType = "organization.created" // 创建组织
	EventOrgUpdated EventType = "organization.updated" // 更新组织
	EventOrgDeleted EventType = "organization.deleted" // 删除组织
)

// 成员管理事件
const (
	EventMemberAdded       EventType = "organization.membership.added"        // 添加成员
	EventMemberRemoved     EventType = "organization.membership.removed"      // 移除成员
	EventMemberRoleChanged EventType = "organization.membership.role_changed" // 变更角色
	EventInviteSent        EventType = "invitation.sent"                      // 发送邀请
	EventInviteAccepted    EventType = "invitation.accepted"                  // 接受邀请
	EventInviteRevoked     EventType = "invitation.revoked"                   // 撤销邀请
)

// 事件来源
const (
	SourceProvider = "provider" // 从身份供应商拉取
	SourceLocal    = "local"    // 应用本地产生
)

// CategoryFor 按 action 前缀归类事件，用于列表过滤与统计。
func CategoryFor(action string) string {
	switch {
	case strings.HasPrefix(action, "user."), strings.HasPrefix(action, "session."):
		return "authentication"
	case strings.HasPrefix(action, "organization.membership."), strings.HasPrefix(action, "invitation."):
		return "membership"
	case strings.HasPrefix(action, "organization."):
		return "organization"
	default:
		return "other"
	}
}
