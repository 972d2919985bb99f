// Package cache 提供基于 Redis 的 cache-aside 缓存层
package cache

import (
	"strings"
	"time"
)

// 默认 TTL：组织数据变化最少，团队成员列表变化最频繁。
const (
	TTLOrganization = 10 * time.Minute
	TTLUser         = 5 * time.Minute
	TTLOrgMembers   = 2 * time.Minute
)

// Key 将各段用冒号拼接为缓存键，格式 prefix:id[:subkey]。
// 统一的键格式保证 DeletePattern("user:*") 能一次失效整类实体。
func Key(segments ...string) string {
	return strings.Join(segments, ":")
}

// UserKey 用户镜像缓存键
func UserKey(userID string) string {
	return Key("user", userID)
}

// OrganizationKey 组织镜像缓存键
func OrganizationKey(orgID string) string {
	return Key("org", orgID)
}

// OrgMembersKey 组织成员列表缓存键
func OrgMembersKey(orgID string) string {
	return Key("org", orgID, "members")
}

// keyPrefix 提取键的首段，用作指标标签。
func keyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
