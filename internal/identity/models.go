package identity

import (
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// UserMirror is the local copy of a principal whose system of record is the
// external identity provider. The remote id is the primary key and is never
// issued locally. Rows are created on first successful sync, mutated on every
// subsequent sync or login-tracking update, and never hard-deleted here.
type UserMirror struct {
	ID            string `json:"id" gorm:"primaryKey;size:255"`
	Email         string `json:"email" gorm:"size:255;not null;uniqueIndex"`
	FirstName     string `json:"firstName" gorm:"size:255"`
	LastName      string `json:"lastName" gorm:"size:255"`
	AvatarURL     string `json:"avatarUrl" gorm:"type:text"`
	EmailVerified bool   `json:"emailVerified" gorm:"default:false"`

	// 偏好设置
	Settings datatypes.JSONMap `json:"settings"`

	// 安全相关
	LastLoginAt *time.Time `json:"lastLoginAt"`
	LastLoginIP string     `json:"lastLoginIp" gorm:"size:45"` // 兼容 IPv6

	// 时间戳
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名。
func (UserMirror) TableName() string {
	return "users"
}

// DisplayName returns the best human-readable name available for the user.
func (u *UserMirror) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Email
	}
}

// OrganizationMirror is the local copy of a remote tenant. The slug is derived
// deterministically from the name and re-derived whenever the name changes.
type OrganizationMirror struct {
	ID      string `json:"id" gorm:"primaryKey;size:255"`
	Name    string `json:"name" gorm:"size:255;not null"`
	Slug    string `json:"slug" gorm:"size:100;not null;uniqueIndex"`
	LogoURL string `json:"logoUrl" gorm:"type:text"`

	Settings datatypes.JSONMap `json:"settings"`

	// 计费信息
	BillingEmail     string `json:"billingEmail" gorm:"size:255"`
	StripeCustomerID string `json:"stripeCustomerId" gorm:"size:255"`

	// 套餐信息
	Plan       string            `json:"plan" gorm:"size:50;not null;default:free"`
	PlanLimits datatypes.JSONMap `json:"planLimits"`

	// 个人工作区
	IsPersonalWorkspace bool   `json:"isPersonalWorkspace" gorm:"default:false"`
	OwnerUserID         string `json:"ownerUserId" gorm:"size:255;index"`

	// 时间戳
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名。
func (OrganizationMirror) TableName() string {
	return "organizations"
}

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSeparators   = regexp.MustCompile(`[\s_]+`)
	slugHyphenRuns   = regexp.MustCompile(`-+`)
)

// GenerateSlug derives a URL-safe slug from an organization name: lowercase,
// strip invalid characters, turn spaces/underscores into hyphens, collapse
// hyphen runs, trim, and cap at 100 characters. The derivation is
// deterministic so the same name always produces the same slug.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = slugInvalidChars.ReplaceAllString(slug, "")
	slug = slugSeparators.ReplaceAllString(slug, "-")
	slug = slugHyphenRuns.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 100 {
		slug = slug[:100]
	}
	return slug
}
