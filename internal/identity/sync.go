package identity

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/subramanya1997/agentic-trust-platform/internal/cache"
	"github.com/subramanya1997/agentic-trust-platform/internal/metrics"
)

// maxSyncAttempts bounds the savepoint retry loop for one sync call.
const maxSyncAttempts = 3

// SyncEngine mirrors users and organizations from the identity provider into
// local storage. Remote data is fetched once per call through the
// breaker-guarded façade; local writes run inside a savepoint with row-level
// locking and bounded conflict retry, so concurrent first-time syncs of the
// same remote id converge on a single row.
//
// Consistency is eventual and read-triggered: a mirror is only as fresh as
// its last sync.
type SyncEngine struct {
	db       *gorm.DB
	provider Provider
	store    *cache.Store
	logger   *zap.Logger
}

// NewSyncEngine 创建实体同步引擎。store 可以为 nil（禁用缓存直写）。
func NewSyncEngine(db *gorm.DB, provider Provider, store *cache.Store, logger *zap.Logger) *SyncEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncEngine{db: db, provider: provider, store: store, logger: logger}
}

// lockForUpdate 在 postgres 方言下追加 FOR UPDATE 行锁；
// sqlite（测试环境)不支持该子句，靠其单写锁保证互斥。
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// SyncUser fetches the user from the provider and upserts the local mirror.
// Exactly one row per remote id survives concurrent syncs; losers of the
// insert race retry and converge on the winner's row.
func (e *SyncEngine) SyncUser(ctx context.Context, userID string) (*UserMirror, error) {
	remote, err := e.provider.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.syncUserData(ctx, remote)
}

// syncUserData upserts a mirror from already-fetched remote data. Split from
// SyncUser so session-derived user payloads can reuse the same write path.
func (e *SyncEngine) syncUserData(ctx context.Context, remote *RemoteUser) (*UserMirror, error) {
	var user UserMirror

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return retryOnConflict(ctx, "user", maxSyncAttempts, func() error {
			return tx.Transaction(func(stx *gorm.DB) error { // savepoint
				res := lockForUpdate(stx).Limit(1).Find(&user, "id = ?", remote.ID)
				if res.Error != nil {
					return res.Error
				}

				if res.RowsAffected == 0 {
					user = UserMirror{
						ID:            remote.ID,
						Email:         remote.Email,
						FirstName:     remote.FirstName,
						LastName:      remote.LastName,
						AvatarURL:     remote.ProfilePictureURL,
						EmailVerified: remote.EmailVerified,
						Settings:      datatypes.JSONMap{},
					}
					return stx.Create(&user).Error
				}

				user.Email = remote.Email
				user.FirstName = remote.FirstName
				user.LastName = remote.LastName
				user.EmailVerified = remote.EmailVerified
				if remote.ProfilePictureURL != "" {
					user.AvatarURL = remote.ProfilePictureURL
				}
				return stx.Save(&user).Error
			})
		})
	})
	if err != nil {
		metrics.SyncTotal.WithLabelValues("user", "error").Inc()
		return nil, err
	}

	metrics.SyncTotal.WithLabelValues("user", "success").Inc()
	e.cacheSet(ctx, cache.UserKey(user.ID), &user, cache.TTLUser)
	return &user, nil
}

// SyncOrganization fetches the organization from the provider and upserts the
// local mirror. The slug is re-derived from the remote name on every sync so
// renames propagate deterministically.
func (e *SyncEngine) SyncOrganization(ctx context.Context, orgID string) (*OrganizationMirror, error) {
	remote, err := e.provider.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var org OrganizationMirror

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return retryOnConflict(ctx, "organization", maxSyncAttempts, func() error {
			return tx.Transaction(func(stx *gorm.DB) error { // savepoint
				res := lockForUpdate(stx).Limit(1).Find(&org, "id = ?", remote.ID)
				if res.Error != nil {
					return res.Error
				}

				if res.RowsAffected == 0 {
					org = OrganizationMirror{
						ID:         remote.ID,
						Name:       remote.Name,
						Slug:       GenerateSlug(remote.Name),
						Plan:       "free",
						Settings:   datatypes.JSONMap{},
						PlanLimits: datatypes.JSONMap{},
					}
					return stx.Create(&org).Error
				}

				if org.Name != remote.Name {
					org.Name = remote.Name
					org.Slug = GenerateSlug(remote.Name)
				}
				return stx.Save(&org).Error
			})
		})
	})
	if err != nil {
		metrics.SyncTotal.WithLabelValues("organization", "error").Inc()
		return nil, err
	}

	metrics.SyncTotal.WithLabelValues("organization", "success").Inc()
	e.cacheSet(ctx, cache.OrganizationKey(org.ID), &org, cache.TTLOrganization)
	return &org, nil
}

// UpdateUserLogin records a successful login on the mirror. Only the
// login-tracking fields change; provider data is untouched.
func (e *SyncEngine) UpdateUserLogin(ctx context.Context, userID, ipAddress string) (*UserMirror, error) {
	var user UserMirror
	if err := e.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	if ipAddress != "" {
		user.LastLoginIP = ipAddress
	}
	if err := e.db.WithContext(ctx).Save(&user).Error; err != nil {
		return nil, err
	}

	e.cacheSet(ctx, cache.UserKey(user.ID), &user, cache.TTLUser)
	return &user, nil
}

// GetUserByID returns the mirrored user: cache first, then local storage,
// then a provider sync on miss.
func (e *SyncEngine) GetUserByID(ctx context.Context, userID string) (*UserMirror, error) {
	var cached UserMirror
	if e.store != nil && e.store.Get(ctx, cache.UserKey(userID), &cached) {
		return &cached, nil
	}

	var user UserMirror
	res := e.db.WithContext(ctx).Limit(1).Find(&user, "id = ?", userID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return e.SyncUser(ctx, userID)
	}

	e.cacheSet(ctx, cache.UserKey(user.ID), &user, cache.TTLUser)
	return &user, nil
}

// GetOrganizationByID returns the mirrored organization: cache first, then
// local storage, then a provider sync on miss (lazy first-time mirroring).
func (e *SyncEngine) GetOrganizationByID(ctx context.Context, orgID string) (*OrganizationMirror, error) {
	var cached OrganizationMirror
	if e.store != nil && e.store.Get(ctx, cache.OrganizationKey(orgID), &cached) {
		return &cached, nil
	}

	var org OrganizationMirror
	res := e.db.WithContext(ctx).Limit(1).Find(&org, "id = ?", orgID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return e.SyncOrganization(ctx, orgID)
	}

	e.cacheSet(ctx, cache.OrganizationKey(org.ID), &org, cache.TTLOrganization)
	return &org, nil
}

// GetOrganizationsByIDs batch-fetches mirrors in one query and lazily syncs
// the missing ids. A sync failure skips that id instead of failing the batch.
func (e *SyncEngine) GetOrganizationsByIDs(ctx context.Context, orgIDs []string) (map[string]*OrganizationMirror, error) {
	result := make(map[string]*OrganizationMirror, len(orgIDs))
	if len(orgIDs) == 0 {
		return result, nil
	}

	var orgs []OrganizationMirror
	if err := e.db.WithContext(ctx).Where("id IN ?", orgIDs).Find(&orgs).Error; err != nil {
		return nil, err
	}
	for i := range orgs {
		result[orgs[i].ID] = &orgs[i]
	}

	for _, id := range orgIDs {
		if _, ok := result[id]; ok {
			continue
		}
		org, err := e.SyncOrganization(ctx, id)
		if err != nil {
			e.logger.Warn("failed to sync organization in batch",
				zap.String("organization_id", id),
				zap.Error(err),
			)
			continue
		}
		result[id] = org
	}
	return result, nil
}

// EnsureUserOrganization guarantees the user belongs to at least one
// organization. Users without memberships get a personal workspace created
// at the provider, an admin membership, and a local mirror flagged as
// personal.
func (e *SyncEngine) EnsureUserOrganization(ctx context.Context, user *UserMirror) (*OrganizationMirror, error) {
	memberships, err := e.provider.ListMemberships(ctx, ListMembershipsParams{UserID: user.ID})
	if err != nil {
		return nil, err
	}
	if len(memberships) > 0 {
		return e.SyncOrganization(ctx, memberships[0].OrganizationID)
	}

	workspaceName := personalWorkspaceName(user)
	e.logger.Info("creating personal workspace",
		zap.String("user_id", user.ID),
		zap.String("name", workspaceName),
	)

	remote, err := e.provider.CreateOrganization(ctx, workspaceName)
	if err != nil {
		return nil, err
	}
	if _, err := e.provider.CreateMembership(ctx, user.ID, remote.ID, "admin"); err != nil {
		return nil, err
	}

	org := OrganizationMirror{
		ID:                  remote.ID,
		Name:                remote.Name,
		Slug:                GenerateSlug(remote.Name),
		Plan:                "free",
		Settings:            datatypes.JSONMap{},
		PlanLimits:          datatypes.JSONMap{},
		IsPersonalWorkspace: true,
		OwnerUserID:         user.ID,
	}
	if err := e.db.WithContext(ctx).Create(&org).Error; err != nil {
		if isConflict(err) {
			// 并发请求已经完成镜像，走常规同步路径收敛
			return e.SyncOrganization(ctx, remote.ID)
		}
		return nil, err
	}

	e.cacheSet(ctx, cache.OrganizationKey(org.ID), &org, cache.TTLOrganization)
	return &org, nil
}

// CreateOrganizationWithSync creates the organization at the provider first,
// then mirrors it locally (eager first sync on tenant creation).
func (e *SyncEngine) CreateOrganizationWithSync(ctx context.Context, name string) (*OrganizationMirror, error) {
	remote, err := e.provider.CreateOrganization(ctx, name)
	if err != nil {
		return nil, err
	}

	org := OrganizationMirror{
		ID:         remote.ID,
		Name:       remote.Name,
		Slug:       GenerateSlug(remote.Name),
		Plan:       "free",
		Settings:   datatypes.JSONMap{},
		PlanLimits: datatypes.JSONMap{},
	}
	if err := e.db.WithContext(ctx).Create(&org).Error; err != nil {
		if isConflict(err) {
			return e.SyncOrganization(ctx, remote.ID)
		}
		return nil, err
	}

	e.cacheSet(ctx, cache.OrganizationKey(org.ID), &org, cache.TTLOrganization)
	return &org, nil
}

// UpdateOrganizationParams carries explicit organization edits; nil fields
// are left unchanged.
type UpdateOrganizationParams struct {
	Name         *string
	LogoURL      *string
	BillingEmail *string
	Settings     map[string]any
}

// UpdateOrganization applies explicit local edits. Renames re-derive the
// slug; settings are merged key-by-key. All cache entries for the
// organization are invalidated afterwards.
func (e *SyncEngine) UpdateOrganization(ctx context.Context, orgID string, params UpdateOrganizationParams) (*OrganizationMirror, error) {
	var org OrganizationMirror
	if err := e.db.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		return nil, err
	}

	if params.Name != nil {
		org.Name = *params.Name
		org.Slug = GenerateSlug(*params.Name)
	}
	if params.LogoURL != nil {
		org.LogoURL = *params.LogoURL
	}
	if params.BillingEmail != nil {
		org.BillingEmail = *params.BillingEmail
	}
	if len(params.Settings) > 0 {
		if org.Settings == nil {
			org.Settings = datatypes.JSONMap{}
		}
		for k, v := range params.Settings {
			org.Settings[k] = v
		}
	}

	if err := e.db.WithContext(ctx).Save(&org).Error; err != nil {
		return nil, err
	}

	if e.store != nil {
		e.store.DeletePattern(ctx, cache.Key("org", orgID)+"*")
	}
	e.cacheSet(ctx, cache.OrganizationKey(org.ID), &org, cache.TTLOrganization)
	return &org, nil
}

// cacheSet 缓存直写；store 为 nil 时跳过。
func (e *SyncEngine) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if e.store != nil {
		e.store.Set(ctx, key, value, ttl)
	}
}

// personalWorkspaceName 生成个人工作区名称。
func personalWorkspaceName(user *UserMirror) string {
	if user.FirstName != "" {
		return user.FirstName + "'s Workspace"
	}
	prefix := user.Email
	if i := strings.IndexByte(prefix, '@'); i > 0 {
		prefix = prefix[:i]
	}
	return prefix + "'s Workspace"
}
