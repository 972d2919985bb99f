package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/subramanya1997/agentic-trust-platform/internal/common"
)

// fakeProvider 内存实现，按 id 返回预置数据并统计调用次数。
type fakeProvider struct {
	users       map[string]*RemoteUser
	orgs        map[string]*RemoteOrganization
	memberships []RemoteMembership

	getUserErr error
	getOrgErr  error

	getUserCalls   int
	getOrgCalls    int
	createdOrgs    []string
	createdMembers []RemoteMembership
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		users: make(map[string]*RemoteUser),
		orgs:  make(map[string]*RemoteOrganization),
	}
}

func (f *fakeProvider) GetUser(_ context.Context, userID string) (*RemoteUser, error) {
	f.getUserCalls++
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, common.NewError(common.KindNotFound, "user not found")
	}
	cp := *u
	return &cp, nil
}

func (f *fakeProvider) GetOrganization(_ context.Context, orgID string) (*RemoteOrganization, error) {
	f.getOrgCalls++
	if f.getOrgErr != nil {
		return nil, f.getOrgErr
	}
	o, ok := f.orgs[orgID]
	if !ok {
		return nil, common.NewError(common.KindNotFound, "organization not found")
	}
	cp := *o
	return &cp, nil
}

func (f *fakeProvider) ListMemberships(_ context.Context, params ListMembershipsParams) ([]RemoteMembership, error) {
	var out []RemoteMembership
	for _, m := range f.memberships {
		if params.UserID != "" && m.UserID != params.UserID {
			continue
		}
		if params.OrganizationID != "" && m.OrganizationID != params.OrganizationID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeProvider) CreateOrganization(_ context.Context, name string) (*RemoteOrganization, error) {
	id := fmt.Sprintf("org_%02d", len(f.createdOrgs)+1)
	org := &RemoteOrganization{ID: id, Name: name}
	f.orgs[id] = org
	f.createdOrgs = append(f.createdOrgs, id)
	return org, nil
}

func (f *fakeProvider) CreateMembership(_ context.Context, userID, orgID, role string) (*RemoteMembership, error) {
	m := RemoteMembership{ID: "om_" + userID + "_" + orgID, UserID: userID, OrganizationID: orgID, Role: role}
	f.memberships = append(f.memberships, m)
	f.createdMembers = append(f.createdMembers, m)
	return &m, nil
}

func (f *fakeProvider) ListAuditEvents(_ context.Context, _ string, _ int, _ string) ([]RemoteAuditEvent, string, error) {
	return nil, "", nil
}

func setupSyncTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:sync_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&UserMirror{}, &OrganizationMirror{}))
	return db
}

func newTestEngine(t *testing.T, provider Provider) (*SyncEngine, *gorm.DB) {
	t.Helper()
	db := setupSyncTestDB(t)
	return NewSyncEngine(db, provider, nil, nil), db
}

func TestSyncUser_CreatesMirror(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{
		ID:                "user_01",
		Email:             "jane@example.com",
		FirstName:         "Jane",
		LastName:          "Doe",
		EmailVerified:     true,
		ProfilePictureURL: "https://img.example.com/jane.png",
	}
	engine, db := newTestEngine(t, provider)

	user, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)
	assert.Equal(t, "user_01", user.ID)
	assert.Equal(t, "jane@example.com", user.Email)
	assert.True(t, user.EmailVerified)
	assert.Equal(t, "https://img.example.com/jane.png", user.AvatarURL)

	var stored UserMirror
	require.NoError(t, db.First(&stored, "id = ?", "user_01").Error)
	assert.Equal(t, "Jane", stored.FirstName)
}

func TestSyncUser_UpdatesExistingMirror(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{ID: "user_01", Email: "old@example.com", FirstName: "Jane"}
	engine, db := newTestEngine(t, provider)

	_, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)

	// 远端数据变化后再次同步
	provider.users["user_01"].Email = "new@example.com"
	provider.users["user_01"].LastName = "Doe"

	user, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "Doe", user.LastName)

	var count int64
	db.Model(&UserMirror{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestSyncUser_EmptyAvatarDoesNotClearExisting(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{
		ID: "user_01", Email: "j@example.com", ProfilePictureURL: "https://img.example.com/a.png",
	}
	engine, _ := newTestEngine(t, provider)

	_, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)

	provider.users["user_01"].ProfilePictureURL = ""
	user, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/a.png", user.AvatarURL)
}

func TestSyncUser_ProviderErrorPropagates(t *testing.T) {
	provider := newFakeProvider()
	provider.getUserErr = common.NewError(common.KindTimeout, "deadline exceeded")
	engine, db := newTestEngine(t, provider)

	_, err := engine.SyncUser(context.Background(), "user_01")
	require.Error(t, err)
	assert.Equal(t, common.KindTimeout, common.KindOf(err))

	// 失败的同步不应留下半成品行
	var count int64
	db.Model(&UserMirror{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

// 模拟并发首次同步：在引擎自己的 INSERT 执行之前，通过回调把同一 id 的行
// 先写进去，制造真实的唯一约束冲突。引擎应回滚到保存点、重试并收敛到一行。
func TestSyncUser_ConcurrentFirstInsertConverges(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{
		ID:        "user_01",
		Email:     "jane@example.com",
		FirstName: "Jane",
	}
	engine, db := newTestEngine(t, provider)

	injected := false
	err := db.Callback().Create().Before("gorm:create").Register("competing_first_insert", func(tx *gorm.DB) {
		if injected || tx.Statement == nil || tx.Statement.Table != "users" {
			return
		}
		injected = true
		now := time.Now().UTC()
		tx.Exec(
			"INSERT INTO users (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)",
			"user_01", "jane@example.com", now, now,
		)
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Callback().Create().Remove("competing_first_insert") })

	user, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err, "唯一约束冲突应触发重试而不是报错")
	require.True(t, injected, "冲突注入未生效")
	assert.Equal(t, "jane@example.com", user.Email)
	assert.Equal(t, 1, provider.getUserCalls, "远端数据每次外层调用只取一次，不随重试重取")

	var count int64
	db.Model(&UserMirror{}).Where("id = ?", "user_01").Count(&count)
	assert.EqualValues(t, 1, count, "并发首次同步后只能留下一行")
}

func TestSyncOrganization_CreatesMirrorWithSlug(t *testing.T) {
	provider := newFakeProvider()
	provider.orgs["org_01"] = &RemoteOrganization{ID: "org_01", Name: "Acme, Inc."}
	engine, _ := newTestEngine(t, provider)

	org, err := engine.SyncOrganization(context.Background(), "org_01")
	require.NoError(t, err)
	assert.Equal(t, "acme-inc", org.Slug)
	assert.Equal(t, "free", org.Plan)
}

func TestSyncOrganization_RenameRederivesSlug(t *testing.T) {
	provider := newFakeProvider()
	provider.orgs["org_01"] = &RemoteOrganization{ID: "org_01", Name: "Acme"}
	engine, _ := newTestEngine(t, provider)

	_, err := engine.SyncOrganization(context.Background(), "org_01")
	require.NoError(t, err)

	provider.orgs["org_01"].Name = "Acme International"
	org, err := engine.SyncOrganization(context.Background(), "org_01")
	require.NoError(t, err)
	assert.Equal(t, "Acme International", org.Name)
	assert.Equal(t, "acme-international", org.Slug)
}

func TestSyncIsIdempotent(t *testing.T) {
	provider := newFakeProvider()
	provider.orgs["org_01"] = &RemoteOrganization{ID: "org_01", Name: "Acme"}
	engine, db := newTestEngine(t, provider)

	for i := 0; i < 3; i++ {
		_, err := engine.SyncOrganization(context.Background(), "org_01")
		require.NoError(t, err)
	}

	var count int64
	db.Model(&OrganizationMirror{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestGetUserByID_ReadsLocalWithoutProviderCall(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{ID: "user_01", Email: "j@example.com"}
	engine, _ := newTestEngine(t, provider)

	_, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)
	require.Equal(t, 1, provider.getUserCalls)

	user, err := engine.GetUserByID(context.Background(), "user_01")
	require.NoError(t, err)
	assert.Equal(t, "j@example.com", user.Email)
	assert.Equal(t, 1, provider.getUserCalls, "local hit must not call the provider")
}

func TestGetUserByID_LazySyncOnLocalMiss(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{ID: "user_01", Email: "j@example.com"}
	engine, _ := newTestEngine(t, provider)

	user, err := engine.GetUserByID(context.Background(), "user_01")
	require.NoError(t, err)
	assert.Equal(t, "user_01", user.ID)
	assert.Equal(t, 1, provider.getUserCalls)
}

func TestGetOrganizationsByIDs_SkipsFailedSyncs(t *testing.T) {
	provider := newFakeProvider()
	provider.orgs["org_01"] = &RemoteOrganization{ID: "org_01", Name: "Acme"}
	// org_02 在远端不存在
	engine, _ := newTestEngine(t, provider)

	result, err := engine.GetOrganizationsByIDs(context.Background(), []string{"org_01", "org_02"})
	require.NoError(t, err)
	assert.Len(t, result, 1)
	assert.Contains(t, result, "org_01")
}

func TestUpdateUserLogin(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{ID: "user_01", Email: "j@example.com"}
	engine, _ := newTestEngine(t, provider)

	_, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)

	user, err := engine.UpdateUserLogin(context.Background(), "user_01", "203.0.113.7")
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)
	assert.Equal(t, "203.0.113.7", user.LastLoginIP)
	assert.WithinDuration(t, time.Now().UTC(), *user.LastLoginAt, 5*time.Second)
}

func TestEnsureUserOrganization_ReturnsExistingMembership(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{ID: "user_01", Email: "j@example.com"}
	provider.orgs["org_99"] = &RemoteOrganization{ID: "org_99", Name: "Existing Org"}
	provider.memberships = []RemoteMembership{
		{ID: "om_1", UserID: "user_01", OrganizationID: "org_99", Role: "member"},
	}
	engine, _ := newTestEngine(t, provider)

	user, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)

	org, err := engine.EnsureUserOrganization(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "org_99", org.ID)
	assert.Empty(t, provider.createdOrgs, "must not create a workspace when a membership exists")
}

func TestEnsureUserOrganization_CreatesPersonalWorkspace(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{ID: "user_01", Email: "jane@example.com", FirstName: "Jane"}
	engine, _ := newTestEngine(t, provider)

	user, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)

	org, err := engine.EnsureUserOrganization(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "Jane's Workspace", org.Name)
	assert.True(t, org.IsPersonalWorkspace)
	assert.Equal(t, "user_01", org.OwnerUserID)

	require.Len(t, provider.createdMembers, 1)
	assert.Equal(t, "admin", provider.createdMembers[0].Role)
}

func TestEnsureUserOrganization_EmailPrefixFallback(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{ID: "user_01", Email: "jdoe@example.com"}
	engine, _ := newTestEngine(t, provider)

	user, err := engine.SyncUser(context.Background(), "user_01")
	require.NoError(t, err)

	org, err := engine.EnsureUserOrganization(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "jdoe's Workspace", org.Name)
}

func TestCreateOrganizationWithSync(t *testing.T) {
	provider := newFakeProvider()
	engine, db := newTestEngine(t, provider)

	org, err := engine.CreateOrganizationWithSync(context.Background(), "New Venture")
	require.NoError(t, err)
	assert.Equal(t, "new-venture", org.Slug)
	require.Len(t, provider.createdOrgs, 1)

	var stored OrganizationMirror
	require.NoError(t, db.First(&stored, "id = ?", org.ID).Error)
	assert.Equal(t, "New Venture", stored.Name)
}

func TestUpdateOrganization(t *testing.T) {
	provider := newFakeProvider()
	provider.orgs["org_01"] = &RemoteOrganization{ID: "org_01", Name: "Acme"}
	engine, _ := newTestEngine(t, provider)

	_, err := engine.SyncOrganization(context.Background(), "org_01")
	require.NoError(t, err)

	newName := "Acme Global"
	billing := "billing@acme.io"
	org, err := engine.UpdateOrganization(context.Background(), "org_01", UpdateOrganizationParams{
		Name:         &newName,
		BillingEmail: &billing,
		Settings:     map[string]any{"theme": "dark"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme Global", org.Name)
	assert.Equal(t, "acme-global", org.Slug, "rename re-derives the slug")
	assert.Equal(t, "billing@acme.io", org.BillingEmail)
	assert.Equal(t, "dark", org.Settings["theme"])
}

func TestUpdateOrganization_MergesSettings(t *testing.T) {
	provider := newFakeProvider()
	provider.orgs["org_01"] = &RemoteOrganization{ID: "org_01", Name: "Acme"}
	engine, _ := newTestEngine(t, provider)

	_, err := engine.SyncOrganization(context.Background(), "org_01")
	require.NoError(t, err)

	_, err = engine.UpdateOrganization(context.Background(), "org_01", UpdateOrganizationParams{
		Settings: map[string]any{"theme": "dark"},
	})
	require.NoError(t, err)

	org, err := engine.UpdateOrganization(context.Background(), "org_01", UpdateOrganizationParams{
		Settings: map[string]any{"locale": "en"},
	})
	require.NoError(t, err)
	assert.Equal(t, "dark", org.Settings["theme"], "previous settings survive a partial update")
	assert.Equal(t, "en", org.Settings["locale"])
}
