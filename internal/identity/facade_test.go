package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subramanya1997/agentic-trust-platform/internal/breaker"
	"github.com/subramanya1997/agentic-trust-platform/internal/common"
)

func newTestFacade(provider Provider, threshold uint32) *Facade {
	breakers := breaker.NewRegistry(breaker.Options{
		FailureThreshold: threshold,
		RecoveryTimeout:  time.Minute,
	}, nil)
	return NewFacade(provider, breakers)
}

func TestFacade_PassesThroughResults(t *testing.T) {
	provider := newFakeProvider()
	provider.users["user_01"] = &RemoteUser{ID: "user_01", Email: "j@example.com"}
	facade := newTestFacade(provider, 5)

	user, err := facade.GetUser(context.Background(), "user_01")
	require.NoError(t, err)
	assert.Equal(t, "j@example.com", user.Email)
	assert.Equal(t, breaker.StateClosed, facade.BreakerState())
}

func TestFacade_TransientFailuresOpenBreaker(t *testing.T) {
	provider := newFakeProvider()
	provider.getUserErr = common.NewError(common.KindNetwork, "connection refused")
	facade := newTestFacade(provider, 5)

	for i := 0; i < 5; i++ {
		_, err := facade.GetUser(context.Background(), "user_01")
		require.Error(t, err)
	}
	require.Equal(t, breaker.StateOpen, facade.BreakerState())

	// 熔断后快速失败，不再访问供应商
	callsBefore := provider.getUserCalls
	_, err := facade.GetUser(context.Background(), "user_01")
	require.Error(t, err)
	assert.Equal(t, common.KindCircuitOpen, common.KindOf(err))
	assert.Equal(t, callsBefore, provider.getUserCalls)
}

func TestFacade_NotFoundDoesNotTripBreaker(t *testing.T) {
	provider := newFakeProvider()
	facade := newTestFacade(provider, 3)

	for i := 0; i < 10; i++ {
		_, err := facade.GetUser(context.Background(), "missing")
		require.Error(t, err)
		assert.Equal(t, common.KindNotFound, common.KindOf(err))
	}
	assert.Equal(t, breaker.StateClosed, facade.BreakerState())
}

func TestFacade_AllOperationsShareOneBreaker(t *testing.T) {
	provider := newFakeProvider()
	provider.getUserErr = common.NewError(common.KindTimeout, "deadline exceeded")
	facade := newTestFacade(provider, 3)

	for i := 0; i < 3; i++ {
		_, _ = facade.GetUser(context.Background(), "user_01")
	}
	require.Equal(t, breaker.StateOpen, facade.BreakerState())

	// 其他操作也被同一个熔断器拦截
	_, err := facade.GetOrganization(context.Background(), "org_01")
	assert.Equal(t, common.KindCircuitOpen, common.KindOf(err))

	_, _, err = facade.ListAuditEvents(context.Background(), "org_01", 100, "")
	assert.Equal(t, common.KindCircuitOpen, common.KindOf(err))
}

func TestFacade_SyncEngineDegradesWhenCircuitOpen(t *testing.T) {
	provider := newFakeProvider()
	provider.getOrgErr = common.NewError(common.KindNetwork, "connection refused")
	facade := newTestFacade(provider, 2)

	db := setupSyncTestDB(t)
	engine := NewSyncEngine(db, facade, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := engine.SyncOrganization(context.Background(), "org_01")
		require.Error(t, err)
	}

	_, err := engine.SyncOrganization(context.Background(), "org_01")
	require.Error(t, err)
	assert.Equal(t, common.KindCircuitOpen, common.KindOf(err))
}
