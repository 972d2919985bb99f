package identity

import (
	"context"
	"time"

	"github.com/subramanya1997/agentic-trust-platform/internal/breaker"
	"github.com/subramanya1997/agentic-trust-platform/internal/metrics"
)

// DependencyName is the circuit breaker dependency name for the identity
// provider. Health endpoints query breaker state under this name.
const DependencyName = "identity-provider"

// Facade wraps a Provider so that every outbound call runs under the circuit
// breaker and is counted in the provider call metrics. It implements Provider
// itself, so downstream consumers (sync engine, audit pipeline) depend on the
// plain interface and never talk to the network client directly.
type Facade struct {
	provider Provider
	breakers *breaker.Registry
}

// NewFacade 创建熔断保护的供应商门面。
func NewFacade(provider Provider, breakers *breaker.Registry) *Facade {
	return &Facade{provider: provider, breakers: breakers}
}

// BreakerState reports the current breaker state for health reporting.
func (f *Facade) BreakerState() breaker.State {
	return f.breakers.State(DependencyName)
}

func (f *Facade) GetUser(ctx context.Context, userID string) (*RemoteUser, error) {
	return call(f, "get_user", func() (*RemoteUser, error) {
		return f.provider.GetUser(ctx, userID)
	})
}

func (f *Facade) GetOrganization(ctx context.Context, orgID string) (*RemoteOrganization, error) {
	return call(f, "get_organization", func() (*RemoteOrganization, error) {
		return f.provider.GetOrganization(ctx, orgID)
	})
}

func (f *Facade) ListMemberships(ctx context.Context, params ListMembershipsParams) ([]RemoteMembership, error) {
	return call(f, "list_memberships", func() ([]RemoteMembership, error) {
		return f.provider.ListMemberships(ctx, params)
	})
}

func (f *Facade) CreateOrganization(ctx context.Context, name string) (*RemoteOrganization, error) {
	return call(f, "create_organization", func() (*RemoteOrganization, error) {
		return f.provider.CreateOrganization(ctx, name)
	})
}

func (f *Facade) CreateMembership(ctx context.Context, userID, orgID, role string) (*RemoteMembership, error) {
	return call(f, "create_membership", func() (*RemoteMembership, error) {
		return f.provider.CreateMembership(ctx, userID, orgID, role)
	})
}

func (f *Facade) ListAuditEvents(ctx context.Context, orgID string, limit int, cursor string) ([]RemoteAuditEvent, string, error) {
	type page struct {
		events []RemoteAuditEvent
		cursor string
	}
	result, err := call(f, "list_audit_events", func() (page, error) {
		events, next, err := f.provider.ListAuditEvents(ctx, orgID, limit, cursor)
		return page{events: events, cursor: next}, err
	})
	if err != nil {
		return nil, "", err
	}
	return result.events, result.cursor, nil
}

// call 统一执行熔断包装并记录调用指标。
func call[T any](f *Facade, operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := breaker.Do(f.breakers, DependencyName, fn)
	metrics.ProviderCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ProviderCallsTotal.WithLabelValues(operation, status).Inc()
	return result, err
}
