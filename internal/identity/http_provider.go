package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/subramanya1997/agentic-trust-platform/internal/common"
	"github.com/subramanya1997/agentic-trust-platform/pkg/httputil"
)

// HTTPProviderConfig configures the REST client for the identity provider.
type HTTPProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// httpProvider is the REST implementation of Provider. Retries are left to the
// callers that own the semantics (breaker, sync engine), so the underlying
// client performs exactly one attempt per call.
type httpProvider struct {
	client  *httputil.Client
	baseURL string
}

// NewHTTPProvider 创建基于 REST API 的身份供应商客户端。
func NewHTTPProvider(cfg HTTPProviderConfig) Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := httputil.NewClient(
		httputil.WithTimeout(timeout),
		httputil.WithHeaders(map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
			"Accept":        "application/json",
		}),
	)
	return &httpProvider{client: client, baseURL: cfg.BaseURL}
}

func (p *httpProvider) GetUser(ctx context.Context, userID string) (*RemoteUser, error) {
	var user RemoteUser
	err := p.getJSON(ctx, "/user_management/users/"+url.PathEscape(userID), &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *httpProvider) GetOrganization(ctx context.Context, orgID string) (*RemoteOrganization, error) {
	var org RemoteOrganization
	err := p.getJSON(ctx, "/organizations/"+url.PathEscape(orgID), &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (p *httpProvider) ListMemberships(ctx context.Context, params ListMembershipsParams) ([]RemoteMembership, error) {
	q := url.Values{}
	if params.UserID != "" {
		q.Set("user_id", params.UserID)
	}
	if params.OrganizationID != "" {
		q.Set("organization_id", params.OrganizationID)
	}

	var page struct {
		Data []RemoteMembership `json:"data"`
	}
	err := p.getJSON(ctx, "/user_management/organization_memberships?"+q.Encode(), &page)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (p *httpProvider) CreateOrganization(ctx context.Context, name string) (*RemoteOrganization, error) {
	var org RemoteOrganization
	err := p.postJSON(ctx, "/organizations", map[string]string{"name": name}, &org)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (p *httpProvider) CreateMembership(ctx context.Context, userID, orgID, role string) (*RemoteMembership, error) {
	body := map[string]string{
		"user_id":         userID,
		"organization_id": orgID,
		"role_slug":       role,
	}
	var membership RemoteMembership
	err := p.postJSON(ctx, "/user_management/organization_memberships", body, &membership)
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

func (p *httpProvider) ListAuditEvents(ctx context.Context, orgID string, limit int, cursor string) ([]RemoteAuditEvent, string, error) {
	q := url.Values{}
	q.Set("organization_id", orgID)
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("after", cursor)
	}

	var page struct {
		Data         []RemoteAuditEvent `json:"data"`
		ListMetadata struct {
			After string `json:"after"`
		} `json:"list_metadata"`
	}
	err := p.getJSON(ctx, "/audit_logs/events?"+q.Encode(), &page)
	if err != nil {
		return nil, "", err
	}
	return page.Data, page.ListMetadata.After, nil
}

// getJSON 执行 GET 请求并按状态码分类错误。
func (p *httpProvider) getJSON(ctx context.Context, path string, result interface{}) error {
	resp, err := p.client.Get(ctx, p.baseURL+path)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	return p.decodeResponse(resp, result)
}

// postJSON 执行 POST 请求并按状态码分类错误。
func (p *httpProvider) postJSON(ctx context.Context, path string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return common.WrapError(common.KindInternal, "encode request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return common.WrapError(common.KindInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	return p.decodeResponse(resp, result)
}

func (p *httpProvider) decodeResponse(resp *http.Response, result interface{}) error {
	if err := classifyStatus(resp.StatusCode); err != nil {
		// 读掉响应体以便连接复用；错误详情对分类无影响
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return common.WrapError(common.KindProvider, "decode provider response", err)
	}
	return nil
}

// classifyTransportError 将传输层错误映射为统一类别：
// 超时（含 context 取消超时）→ timeout，其余网络故障 → network。
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return common.WrapError(common.KindTimeout, "identity provider request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.WrapError(common.KindTimeout, "identity provider request timed out", err)
	}
	return common.WrapError(common.KindNetwork, "identity provider request failed", err)
}

// classifyStatus 将 HTTP 状态码映射为统一类别。
// ≥500 视为瞬时故障（计入熔断器），4xx 为永久性错误。
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return common.NewError(common.KindProvider,
			fmt.Sprintf("identity provider returned status %d", status)).
			WithDetail("status_code", status)
	case status == http.StatusNotFound:
		return common.NewError(common.KindNotFound, "resource not found at identity provider").
			WithDetail("status_code", status)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return common.NewError(common.KindForbidden, "identity provider rejected credentials").
			WithDetail("status_code", status)
	case status == http.StatusTooManyRequests:
		return common.NewError(common.KindRateLimited, "identity provider rate limit exceeded").
			WithDetail("status_code", status)
	default:
		return common.NewError(common.KindValidation,
			fmt.Sprintf("identity provider rejected request with status %d", status)).
			WithDetail("status_code", status)
	}
}
