// internal/service/coupon/infrastructure/user_client.go
package infrastructure

import (
	"context"
	"fmt"
	"net/http"

	"couponhub/internal/pkg/httpclient"
	"couponhub/internal/service/coupon/domain"
)

// StubUserClient 认为所有正 ID 的用户都存在。
// 用户服务还没拆出来的环境（本地开发、测试）用这个实现。
type StubUserClient struct{}

func NewStubUserClient() *StubUserClient {
	return &StubUserClient{}
}

func (c *StubUserClient) EnsureUserExists(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// HTTPUserClient 通过用户服务的 HTTP 接口确认用户存在。
type HTTPUserClient struct {
	client  *httpclient.Client
	baseURL string
}

func NewHTTPUserClient(client *httpclient.Client, baseURL string) *HTTPUserClient {
	return &HTTPUserClient{client: client, baseURL: baseURL}
}

func (c *HTTPUserClient) EnsureUserExists(ctx context.Context, userID int64) error {
	status, err := c.client.Do(ctx, http.MethodGet, fmt.Sprintf("%s/users/%d", c.baseURL, userID), nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return domain.ErrUserNotFound
	default:
		return fmt.Errorf("user service returned unexpected status %d", status)
	}
}
