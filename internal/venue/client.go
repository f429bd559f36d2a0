package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/copytrade/mirror/pkg/crypto"
)

const defaultTimeout = 10 * time.Second

// Client 交易所 REST 客户端。镜像核心所有出站调用都经过这里。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建客户端
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetInstrumentMeta 获取交易对约束（公开接口，无需签名）
func (c *Client) GetInstrumentMeta(ctx context.Context, pair string) (*InstrumentMeta, error) {
	if pair == "" {
		return nil, fmt.Errorf("pair required")
	}

	var meta InstrumentMeta
	path := "/v1/instruments/" + url.PathEscape(pair)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// CreateOrder 以跟单者凭证下单
func (c *Client) CreateOrder(ctx context.Context, creds crypto.Credentials, spec *OrderSpec) (*OrderResult, error) {
	if spec == nil {
		return nil, fmt.Errorf("order spec required")
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal order spec: %w", err)
	}

	var result OrderResult
	if err := c.do(ctx, http.MethodPost, "/v1/order", nil, body, &creds, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTransactions 查询某订单关联的流水
func (c *Client) GetTransactions(ctx context.Context, creds crypto.Credentials, orderID string) ([]LedgerEntry, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id required")
	}

	query := url.Values{"orderId": {orderID}}
	var payload struct {
		Entries []LedgerEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/transactions", query, nil, &creds, &payload); err != nil {
		return nil, err
	}
	return payload.Entries, nil
}

// GetWalletBalance 查询钱包余额（保证金账户可用余额）
func (c *Client) GetWalletBalance(ctx context.Context, creds crypto.Credentials) (string, error) {
	var payload struct {
		Balance string `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/wallet/balance", nil, nil, &creds, &payload); err != nil {
		return "", err
	}
	return payload.Balance, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, creds *crypto.Credentials, out interface{}) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	if creds != nil {
		now := time.Now().UnixMilli()
		canonical := BuildCanonicalString(now, method, path, query, body)
		req.Header.Set("X-API-KEY", creds.APIKey)
		req.Header.Set("X-TIMESTAMP", fmt.Sprintf("%d", now))
		req.Header.Set("X-SIGNATURE", NewSigner(creds.APISecret).Sign(canonical))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Message: err.Error(), transport: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Message: err.Error(), transport: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			StatusCode: resp.StatusCode,
			Message:    extractMessage(raw),
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// extractMessage 从错误响应体提取消息字段，失败时退回原始响应
func extractMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
