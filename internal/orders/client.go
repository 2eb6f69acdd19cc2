// Package orders предоставляет клиент внешней системы исполнения заказов.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mmeshcher/topup-store/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с системой исполнения заказов.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// CreateOrderRequest описывает передаваемый на исполнение заказ.
type CreateOrderRequest struct {
	ProductRef string `json:"product_ref"`
	AccountRef string `json:"account_ref"`
	Method     string `json:"method"`
	PaymentRef string `json:"payment_ref"`
	FinalPrice int64  `json:"final_price"`
}

// CreateOrderResponse содержит идентификатор принятого заказа.
type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
}

// OrderState описывает ответ системы исполнения по одному заказу.
type OrderState struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// NewClient создаёт HTTP-клиент для обращения к системе исполнения по указанному адресу.
// Повторы временных сетевых ошибок выполняет retryablehttp.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		// Ответ 429 с Retry-After обрабатывает сам вызывающий опрос.
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

func (c *Client) url(path string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path
}

// CreateOrder передаёт подтверждённую покупку на исполнение и возвращает идентификатор заказа.
func (c *Client) CreateOrder(ctx context.Context, reqBody CreateOrderRequest) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("order service client not configured")
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/orders"), bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result CreateOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.OrderID == "" {
		return "", fmt.Errorf("order service returned empty order id")
	}

	return result.OrderID, nil
}

// GetOrderStatus запрашивает статус исполнения указанного заказа.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*OrderState, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("order service client not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/orders/"+orderID), nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, resp.StatusCode, 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result OrderState
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return &result, resp.StatusCode, 0, nil
}

// StatusFromResponse переводит статус внешней системы во внутренний статус заказа.
// Неизвестные статусы оставляют заказ в обработке.
func StatusFromResponse(s string) (model.OrderStatus, bool) {
	switch s {
	case "REGISTERED", "PROCESSING":
		return model.OrderStatusProcessing, true
	case "COMPLETED":
		return model.OrderStatusCompleted, true
	case "FAILED", "REVERSED":
		return model.OrderStatusFailed, true
	}
	return "", false
}
