// Package notify предоставляет клиент для внешнего сервиса уведомлений.
//
// Доставка уведомлений принципиально отделена от фиксации мутаций леджера:
// уже зафиксированная запись не откатывается из-за сбоя доставки.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EventKind задаёт тип события уведомления.
type EventKind string

const (
	// EventProfitCredited отправляется бенефициару при начислении доли.
	EventProfitCredited EventKind = "profit-credited"
	// EventPayoutIssued отправляется пользователю при создании выплаты.
	EventPayoutIssued EventKind = "payout-issued"
	// EventPayoutCode доставляет код чека при получении выплаты.
	EventPayoutCode EventKind = "payout-code"
)

// Event описывает структурированное событие для получателя.
type Event struct {
	Kind        EventKind `json:"kind"`
	RecipientID int64     `json:"recipient_id"`

	Amount     float64 `json:"amount,omitempty"`
	Share      float64 `json:"share,omitempty"`
	ClientName string  `json:"client_name,omitempty"`
	Direction  string  `json:"direction,omitempty"`
	Stage      string  `json:"stage,omitempty"`
	CheckCode  string  `json:"check_code,omitempty"`
}

// Sender отправляет одно событие получателю.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// Client инкапсулирует HTTP-взаимодействие с сервисом доставки уведомлений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент доставки уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send отправляет событие. Доставка best-effort: вызывающий логирует ошибку
// и продолжает работу.
func (c *Client) Send(ctx context.Context, ev Event) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	url := fmt.Sprintf("%s/api/notify", base)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
