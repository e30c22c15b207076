// Package settlement предоставляет клиент для внешней системы выплат наград.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client инкапсулирует HTTP-взаимодействие с системой выплат.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClaimNotification описывает уведомление о востребованной награде.
// Сама выплата выполняется внешней системой; сервис только сообщает факт клейма.
type ClaimNotification struct {
	PositionID string  `json:"position_id"`
	UserID     string  `json:"user_id"`
	Rewards    float64 `json:"rewards"`
}

// NewClient создаёт HTTP-клиент для обращения к системе выплат по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// NotifyClaim отправляет уведомление о том, что награда по позиции востребована.
func (c *Client) NotifyClaim(ctx context.Context, n ClaimNotification) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("settlement client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	url := base + "/api/claims"

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
