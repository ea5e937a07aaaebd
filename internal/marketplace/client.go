// Package marketplace реализует клиент fulfillment API маркетплейса:
// обмен учётных данных приложения на сервисный токен, резолв токена покупки
// в данные подписки и подтверждение активации подписки.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/magabrotheeeer/marketplace-fulfillment/internal/config"
	"github.com/magabrotheeeer/marketplace-fulfillment/internal/models"
)

// запас до истечения токена, после которого он считается устаревшим
const tokenExpiryMargin = time.Minute

// Client клиент fulfillment API маркетплейса.
// Сервисный токен кешируется на весь процесс и обновляется под мьютексом,
// чтобы конкурентные вызовы не запрашивали его повторно.
type Client struct {
	cfg        config.Marketplace
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient создаёт новый клиент маркетплейса.
func NewClient(cfg config.Marketplace) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// GetAppAuthenticationToken возвращает сервисный токен приложения,
// запрашивая его по client credentials только при отсутствии или истечении
// кешированного значения.
func (c *Client) GetAppAuthenticationToken(ctx context.Context) (string, error) {
	const op = "marketplace.GetAppAuthenticationToken"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpiryMargin)) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("resource", c.cfg.Resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%s: empty access_token in response", op)
	}

	expiresIn, err := tr.ExpiresIn.Int64()
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}

	c.token = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return c.token, nil
}

// FetchSubscription обменивает токен резолва на данные подписки.
// Токен резолва передаётся в заголовке x-ms-marketplace-token,
// сервисный токен — в заголовке Authorization.
func (c *Client) FetchSubscription(ctx context.Context, accessToken, resolveToken string) (*models.Subscription, error) {
	const op = "marketplace.FetchSubscription"

	endpoint := fmt.Sprintf("%s/subscriptions/resolve?api-version=%s", c.cfg.APIBaseURL, c.cfg.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("x-ms-marketplace-token", resolveToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, string(body))
	}

	var rr resolveResponse
	if err = json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rr.Subscription.ID == "" {
		return nil, fmt.Errorf("%s: marketplace returned no subscription for token", op)
	}
	return &rr.Subscription, nil
}

// ConfirmActivation подтверждает активацию подписки в маркетплейсе.
// Непустое поле Message в теле успешного ответа считается логической ошибкой.
func (c *Client) ConfirmActivation(ctx context.Context, subscriptionID, accessToken string, reqParams ActivationRequest) error {
	const op = "marketplace.ConfirmActivation"

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqParams); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	endpoint := fmt.Sprintf("%s/subscriptions/%s/activate?api-version=%s",
		c.cfg.APIBaseURL, subscriptionID, c.cfg.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, string(body))
	}

	var ar ActivationResponse
	if err = json.NewDecoder(resp.Body).Decode(&ar); err != nil && err != io.EOF {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ar.Message != "" {
		return fmt.Errorf("%s: activation rejected: %s", op, ar.Message)
	}
	return nil
}
