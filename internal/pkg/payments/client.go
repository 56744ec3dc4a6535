package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiasKraft/FanWerk/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.paygate.dev/v1"

// CreateSubscriptionInput carries everything the processor needs to start a
// recurring membership in an incomplete payment state.
type CreateSubscriptionInput struct {
	CustomerID         string            `json:"customer"`
	CustomerEmail      string            `json:"customer_email,omitempty"`
	PriceID            string            `json:"price"`
	DestinationAccount string            `json:"destination_account"`
	PlatformFeePct     float64           `json:"platform_fee_pct"`
	Metadata           map[string]string `json:"metadata"`
}

// UpdateSubscriptionInput modifies an existing processor subscription in
// place. A price change is applied with proration.
type UpdateSubscriptionInput struct {
	PriceID           string `json:"price,omitempty"`
	ProrationBehavior string `json:"proration_behavior,omitempty"`
	CancelAtPeriodEnd *bool  `json:"cancel_at_period_end,omitempty"`
}

// Client is the processor surface the engine depends on.
type Client interface {
	CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, in UpdateSubscriptionInput) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) error
	CreateProduct(ctx context.Context, name string) (string, error)
	CreatePrice(ctx context.Context, productID string, amount int64, currency, interval string) (string, error)
	ListRecentEvents(ctx context.Context, accountID string, limit int) ([]Event, error)
}

// HTTPClient talks to the processor's REST API.
type HTTPClient struct {
	APIKey     string
	BaseURL    string
	HTTPDoer   *http.Client
	SessionTTL time.Duration
}

// NewClientFromEnv builds a processor client from environment configuration.
func NewClientFromEnv() *HTTPClient {
	return &HTTPClient{
		APIKey:  strings.TrimSpace(env.GetEnv("PAYMENT_API_KEY", "")),
		BaseURL: strings.TrimRight(env.GetEnv("PAYMENT_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPDoer: &http.Client{
			Timeout: 15 * time.Second,
		},
		SessionTTL: 30 * time.Minute,
	}
}

// CreateSubscription creates a subscription with incomplete payment behavior
// and returns the session the client confirms interactively.
func (c *HTTPClient) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*CheckoutSession, error) {
	if strings.TrimSpace(in.PriceID) == "" {
		return nil, errors.New("price id is required")
	}
	body := map[string]interface{}{
		"customer":            in.CustomerID,
		"customer_email":      in.CustomerEmail,
		"price":               in.PriceID,
		"payment_behavior":    "default_incomplete",
		"destination_account": in.DestinationAccount,
		"platform_fee_pct":    in.PlatformFeePct,
		"metadata":            in.Metadata,
	}
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", body, &sub); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sub.ClientSecret) == "" {
		return nil, errors.New("processor returned subscription without client_secret")
	}
	return &CheckoutSession{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		ClientSecret:   sub.ClientSecret,
		Status:         sub.Status,
		ExpiresAt:      time.Now().Add(c.sessionTTL()),
	}, nil
}

// GetSubscription retrieves a subscription by its processor id.
func (c *HTTPClient) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	var sub Subscription
	if err := c.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubscription modifies a subscription in place. Price changes default
// to prorated adjustment when no behavior is given.
func (c *HTTPClient) UpdateSubscription(ctx context.Context, id string, in UpdateSubscriptionInput) (*Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	body := map[string]interface{}{}
	if in.PriceID != "" {
		body["price"] = in.PriceID
		behavior := in.ProrationBehavior
		if behavior == "" {
			behavior = "create_prorations"
		}
		body["proration_behavior"] = behavior
	}
	if in.CancelAtPeriodEnd != nil {
		body["cancel_at_period_end"] = *in.CancelAtPeriodEnd
	}
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(id), body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels a subscription immediately or at period end.
func (c *HTTPClient) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("subscription id is required")
	}
	if atPeriodEnd {
		cancel := true
		_, err := c.UpdateSubscription(ctx, id, UpdateSubscriptionInput{CancelAtPeriodEnd: &cancel})
		return err
	}
	return c.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(id), nil, nil)
}

// CreateProduct registers a product for a tier and returns its handle.
func (c *HTTPClient) CreateProduct(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("product name is required")
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/products", map[string]interface{}{"name": name}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreatePrice registers a recurring price under a product and returns its handle.
func (c *HTTPClient) CreatePrice(ctx context.Context, productID string, amount int64, currency, interval string) (string, error) {
	if strings.TrimSpace(productID) == "" {
		return "", errors.New("product id is required")
	}
	if amount <= 0 {
		return "", errors.New("amount must be positive")
	}
	body := map[string]interface{}{
		"product":  productID,
		"amount":   amount,
		"currency": currency,
		"interval": interval,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/prices", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ListRecentEvents fetches the processor's recent event history for a
// connected account, newest first. Used by the manual sync sweep.
func (c *HTTPClient) ListRecentEvents(ctx context.Context, accountID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("account", strings.TrimSpace(accountID))
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		Data []Event `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/events?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) sessionTTL() time.Duration {
	if c.SessionTTL <= 0 {
		return 30 * time.Minute
	}
	return c.SessionTTL
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("PAYMENT_API_KEY is not configured")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPDoer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var wrapper struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Error.Message != "" {
			apiErr.Code = wrapper.Error.Code
			apiErr.Message = wrapper.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode processor response for %s %s: %w", method, path, err)
	}
	return nil
}
