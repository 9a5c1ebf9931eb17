package services

import (
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

	"github.com/sirupsen/logrus"

	"github.com/coachconnect/booking-engine/internal/config"
	"github.com/coachconnect/booking-engine/internal/models"
)

// PaymentGateway is the card processor. The secret key never leaves it.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*models.GatewayIntent, error)
	GetIntent(ctx context.Context, intentID string) (*models.GatewayIntent, error)
}

// CreateIntentParams is one intent creation request
type CreateIntentParams struct {
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// GatewayError is a failed gateway call. Retryable marks transport failures,
// rate limits and 5xx responses.
type GatewayError struct {
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("payment gateway returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("payment gateway request failed: %s", e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPGateway talks to a Stripe-compatible payment intents API
type HTTPGateway struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
}

// NewHTTPGateway creates a new HTTPGateway
func NewHTTPGateway(cfg *config.PaymentConfig, logger *logrus.Logger) *HTTPGateway {
	return &HTTPGateway{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// IsConfigured returns true if the gateway has credentials
func (g *HTTPGateway) IsConfigured() bool {
	return g.config.SecretKey != ""
}

// CreateIntent implements PaymentGateway
func (g *HTTPGateway) CreateIntent(ctx context.Context, params CreateIntentParams) (*models.GatewayIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.AmountCents, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint("/v1/payment_intents"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if params.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", params.IdempotencyKey)
	}

	g.logger.WithFields(logrus.Fields{
		"amount":          params.AmountCents,
		"currency":        params.Currency,
		"idempotency_key": params.IdempotencyKey,
	}).Info("Creating payment intent")

	return g.do(req)
}

// GetIntent implements PaymentGateway
func (g *HTTPGateway) GetIntent(ctx context.Context, intentID string) (*models.GatewayIntent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint("/v1/payment_intents/"+url.PathEscape(intentID)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return g.do(req)
}

func (g *HTTPGateway) endpoint(path string) string {
	return strings.TrimRight(g.config.BaseURL, "/") + path
}

func (g *HTTPGateway) do(req *http.Request) (*models.GatewayIntent, error) {
	if !g.IsConfigured() {
		return nil, &GatewayError{Message: "payment gateway not configured: missing secret key"}
	}
	req.Header.Set("Authorization", "Bearer "+g.config.SecretKey)

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &GatewayError{Message: err.Error(), Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &GatewayError{Message: "failed to read response", Retryable: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		ge := &GatewayError{
			StatusCode: resp.StatusCode,
			Message:    gatewayMessage(body),
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
		g.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"path":        req.URL.Path,
			"message":     ge.Message,
		}).Warn("Payment gateway error")
		return nil, ge
	}

	var intent models.GatewayIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, &GatewayError{Message: "failed to parse response", Err: err}
	}
	if intent.ID == "" {
		return nil, &GatewayError{Message: "response has no intent id"}
	}
	return &intent, nil
}

// gatewayMessage extracts error.message from an error body
func gatewayMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// RetryPolicy retries retryable gateway failures with exponential backoff
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy builds the policy from payment configuration
func NewRetryPolicy(cfg config.PaymentConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryBackoff, MaxDelay: 5 * time.Second}
}

// Do runs fn until it succeeds, fails permanently, runs out of attempts or ctx ends
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var ge *GatewayError
		if !errors.As(err, &ge) || !ge.Retryable || i == attempts-1 {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
