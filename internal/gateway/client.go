// Package gateway implements the HTTP client for the remote commerce
// gateway that owns products, orders, users, and payment-provider
// integration.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nerochristian/robloxkeys/internal/domain"
	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
	"github.com/nerochristian/robloxkeys/pkg/httpclient"
)

// Config holds gateway connection settings.
type Config struct {
	// BaseURL is the gateway root, e.g. "https://api.example.com/shop".
	BaseURL string

	// APIKey authenticates this service to the gateway. Sent in AuthHeader,
	// prefixed with AuthScheme when one is configured.
	APIKey     string
	AuthHeader string
	AuthScheme string

	Timeout time.Duration
}

// Client is the commerce gateway HTTP client. Every request is sent at most
// once per call: payment creation, confirmation, and purchase must not be
// transparently retried because the gateway treats each as a user action.
type Client struct {
	http    *httpclient.CircuitBreakerClient
	baseURL string
	cfg     Config
	logger  *slog.Logger
}

// New creates a gateway client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "x-api-key"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.MaxRetries = 0

	base := httpclient.New(httpCfg)
	cb := httpclient.NewCircuitBreakerClient(base, httpclient.DefaultCircuitBreakerConfig("commerce-gateway"), logger)

	return &Client{
		http:    cb,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		logger:  logger,
	}
}

type createPaymentRequest struct {
	Order         *domain.Order `json:"order"`
	PaymentMethod domain.Method `json:"paymentMethod"`
	SuccessURL    string        `json:"successUrl"`
	CancelURL     string        `json:"cancelUrl"`
}

type createPaymentResponse struct {
	OK            bool   `json:"ok"`
	CheckoutURL   string `json:"checkoutUrl"`
	Token         string `json:"token"`
	SessionID     string `json:"sessionId"`
	TrackID       string `json:"trackId"`
	PayPalOrderID string `json:"paypalOrderId"`
	Manual        bool   `json:"manual"`
	Message       string `json:"message"`
}

// CreatePayment asks the gateway to create a provider payment session for
// the order. sessionToken is the end user's bearer token.
func (c *Client) CreatePayment(ctx context.Context, sessionToken string, order *domain.Order, method domain.Method, successURL, cancelURL string) (*domain.PaymentSession, error) {
	body := createPaymentRequest{
		Order:         order,
		PaymentMethod: method,
		SuccessURL:    successURL,
		CancelURL:     cancelURL,
	}

	resp, err := c.post(ctx, "/payments/create", sessionToken, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, createPaymentError(resp)
	}

	var out createPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode create payment response: %w", err)
	}
	if !out.OK {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("Create payment failed (%d)", resp.StatusCode)
		}
		return nil, apperrors.PaymentFailed(msg)
	}

	session := &domain.PaymentSession{
		Token:         out.Token,
		CheckoutURL:   out.CheckoutURL,
		SessionID:     out.SessionID,
		TrackID:       out.TrackID,
		PayPalOrderID: out.PayPalOrderID,
		Manual:        out.Manual,
	}
	if !session.Manual && session.CheckoutURL == "" {
		return nil, apperrors.PaymentFailed("gateway returned neither a checkout URL nor a manual session")
	}
	return session, nil
}

// createPaymentError surfaces the gateway message when present, else the
// generic create-failed message with the status code.
func createPaymentError(resp *http.Response) error {
	status := resp.StatusCode
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var remote httpclient.RemoteErrorResponse
	if json.Unmarshal(bodyBytes, &remote) == nil && remote.Message != "" {
		if status == http.StatusUnauthorized {
			return apperrors.Unauthorized(remote.Message)
		}
		return apperrors.PaymentFailed(remote.Message)
	}
	if status == http.StatusUnauthorized {
		return apperrors.Unauthorized(fmt.Sprintf("Create payment failed (%d)", status))
	}
	return apperrors.PaymentFailed(fmt.Sprintf("Create payment failed (%d)", status))
}

type confirmPaymentRequest struct {
	Token         string        `json:"token"`
	SessionID     string        `json:"sessionId,omitempty"`
	TrackID       string        `json:"trackId,omitempty"`
	PayPalOrderID string        `json:"paypalOrderId,omitempty"`
	PaymentMethod domain.Method `json:"paymentMethod,omitempty"`
}

type purchaseResponse struct {
	OK       bool             `json:"ok"`
	Order    *domain.Order    `json:"order"`
	Products []domain.Product `json:"products"`
	OrderID  string           `json:"orderId"`
	Message  string           `json:"message"`
}

// ConfirmPayment asks the gateway to finalize a payment session. The
// secondary ID is the provider-specific confirmation id: Stripe session id
// for card, crypto track id, PayPal order id.
func (c *Client) ConfirmPayment(ctx context.Context, sessionToken, token, secondaryID string, method domain.Method) (*domain.PurchaseResult, error) {
	body := confirmPaymentRequest{Token: token, PaymentMethod: method}
	switch method {
	case domain.MethodCard:
		body.SessionID = secondaryID
	case domain.MethodCrypto:
		body.TrackID = secondaryID
	case domain.MethodPayPal:
		body.PayPalOrderID = secondaryID
	}

	resp, err := c.post(ctx, "/payments/confirm", sessionToken, body)
	if err != nil {
		return nil, err
	}
	return decodePurchase(resp, "confirm payment")
}

type buyRequest struct {
	Order           *domain.Order `json:"order"`
	PaymentMethod   domain.Method `json:"paymentMethod"`
	PaymentVerified bool          `json:"paymentVerified"`
}

// Buy performs the manual-flow direct purchase against the gateway.
func (c *Client) Buy(ctx context.Context, sessionToken string, order *domain.Order, method domain.Method, paymentVerified bool) (*domain.PurchaseResult, error) {
	body := buyRequest{Order: order, PaymentMethod: method, PaymentVerified: paymentVerified}

	resp, err := c.post(ctx, "/buy", sessionToken, body)
	if err != nil {
		return nil, err
	}
	return decodePurchase(resp, "buy")
}

func decodePurchase(resp *http.Response, op string) (*domain.PurchaseResult, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpclient.ParseResponseError(resp, "commerce gateway")
	}
	defer func() { _ = resp.Body.Close() }()

	var out purchaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	if !out.OK {
		msg := out.Message
		if msg == "" {
			msg = op + " failed"
		}
		return nil, apperrors.PaymentFailed(msg)
	}

	return &domain.PurchaseResult{
		Order:    out.Order,
		Products: out.Products,
		OrderID:  out.OrderID,
	}, nil
}

// PaymentMethods fetches provider availability. The gateway has shipped both
// map and list payloads for this endpoint over time, so both are accepted.
func (c *Client) PaymentMethods(ctx context.Context, sessionToken string) (domain.PaymentMethods, error) {
	resp, err := c.get(ctx, "/payment-methods", sessionToken)
	if err != nil {
		return domain.PaymentMethods{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.PaymentMethods{}, httpclient.ParseResponseError(resp, "commerce gateway")
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PaymentMethods{}, fmt.Errorf("read payment methods response: %w", err)
	}
	return parsePaymentMethods(bodyBytes)
}

// parsePaymentMethods accepts either the map shape
// {"card": {"enabled":true,"automated":true}, ...} (optionally nested under
// "methods", "payment_methods", or "data") or a list of
// {"name"|"method"|"type": ..., "enabled": ..., "automated": ...} entries.
func parsePaymentMethods(body []byte) (domain.PaymentMethods, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return domain.PaymentMethods{}, fmt.Errorf("decode payment methods: %w", err)
	}

	payload := body
	for _, key := range []string{"methods", "payment_methods", "data"} {
		if nested, ok := root[key]; ok {
			payload = nested
			break
		}
	}

	var asMap map[string]domain.MethodAvailability
	if err := json.Unmarshal(payload, &asMap); err == nil {
		return methodsFromMap(asMap), nil
	}

	var asList []struct {
		Name      string `json:"name"`
		Method    string `json:"method"`
		Type      string `json:"type"`
		Enabled   *bool  `json:"enabled"`
		Automated bool   `json:"automated"`
	}
	if err := json.Unmarshal(payload, &asList); err != nil {
		return domain.PaymentMethods{}, fmt.Errorf("decode payment methods: unsupported payload shape")
	}

	mapped := make(map[string]domain.MethodAvailability, len(asList))
	for _, entry := range asList {
		name := entry.Name
		if name == "" {
			name = entry.Method
		}
		if name == "" {
			name = entry.Type
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		mapped[name] = domain.MethodAvailability{Enabled: enabled, Automated: entry.Automated}
	}
	return methodsFromMap(mapped), nil
}

func methodsFromMap(m map[string]domain.MethodAvailability) domain.PaymentMethods {
	return domain.PaymentMethods{
		Card:   m[string(domain.MethodCard)],
		PayPal: m[string(domain.MethodPayPal)],
		Crypto: m[string(domain.MethodCrypto)],
	}
}

// Products fetches the public catalog.
func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	resp, err := c.get(ctx, "/products", "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpclient.ParseResponseError(resp, "commerce gateway")
	}

	var out struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode products response: %w", err)
	}
	return out.Products, nil
}

// Ping checks gateway reachability for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.get(ctx, "/payment-methods", "")
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("commerce gateway unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, sessionToken string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req, sessionToken)

	return c.http.Do(ctx, req)
}

func (c *Client) get(ctx context.Context, path, sessionToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req, sessionToken)

	return c.http.Do(ctx, req)
}

func (c *Client) setAuth(req *http.Request, sessionToken string) {
	if c.cfg.APIKey != "" {
		value := c.cfg.APIKey
		if c.cfg.AuthScheme != "" {
			value = c.cfg.AuthScheme + " " + value
		}
		req.Header.Set(c.cfg.AuthHeader, value)
	}
	if sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+sessionToken)
	}
}
