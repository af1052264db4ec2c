package domain

import (
	"fmt"
	"time"
)

// Method identifies a payment provider. The set is closed; dispatch on it
// with exhaustive switches.
type Method string

const (
	MethodCard   Method = "card"
	MethodPayPal Method = "paypal"
	MethodCrypto Method = "crypto"
)

// ParseMethod validates a provider tag from user input or a return URL.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodCard, MethodPayPal, MethodCrypto:
		return Method(s), nil
	default:
		return "", fmt.Errorf("unknown payment method %q", s)
	}
}

// MethodAvailability is one provider's configuration as reported by the
// gateway. Automated means the provider completes through a redirect round
// trip rather than the manual flow.
type MethodAvailability struct {
	Enabled   bool `json:"enabled"`
	Automated bool `json:"automated"`
}

// PaymentMethods is the gateway's availability report for all providers.
type PaymentMethods struct {
	Card   MethodAvailability `json:"card"`
	PayPal MethodAvailability `json:"paypal"`
	Crypto MethodAvailability `json:"crypto"`
}

// For returns the availability entry for the given method.
func (m PaymentMethods) For(method Method) MethodAvailability {
	switch method {
	case MethodCard:
		return m.Card
	case MethodPayPal:
		return m.PayPal
	case MethodCrypto:
		return m.Crypto
	default:
		return MethodAvailability{}
	}
}

// PaymentSession is the ephemeral gateway-issued session for one checkout
// attempt. Exactly one of CheckoutURL-with-redirect or Manual applies; it is
// consumed once and never reused.
type PaymentSession struct {
	Token         string `json:"token"`
	CheckoutURL   string `json:"checkoutUrl,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	TrackID       string `json:"trackId,omitempty"`
	PayPalOrderID string `json:"paypalOrderId,omitempty"`
	Manual        bool   `json:"manual"`
}

// RequiresRedirect reports whether the session must go through a provider
// redirect round trip before confirmation.
func (s PaymentSession) RequiresRedirect() bool {
	return !s.Manual && s.CheckoutURL != ""
}

// PendingPayment is the durable correlation record persisted before handing
// out a provider redirect, so the confirmation flow can resume after the
// external round trip.
type PendingPayment struct {
	Token         string    `json:"token"`
	UserID        string    `json:"user_id"`
	OrderID       string    `json:"order_id"`
	Method        Method    `json:"method"`
	SessionID     string    `json:"session_id,omitempty"`
	TrackID       string    `json:"track_id,omitempty"`
	PayPalOrderID string    `json:"paypal_order_id,omitempty"`
	Total         float64   `json:"total"`
	CreatedAt     time.Time `json:"created_at"`
}

// SecondaryID returns the provider-specific confirmation id stored with the
// record.
func (p *PendingPayment) SecondaryID() string {
	switch p.Method {
	case MethodCard:
		return p.SessionID
	case MethodCrypto:
		return p.TrackID
	case MethodPayPal:
		return p.PayPalOrderID
	default:
		return ""
	}
}

// PurchaseResult is the gateway's answer to a successful confirmation or
// manual purchase. Products, when present, is the authoritative refreshed
// catalog snapshot and replaces any cached catalog.
type PurchaseResult struct {
	Order    *Order    `json:"order,omitempty"`
	Products []Product `json:"products,omitempty"`
	OrderID  string    `json:"orderId,omitempty"`
}
