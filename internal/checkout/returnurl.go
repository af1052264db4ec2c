package checkout

import (
	"net/url"

	"github.com/nerochristian/robloxkeys/internal/domain"
)

// ReturnStatus is the outcome reported by a provider redirect.
type ReturnStatus string

const (
	// ReturnNone means the request is not a payment return at all.
	ReturnNone ReturnStatus = ""

	ReturnSuccess ReturnStatus = "success"
	ReturnCancel  ReturnStatus = "cancel"
)

// Return is the parsed result of a provider return URL.
type Return struct {
	Status ReturnStatus
	Method domain.Method

	// Token is the correlation token issued at session creation.
	Token string

	// SecondaryID is the provider-specific confirmation id: the Stripe
	// session id for card, the crypto track id for crypto.
	SecondaryID string
}

// ParseReturn interprets provider return query parameters. It is a pure
// function with no side effects; the caller consumes the pending-payment
// record once the result has been acted on.
//
// Absent `checkout` means no return is in progress (the common case).
// `checkout=cancel` reports cancellation without needing any other field.
// `checkout=success` requires a known `payment_method` and a `token`;
// anything else is a MalformedReturnError and no confirmation is attempted.
func ParseReturn(query url.Values) (*Return, error) {
	outcome := query.Get("checkout")
	if outcome == "" {
		return &Return{Status: ReturnNone}, nil
	}

	if outcome == "cancel" {
		return &Return{Status: ReturnCancel}, nil
	}

	if outcome != "success" {
		return nil, &MalformedReturnError{Reason: "unknown checkout outcome " + outcome}
	}

	method, err := domain.ParseMethod(query.Get("payment_method"))
	if err != nil {
		return nil, &MalformedReturnError{Reason: "missing or unknown payment_method"}
	}

	token := query.Get("token")
	if token == "" {
		return nil, &MalformedReturnError{Reason: "missing token"}
	}

	ret := &Return{
		Status: ReturnSuccess,
		Method: method,
		Token:  token,
	}

	switch method {
	case domain.MethodCard:
		ret.SecondaryID = query.Get("session_id")
	case domain.MethodCrypto:
		// Providers have used both spellings.
		ret.SecondaryID = query.Get("track_id")
		if ret.SecondaryID == "" {
			ret.SecondaryID = query.Get("trackId")
		}
	case domain.MethodPayPal:
		// PayPal's order id is carried in the pending-payment record, not
		// the return URL.
	}

	return ret, nil
}
