package checkout

import (
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
)

// PaymentSessionError means payment session creation failed. Recoverable:
// the user keeps the cart and may retry or pick another method.
type PaymentSessionError struct {
	Message string
	Err     error
}

func (e *PaymentSessionError) Error() string {
	return e.Message
}

func (e *PaymentSessionError) Unwrap() error {
	return e.Err
}

// ConfirmationError is a non-retryable confirmation failure: card/paypal, or
// crypto with a non-pending message. Surfaced verbatim to the user.
type ConfirmationError struct {
	Message string
	Err     error
}

func (e *ConfirmationError) Error() string {
	return e.Message
}

func (e *ConfirmationError) Unwrap() error {
	return e.Err
}

// CryptoConfirmationTimeout means the crypto retry budget was exhausted while
// the payment was still pending. The pending-payment record is retained so a
// refresh can resume polling.
type CryptoConfirmationTimeout struct {
	Attempts int
}

func (e *CryptoConfirmationTimeout) Error() string {
	return fmt.Sprintf("crypto payment still pending after %d confirmation attempts; wait a moment and refresh", e.Attempts)
}

// SessionExpiredError means the gateway rejected the user's session token.
// The local session is cleared and the user must re-authenticate.
type SessionExpiredError struct {
	Err error
}

func (e *SessionExpiredError) Error() string {
	return "session expired, please sign in again"
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Err
}

// MalformedReturnError means the provider return URL is missing required
// fields. Consumed silently; no confirm call is issued.
type MalformedReturnError struct {
	Reason string
}

func (e *MalformedReturnError) Error() string {
	return "malformed payment return: " + e.Reason
}

// pendingVocabulary is the set of gateway error-message fragments that mean
// a crypto payment has not settled yet. Matching is a case-insensitive
// substring check; this mirrors the gateway's message wording exactly and
// must not be widened without coordinating with it.
var pendingVocabulary = []string{
	"pending",
	"waiting",
	"paying",
	"confirming",
	"not completed",
}

// isPendingMessage classifies a confirmation error as "still pending".
func isPendingMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, word := range pendingVocabulary {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// isSessionExpired detects a 401-shaped gateway error.
func isSessionExpired(err error) bool {
	return errors.Is(err, apperrors.ErrUnauthorized)
}
