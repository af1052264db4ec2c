package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nerochristian/robloxkeys/internal/domain"
	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
)

// Gateway is the slice of the commerce gateway the checkout flow consumes.
type Gateway interface {
	CreatePayment(ctx context.Context, sessionToken string, order *domain.Order, method domain.Method, successURL, cancelURL string) (*domain.PaymentSession, error)
	ConfirmPayment(ctx context.Context, sessionToken, token, secondaryID string, method domain.Method) (*domain.PurchaseResult, error)
	Buy(ctx context.Context, sessionToken string, order *domain.Order, method domain.Method, paymentVerified bool) (*domain.PurchaseResult, error)
	PaymentMethods(ctx context.Context, sessionToken string) (domain.PaymentMethods, error)
}

const (
	// defaultCryptoDelay is the fixed wait between crypto confirmation
	// attempts while the payment is still settling on-chain.
	defaultCryptoDelay = 5000 * time.Millisecond

	// defaultCryptoMaxAttempts bounds the crypto polling loop (~2 minutes).
	defaultCryptoMaxAttempts = 24
)

// Poller drives the provider-specific confirmation protocol: a single
// attempt for card and PayPal, bounded fixed-delay polling for crypto.
type Poller struct {
	gateway     Gateway
	delay       time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewPoller creates a confirmation poller with the default crypto polling
// budget.
func NewPoller(gateway Gateway, logger *slog.Logger) *Poller {
	return &Poller{
		gateway:     gateway,
		delay:       defaultCryptoDelay,
		maxAttempts: defaultCryptoMaxAttempts,
		logger:      logger,
	}
}

// NewPollerWithBudget creates a poller with an explicit delay and attempt
// budget for the crypto loop.
func NewPollerWithBudget(gateway Gateway, delay time.Duration, maxAttempts int, logger *slog.Logger) *Poller {
	if delay <= 0 {
		delay = defaultCryptoDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultCryptoMaxAttempts
	}
	return &Poller{
		gateway:     gateway,
		delay:       delay,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Confirm finalizes a payment with the gateway.
//
// Card and PayPal get exactly one attempt; any failure propagates as a
// ConfirmationError (or SessionExpiredError for a 401). Crypto retries while
// the gateway reports the payment as still pending, waiting the fixed delay
// between attempts, up to the attempt budget. A non-pending error stops the
// loop immediately. Exhausting the budget yields CryptoConfirmationTimeout;
// the caller must keep the pending-payment record so a refresh can resume.
// The loop honors ctx cancellation between attempts.
func (p *Poller) Confirm(ctx context.Context, sessionToken, token, secondaryID string, method domain.Method) (*domain.PurchaseResult, error) {
	switch method {
	case domain.MethodCard, domain.MethodPayPal:
		return p.confirmOnce(ctx, sessionToken, token, secondaryID, method)
	case domain.MethodCrypto:
		return p.confirmCrypto(ctx, sessionToken, token, secondaryID)
	default:
		return nil, &ConfirmationError{Message: "unknown payment method " + string(method)}
	}
}

func (p *Poller) confirmOnce(ctx context.Context, sessionToken, token, secondaryID string, method domain.Method) (*domain.PurchaseResult, error) {
	result, err := p.gateway.ConfirmPayment(ctx, sessionToken, token, secondaryID, method)
	if err != nil {
		confirmationAttempts.WithLabelValues(string(method), "error").Inc()
		if isSessionExpired(err) {
			return nil, &SessionExpiredError{Err: err}
		}
		return nil, &ConfirmationError{Message: userMessage(err), Err: err}
	}

	confirmationAttempts.WithLabelValues(string(method), "ok").Inc()
	return result, nil
}

func (p *Poller) confirmCrypto(ctx context.Context, sessionToken, token, secondaryID string) (*domain.PurchaseResult, error) {
	method := string(domain.MethodCrypto)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result, err := p.gateway.ConfirmPayment(ctx, sessionToken, token, secondaryID, domain.MethodCrypto)
		if err == nil {
			confirmationAttempts.WithLabelValues(method, "ok").Inc()
			return result, nil
		}

		if isSessionExpired(err) {
			confirmationAttempts.WithLabelValues(method, "error").Inc()
			return nil, &SessionExpiredError{Err: err}
		}

		if !isPendingMessage(userMessage(err)) {
			confirmationAttempts.WithLabelValues(method, "error").Inc()
			return nil, &ConfirmationError{Message: userMessage(err), Err: err}
		}

		confirmationAttempts.WithLabelValues(method, "pending").Inc()
		p.logger.InfoContext(ctx, "crypto payment still pending",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.maxAttempts),
		)

		if attempt == p.maxAttempts {
			break
		}

		if err := sleep(ctx, p.delay); err != nil {
			return nil, err
		}
	}

	confirmationAttempts.WithLabelValues(method, "timeout").Inc()
	return nil, &CryptoConfirmationTimeout{Attempts: p.maxAttempts}
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// userMessage extracts the user-facing message from a gateway error.
func userMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
