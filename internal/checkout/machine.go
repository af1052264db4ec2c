package checkout

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/nerochristian/robloxkeys/internal/domain"
	"github.com/nerochristian/robloxkeys/internal/repository"
	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
)

// State is a checkout attempt's position in the flow.
type State string

const (
	StateDetails    State = "details"
	StatePayment    State = "payment"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
)

// EventPublisher emits checkout lifecycle events. Publishing is best effort;
// failures are logged and never fail the checkout.
type EventPublisher interface {
	PaymentSessionCreated(ctx context.Context, pending *domain.PendingPayment) error
	CheckoutCompleted(ctx context.Context, order *domain.Order) error
	CheckoutFailed(ctx context.Context, userID, orderID, reason string) error
}

// Outcome is the result of advancing a checkout attempt.
type Outcome struct {
	State  State
	Return ReturnStatus

	// RedirectURL, when set, is where the user must be sent to complete
	// payment with the external provider.
	RedirectURL string

	// ProviderURL is the manual-flow provider link, opened for reference
	// only; the purchase completes without a redirect round trip.
	ProviderURL string

	Order    *domain.Order
	Products []domain.Product
	OrderID  string

	// Vault is the post-purchase presentation sequence, started on the
	// success edge. Nil when no presenter is configured.
	Vault *VaultTransition
}

// attempt is one user's in-flight checkout. The machine is the single writer
// of the cart and session for the duration of the attempt.
type attempt struct {
	state   State
	methods *domain.PaymentMethods

	// awaitingReturn marks a processing attempt that is suspended on the
	// provider redirect. Only such attempts may be claimed by the return
	// flow; any other processing attempt has a request actively driving it.
	awaitingReturn bool

	cartCleared bool
}

// Config holds checkout flow settings.
type Config struct {
	// SuccessURL and CancelURL are where the external provider sends the
	// user back. The provider appends the return query parameters.
	SuccessURL string
	CancelURL  string
}

// Machine orchestrates the checkout flow: details -> payment -> processing
// -> success, with the error edge processing -> payment. It owns cart and
// session reconciliation; no other component mutates them mid-checkout.
type Machine struct {
	gateway  Gateway
	poller   *Poller
	carts    repository.CartStore
	sessions repository.SessionStore
	pending  repository.PendingPaymentStore
	catalog  repository.CatalogCache
	events   EventPublisher
	vault    *VaultPresenter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]*attempt
}

// NewMachine creates the checkout state machine.
func NewMachine(
	gateway Gateway,
	poller *Poller,
	carts repository.CartStore,
	sessions repository.SessionStore,
	pending repository.PendingPaymentStore,
	catalog repository.CatalogCache,
	events EventPublisher,
	vault *VaultPresenter,
	cfg Config,
	logger *slog.Logger,
) *Machine {
	return &Machine{
		gateway:  gateway,
		poller:   poller,
		carts:    carts,
		sessions: sessions,
		pending:  pending,
		catalog:  catalog,
		events:   events,
		vault:    vault,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		attempts: make(map[string]*attempt),
	}
}

// State reports the user's current checkout state. Users with no attempt in
// flight are at details.
func (m *Machine) State(userID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[userID]; ok {
		return a.state
	}
	return StateDetails
}

// Start opens a checkout attempt at details with the user's current cart.
// A new attempt is refused while an existing one is processing.
func (m *Machine) Start(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := m.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, apperrors.InvalidInput("cart is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[userID]; ok && a.state == StateProcessing {
		return nil, apperrors.Conflict("a checkout is already in progress")
	}
	m.attempts[userID] = &attempt{state: StateDetails}

	return cart, nil
}

// OpenPayment moves the attempt from details to payment and fetches
// provider availability once for the attempt.
func (m *Machine) OpenPayment(ctx context.Context, userID string) (domain.PaymentMethods, error) {
	a, err := m.attemptIn(userID, StateDetails, StatePayment)
	if err != nil {
		return domain.PaymentMethods{}, err
	}

	token, err := m.sessionToken(ctx, userID)
	if err != nil {
		return domain.PaymentMethods{}, err
	}

	methods, err := m.gateway.PaymentMethods(ctx, token)
	if err != nil {
		if isSessionExpired(err) {
			return domain.PaymentMethods{}, m.expireSession(ctx, userID, err)
		}
		return domain.PaymentMethods{}, err
	}

	m.transition(userID, a, StatePayment)
	m.mu.Lock()
	a.methods = &methods
	m.mu.Unlock()

	return methods, nil
}

// Execute runs the payment step for the selected method. On a redirect
// session it persists the correlation record, hands out the provider URL,
// and leaves the attempt processing until the provider return. On a manual
// session it completes the purchase directly. Any failure reverts the
// attempt to payment with the cart intact.
func (m *Machine) Execute(ctx context.Context, userID string, method domain.Method) (*Outcome, error) {
	m.mu.Lock()
	a, ok := m.attempts[userID]
	if !ok {
		m.mu.Unlock()
		return nil, apperrors.InvalidInput("no checkout in progress")
	}
	if a.state == StateProcessing {
		m.mu.Unlock()
		return nil, apperrors.Conflict("a checkout is already in progress")
	}
	if a.state != StatePayment {
		m.mu.Unlock()
		return nil, apperrors.InvalidInput("checkout is not at the payment step")
	}
	methods := a.methods
	// Claim processing inside the same critical section as the state check;
	// a concurrent Execute must not also reach the gateway. Every failure
	// below reverts the attempt to payment.
	a.state = StateProcessing
	m.mu.Unlock()
	stateTransitions.WithLabelValues(string(StatePayment), string(StateProcessing)).Inc()

	// Pre-flight availability guard. Refusal is explanatory and leaves the
	// attempt at payment.
	if methods != nil && !methods.For(method).Enabled {
		m.transition(userID, a, StatePayment)
		return nil, &PaymentSessionError{Message: string(method) + " is not available"}
	}

	token, err := m.sessionToken(ctx, userID)
	if err != nil {
		m.transition(userID, a, StatePayment)
		return nil, err
	}

	cart, err := m.carts.Get(ctx, userID)
	if err != nil {
		m.transition(userID, a, StatePayment)
		return nil, err
	}
	if len(cart.Items) == 0 {
		m.transition(userID, a, StatePayment)
		return nil, apperrors.InvalidInput("cart is empty")
	}

	// The total is recomputed from the cart lines inside the draft builder.
	order := domain.NewOrderDraft(cart, m.now())

	session, err := m.gateway.CreatePayment(ctx, token, order, method, m.cfg.SuccessURL, m.cfg.CancelURL)
	if err != nil {
		m.transition(userID, a, StatePayment)
		if isSessionExpired(err) {
			return nil, m.expireSession(ctx, userID, err)
		}
		return nil, &PaymentSessionError{Message: userMessage(err), Err: err}
	}

	if session.RequiresRedirect() {
		return m.beginRedirect(ctx, userID, a, order, method, session)
	}
	return m.buyManual(ctx, userID, a, token, order, method, session)
}

// beginRedirect persists the correlation record and hands out the provider
// URL. The record must be durable before the user leaves, otherwise the
// return flow has nothing to resume from.
func (m *Machine) beginRedirect(ctx context.Context, userID string, a *attempt, order *domain.Order, method domain.Method, session *domain.PaymentSession) (*Outcome, error) {
	record := &domain.PendingPayment{
		Token:         session.Token,
		UserID:        userID,
		OrderID:       order.ID,
		Method:        method,
		SessionID:     session.SessionID,
		TrackID:       session.TrackID,
		PayPalOrderID: session.PayPalOrderID,
		Total:         order.Total,
		CreatedAt:     m.now(),
	}

	if err := m.pending.Save(ctx, record); err != nil {
		m.transition(userID, a, StatePayment)
		return nil, &PaymentSessionError{Message: "could not start the payment, please try again", Err: err}
	}

	if err := m.events.PaymentSessionCreated(ctx, record); err != nil {
		m.logger.WarnContext(ctx, "publish payment session event", slog.String("error", err.Error()))
	}
	paymentSessions.WithLabelValues(string(method), "redirect").Inc()

	// The attempt is now suspended on the provider redirect; the return flow
	// claims it when the user comes back.
	m.mu.Lock()
	a.awaitingReturn = true
	m.mu.Unlock()

	return &Outcome{State: StateProcessing, RedirectURL: session.CheckoutURL}, nil
}

// buyManual completes a manual-flow purchase with a direct buy call.
func (m *Machine) buyManual(ctx context.Context, userID string, a *attempt, token string, order *domain.Order, method domain.Method, session *domain.PaymentSession) (*Outcome, error) {
	paymentSessions.WithLabelValues(string(method), "manual").Inc()

	result, err := m.gateway.Buy(ctx, token, order, method, true)
	if err != nil {
		m.transition(userID, a, StatePayment)
		m.publishFailed(ctx, userID, order.ID, err)
		if isSessionExpired(err) {
			return nil, m.expireSession(ctx, userID, err)
		}
		return nil, &ConfirmationError{Message: userMessage(err), Err: err}
	}

	outcome := m.finalize(ctx, userID, a, result)
	outcome.ProviderURL = session.CheckoutURL
	return outcome, nil
}

// HandleReturn interprets a provider return and drives confirmation. The
// pending-payment record is consumed on every outcome except the
// crypto-pending timeout, which retains it so a refresh resumes polling.
func (m *Machine) HandleReturn(ctx context.Context, userID string, query url.Values) (*Outcome, error) {
	ret, err := ParseReturn(query)
	if err != nil {
		// Malformed returns are consumed without confirming anything.
		if derr := m.pending.DeleteByUser(ctx, userID); derr != nil {
			m.logger.WarnContext(ctx, "consume pending payment", slog.String("error", derr.Error()))
		}
		return nil, err
	}

	switch ret.Status {
	case ReturnNone:
		return &Outcome{Return: ReturnNone, State: m.State(userID)}, nil
	case ReturnCancel:
		if derr := m.pending.DeleteByUser(ctx, userID); derr != nil {
			m.logger.WarnContext(ctx, "consume pending payment", slog.String("error", derr.Error()))
		}
		a := m.ensureAttempt(userID)
		m.transition(userID, a, StatePayment)
		return &Outcome{Return: ReturnCancel, State: StatePayment}, nil
	}

	record, err := m.pending.Get(ctx, ret.Token)
	if err != nil {
		// Unknown or already-consumed token. The confirm call was already
		// issued (or never created); it must not be issued again.
		return nil, &ConfirmationError{Message: "payment already processed", Err: err}
	}
	if record.UserID != userID {
		return nil, &ConfirmationError{Message: "payment token does not belong to this user"}
	}
	if record.Method != ret.Method {
		_ = m.pending.Delete(ctx, ret.Token)
		return nil, &ConfirmationError{Message: "payment method mismatch"}
	}

	a := m.ensureAttempt(userID)
	if err := m.claimConfirm(a); err != nil {
		return nil, err
	}

	token, err := m.sessionToken(ctx, userID)
	if err != nil {
		m.transition(userID, a, StatePayment)
		return nil, err
	}

	secondaryID := ret.SecondaryID
	if secondaryID == "" {
		secondaryID = record.SecondaryID()
	}

	result, err := m.poller.Confirm(ctx, token, ret.Token, secondaryID, record.Method)
	if err != nil {
		m.transition(userID, a, StatePayment)

		var timeout *CryptoConfirmationTimeout
		if errors.As(err, &timeout) {
			// Retained on purpose: a refresh resumes polling.
			return nil, err
		}

		if derr := m.pending.Delete(ctx, ret.Token); derr != nil {
			m.logger.WarnContext(ctx, "consume pending payment", slog.String("error", derr.Error()))
		}
		m.publishFailed(ctx, userID, record.OrderID, err)

		var expired *SessionExpiredError
		if errors.As(err, &expired) {
			if derr := m.sessions.Delete(ctx, userID); derr != nil {
				m.logger.WarnContext(ctx, "clear session", slog.String("error", derr.Error()))
			}
		}
		return nil, err
	}

	if derr := m.pending.Delete(ctx, ret.Token); derr != nil {
		m.logger.WarnContext(ctx, "consume pending payment", slog.String("error", derr.Error()))
	}

	outcome := m.finalize(ctx, userID, a, result)
	outcome.Return = ReturnSuccess
	return outcome, nil
}

// finalize runs the terminal success edge: clear the cart exactly once,
// adopt the refreshed catalog, publish the completion event, and start the
// vault presentation.
func (m *Machine) finalize(ctx context.Context, userID string, a *attempt, result *domain.PurchaseResult) *Outcome {
	m.mu.Lock()
	cleared := a.cartCleared
	a.cartCleared = true
	m.mu.Unlock()

	if !cleared {
		if err := m.carts.Delete(ctx, userID); err != nil {
			m.logger.ErrorContext(ctx, "clear cart after purchase", slog.String("error", err.Error()))
		}
	}

	if len(result.Products) > 0 {
		if err := m.catalog.Replace(ctx, result.Products); err != nil {
			m.logger.WarnContext(ctx, "replace catalog snapshot", slog.String("error", err.Error()))
		}
	}

	if result.Order != nil {
		if err := m.events.CheckoutCompleted(ctx, result.Order); err != nil {
			m.logger.WarnContext(ctx, "publish checkout completed", slog.String("error", err.Error()))
		}
	}

	m.transition(userID, a, StateSuccess)

	// The attempt stays at success so the state remains queryable after the
	// confirming response: until the vault presentation ends when one is
	// configured, otherwise until the next checkout starts.
	var vault *VaultTransition
	if m.vault != nil {
		vault = m.vault.Begin()
		go func(owned *attempt, tr *VaultTransition) {
			<-tr.Done()
			m.mu.Lock()
			if cur, ok := m.attempts[userID]; ok && cur == owned {
				delete(m.attempts, userID)
			}
			m.mu.Unlock()
		}(a, vault)
	}

	orderID := result.OrderID
	if orderID == "" && result.Order != nil {
		orderID = result.Order.ID
	}

	return &Outcome{
		State:    StateSuccess,
		Order:    result.Order,
		Products: result.Products,
		OrderID:  orderID,
		Vault:    vault,
	}
}

func (m *Machine) sessionToken(ctx context.Context, userID string) (string, error) {
	token, err := m.sessions.Get(ctx, userID)
	if err != nil || token == "" {
		return "", &SessionExpiredError{Err: err}
	}
	return token, nil
}

// expireSession clears the stored session token and reports expiry.
func (m *Machine) expireSession(ctx context.Context, userID string, cause error) error {
	if err := m.sessions.Delete(ctx, userID); err != nil {
		m.logger.WarnContext(ctx, "clear session", slog.String("error", err.Error()))
	}
	return &SessionExpiredError{Err: cause}
}

func (m *Machine) publishFailed(ctx context.Context, userID, orderID string, cause error) {
	if err := m.events.CheckoutFailed(ctx, userID, orderID, userMessage(cause)); err != nil {
		m.logger.WarnContext(ctx, "publish checkout failed", slog.String("error", err.Error()))
	}
}

// attemptIn asserts the attempt is at the expected state and returns it. The
// target is only used for the error message.
func (m *Machine) attemptIn(userID string, expected, target State) (*attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[userID]
	if !ok {
		return nil, apperrors.InvalidInput("no checkout in progress")
	}
	if a.state == StateProcessing {
		return nil, apperrors.Conflict("a checkout is already in progress")
	}
	if a.state != expected && a.state != target {
		return nil, apperrors.InvalidInput("checkout is not at the " + string(expected) + " step")
	}
	return a, nil
}

// claimConfirm takes the attempt into processing for a confirmation run. An
// attempt that is already processing is claimable only while it is suspended
// on the provider redirect; otherwise another request is driving it.
func (m *Machine) claimConfirm(a *attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.state == StateProcessing && !a.awaitingReturn {
		return apperrors.Conflict("a confirmation is already in progress")
	}
	a.awaitingReturn = false
	if a.state != StateProcessing {
		stateTransitions.WithLabelValues(string(a.state), string(StateProcessing)).Inc()
		a.state = StateProcessing
	}
	return nil
}

// ensureAttempt returns the user's attempt, creating one when the process
// restarted between redirect and return.
func (m *Machine) ensureAttempt(userID string) *attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[userID]; ok {
		return a
	}
	a := &attempt{state: StatePayment}
	m.attempts[userID] = a
	return a
}

func (m *Machine) transition(userID string, a *attempt, to State) {
	m.mu.Lock()
	from := a.state
	a.state = to
	m.mu.Unlock()
	if from != to {
		stateTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
}
