package checkout

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerochristian/robloxkeys/internal/domain"
	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
)

// --- In-memory stores ---

type memCarts struct {
	mu       sync.Mutex
	carts    map[string]*domain.Cart
	deletes  int
	getDelay time.Duration
}

func newMemCarts() *memCarts {
	return &memCarts{carts: make(map[string]*domain.Cart)}
}

func (m *memCarts) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	if m.getDelay > 0 {
		time.Sleep(m.getDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[userID]; ok {
		return c, nil
	}
	return &domain.Cart{UserID: userID}, nil
}

func (m *memCarts) Save(ctx context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[cart.UserID] = cart
	return nil
}

func (m *memCarts) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	m.deletes++
	return nil
}

type memSessions struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemSessions() *memSessions {
	return &memSessions{tokens: make(map[string]string)}
}

func (m *memSessions) Get(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.tokens[userID]; ok {
		return tok, nil
	}
	return "", apperrors.Unauthorized("no active session")
}

func (m *memSessions) Save(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}

func (m *memSessions) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, userID)
	return nil
}

type memPending struct {
	mu      sync.Mutex
	records map[string]*domain.PendingPayment
}

func newMemPending() *memPending {
	return &memPending{records: make(map[string]*domain.PendingPayment)}
}

func (m *memPending) Save(ctx context.Context, p *domain.PendingPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[p.Token] = p
	return nil
}

func (m *memPending) Get(ctx context.Context, token string) (*domain.PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.records[token]; ok {
		return p, nil
	}
	return nil, apperrors.NotFound("pending payment", token)
}

func (m *memPending) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[token]; !ok {
		return apperrors.NotFound("pending payment", token)
	}
	delete(m.records, token)
	return nil
}

func (m *memPending) DeleteByUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, p := range m.records {
		if p.UserID == userID {
			delete(m.records, tok)
		}
	}
	return nil
}

func (m *memPending) has(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[token]
	return ok
}

type memCatalog struct {
	mu       sync.Mutex
	products []domain.Product
	replaces int
}

func (m *memCatalog) Get(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.products == nil {
		return nil, apperrors.NotFound("catalog", "snapshot")
	}
	return m.products, nil
}

func (m *memCatalog) Replace(ctx context.Context, products []domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = products
	m.replaces++
	return nil
}

type memEvents struct {
	mu        sync.Mutex
	created   int
	completed int
	failed    int
}

func (m *memEvents) PaymentSessionCreated(ctx context.Context, pending *domain.PendingPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	return nil
}

func (m *memEvents) CheckoutCompleted(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	return nil
}

func (m *memEvents) CheckoutFailed(ctx context.Context, userID, orderID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	return nil
}

// --- Harness ---

type harness struct {
	machine  *Machine
	gw       *fakeGateway
	carts    *memCarts
	sessions *memSessions
	pending  *memPending
	catalog  *memCatalog
	events   *memEvents
}

func allEnabled() domain.PaymentMethods {
	return domain.PaymentMethods{
		Card:   domain.MethodAvailability{Enabled: true, Automated: true},
		PayPal: domain.MethodAvailability{Enabled: true, Automated: true},
		Crypto: domain.MethodAvailability{Enabled: true, Automated: true},
	}
}

func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Helper()
	logger := newTestLogger()

	h := &harness{
		gw:       gw,
		carts:    newMemCarts(),
		sessions: newMemSessions(),
		pending:  newMemPending(),
		catalog:  &memCatalog{},
		events:   &memEvents{},
	}

	poller := NewPollerWithBudget(gw, time.Millisecond, 24, logger)
	h.machine = NewMachine(gw, poller, h.carts, h.sessions, h.pending, h.catalog, h.events, nil, Config{
		SuccessURL: "https://shop.example.com/checkout",
		CancelURL:  "https://shop.example.com/checkout",
	}, logger)

	require.NoError(t, h.sessions.Save(context.Background(), "user-1", "bearer-token"))
	require.NoError(t, h.carts.Save(context.Background(), twoItemCart("user-1")))

	return h
}

// twoItemCart is $10 x1 + $15 x2 = $40.
func twoItemCart(userID string) *domain.Cart {
	return &domain.Cart{
		UserID: userID,
		Items: []domain.CartItem{
			{LineID: "prod-a", ProductID: "prod-a", Name: "A", Price: 10, Quantity: 1, Stock: 5},
			{LineID: "prod-b", ProductID: "prod-b", Name: "B", Price: 15, Quantity: 2, Stock: 5},
		},
	}
}

// toPayment walks a fresh attempt to the payment step.
func (h *harness) toPayment(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := h.machine.Start(ctx, "user-1")
	require.NoError(t, err)
	_, err = h.machine.OpenPayment(ctx, "user-1")
	require.NoError(t, err)
}

// --- Execute path ---

func TestMachine_StartRefusesEmptyCart(t *testing.T) {
	h := newHarness(t, &fakeGateway{methods: allEnabled()})
	require.NoError(t, h.carts.Delete(context.Background(), "user-1"))

	_, err := h.machine.Start(context.Background(), "user-1")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestMachine_CardRedirect_PersistsTokenBeforeRedirect(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	var capturedOrder *domain.Order
	gw.createFn = func(order *domain.Order, method domain.Method) (*domain.PaymentSession, error) {
		capturedOrder = order
		return &domain.PaymentSession{
			Token:       "tok-1",
			CheckoutURL: "https://pay.stripe.example/cs_1",
			SessionID:   "cs_1",
		}, nil
	}
	h := newHarness(t, gw)
	h.toPayment(t)

	outcome, err := h.machine.Execute(context.Background(), "user-1", domain.MethodCard)

	require.NoError(t, err)
	assert.Equal(t, StateProcessing, outcome.State)
	assert.Equal(t, "https://pay.stripe.example/cs_1", outcome.RedirectURL)

	// Total recomputed from the live cart: $10 x1 + $15 x2.
	require.NotNil(t, capturedOrder)
	assert.Equal(t, 40.0, capturedOrder.Total)
	assert.Equal(t, domain.OrderStatusPending, capturedOrder.Status)

	// Correlation record is durable before the redirect is surfaced.
	record, err := h.pending.Get(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, domain.MethodCard, record.Method)
	assert.Equal(t, "cs_1", record.SessionID)
	assert.Equal(t, 40.0, record.Total)

	// Cart untouched while the attempt is processing.
	cart, _ := h.carts.Get(context.Background(), "user-1")
	assert.Len(t, cart.Items, 2)
	assert.Equal(t, StateProcessing, h.machine.State("user-1"))
	assert.Equal(t, 1, h.events.created)
}

func TestMachine_ExecuteRefusesDisabledMethod(t *testing.T) {
	gw := &fakeGateway{methods: domain.PaymentMethods{
		Card: domain.MethodAvailability{Enabled: true, Automated: true},
	}}
	h := newHarness(t, gw)
	h.toPayment(t)

	_, err := h.machine.Execute(context.Background(), "user-1", domain.MethodCrypto)

	var sessionErr *PaymentSessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Contains(t, sessionErr.Message, "crypto is not available")
	assert.Equal(t, StatePayment, h.machine.State("user-1"))
}

func TestMachine_CreateFailureRevertsToPayment(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.createFn = func(*domain.Order, domain.Method) (*domain.PaymentSession, error) {
		return nil, apperrors.PaymentFailed("OxaPay minimum amount is 50.00 USD")
	}
	h := newHarness(t, gw)
	h.toPayment(t)

	_, err := h.machine.Execute(context.Background(), "user-1", domain.MethodCrypto)

	var sessionErr *PaymentSessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, "OxaPay minimum amount is 50.00 USD", sessionErr.Message)
	assert.Equal(t, StatePayment, h.machine.State("user-1"))

	// Cart preserved so the user can retry or switch methods.
	cart, _ := h.carts.Get(context.Background(), "user-1")
	assert.Len(t, cart.Items, 2)
}

func TestMachine_ExecuteSessionExpiredClearsToken(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.createFn = func(*domain.Order, domain.Method) (*domain.PaymentSession, error) {
		return nil, apperrors.Unauthorized("unauthorized")
	}
	h := newHarness(t, gw)
	h.toPayment(t)

	_, err := h.machine.Execute(context.Background(), "user-1", domain.MethodCard)

	var expired *SessionExpiredError
	require.ErrorAs(t, err, &expired)

	_, err = h.sessions.Get(context.Background(), "user-1")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestMachine_ManualFlowBuysDirectly(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.createFn = func(*domain.Order, domain.Method) (*domain.PaymentSession, error) {
		return &domain.PaymentSession{
			CheckoutURL: "https://paypal.example/me",
			Manual:      true,
		}, nil
	}
	var buyVerified bool
	gw.buyFn = func(order *domain.Order, method domain.Method, verified bool) (*domain.PurchaseResult, error) {
		buyVerified = verified
		return completedResult(), nil
	}
	h := newHarness(t, gw)
	h.toPayment(t)

	outcome, err := h.machine.Execute(context.Background(), "user-1", domain.MethodPayPal)

	require.NoError(t, err)
	assert.True(t, buyVerified)
	assert.Equal(t, StateSuccess, outcome.State)
	assert.Equal(t, "https://paypal.example/me", outcome.ProviderURL)
	assert.Equal(t, "ord-1", outcome.OrderID)

	// Cart cleared exactly once; the terminal state stays queryable.
	assert.Equal(t, 1, h.carts.deletes)
	assert.Equal(t, StateSuccess, h.machine.State("user-1"))
	assert.Equal(t, 1, h.events.completed)
}

func TestMachine_ConcurrentCheckoutRefused(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	release := make(chan struct{})
	started := make(chan struct{})
	gw.createFn = func(*domain.Order, domain.Method) (*domain.PaymentSession, error) {
		close(started)
		<-release
		return &domain.PaymentSession{Token: "tok-1", CheckoutURL: "https://pay.example/1"}, nil
	}
	h := newHarness(t, gw)
	h.toPayment(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.machine.Execute(context.Background(), "user-1", domain.MethodCard)
		done <- err
	}()

	<-started
	_, err := h.machine.Execute(context.Background(), "user-1", domain.MethodCard)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	close(release)
	require.NoError(t, <-done)
}

func TestMachine_SimultaneousExecuteCreatesOneSession(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	var creates atomic.Int64
	gw.createFn = func(*domain.Order, domain.Method) (*domain.PaymentSession, error) {
		creates.Add(1)
		return &domain.PaymentSession{Token: "tok-1", CheckoutURL: "https://pay.example/1"}, nil
	}
	h := newHarness(t, gw)
	h.toPayment(t)

	// A slow cart read widens the window between the state check and the
	// gateway call; the processing claim must still admit only one request.
	h.carts.getDelay = 50 * time.Millisecond

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.machine.Execute(context.Background(), "user-1", domain.MethodCard)
			errs <- err
		}()
	}

	var conflicts, successes int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			successes++
		default:
			require.ErrorIs(t, err, apperrors.ErrConflict)
			conflicts++
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.EqualValues(t, 1, creates.Load())
}

// --- Return path ---

func cardPending(userID string) *domain.PendingPayment {
	return &domain.PendingPayment{
		Token:     "tok-1",
		UserID:    userID,
		OrderID:   "ord-1",
		Method:    domain.MethodCard,
		SessionID: "cs_1",
		Total:     40,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMachine_HandleReturn_NoReturnInProgress(t *testing.T) {
	h := newHarness(t, &fakeGateway{methods: allEnabled()})

	outcome, err := h.machine.HandleReturn(context.Background(), "user-1", url.Values{})

	require.NoError(t, err)
	assert.Equal(t, ReturnNone, outcome.Return)
	assert.EqualValues(t, 0, h.gw.confirmCalls.Load())
}

func TestMachine_HandleReturn_CancelConsumesRecord(t *testing.T) {
	h := newHarness(t, &fakeGateway{methods: allEnabled()})
	require.NoError(t, h.pending.Save(context.Background(), cardPending("user-1")))

	outcome, err := h.machine.HandleReturn(context.Background(), "user-1", url.Values{"checkout": {"cancel"}})

	require.NoError(t, err)
	assert.Equal(t, ReturnCancel, outcome.Return)
	assert.Equal(t, StatePayment, outcome.State)
	assert.False(t, h.pending.has("tok-1"))
	assert.EqualValues(t, 0, h.gw.confirmCalls.Load())
}

func TestMachine_HandleReturn_MalformedConsumesRecord(t *testing.T) {
	h := newHarness(t, &fakeGateway{methods: allEnabled()})
	require.NoError(t, h.pending.Save(context.Background(), cardPending("user-1")))

	query := url.Values{
		"checkout":       {"success"},
		"payment_method": {"bogus"},
		"token":          {"abc"},
	}
	_, err := h.machine.HandleReturn(context.Background(), "user-1", query)

	var malformed *MalformedReturnError
	require.ErrorAs(t, err, &malformed)
	assert.False(t, h.pending.has("tok-1"))
	assert.EqualValues(t, 0, h.gw.confirmCalls.Load())
}

func cardReturnQuery() url.Values {
	return url.Values{
		"checkout":       {"success"},
		"payment_method": {"card"},
		"token":          {"tok-1"},
		"session_id":     {"cs_1"},
	}
}

func TestMachine_HandleReturn_CardSuccess(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.confirmFn = func(int64) (*domain.PurchaseResult, error) {
		result := completedResult()
		result.Products = []domain.Product{{ID: "prod-a", Name: "A", Price: 10, Stock: 4}}
		return result, nil
	}
	h := newHarness(t, gw)
	require.NoError(t, h.pending.Save(context.Background(), cardPending("user-1")))

	outcome, err := h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())

	require.NoError(t, err)
	assert.Equal(t, ReturnSuccess, outcome.Return)
	assert.Equal(t, StateSuccess, outcome.State)
	assert.Equal(t, "ord-1", outcome.OrderID)
	require.NotNil(t, outcome.Order)
	assert.Equal(t, map[string]string{"prod-1": "KEY-AAAA-BBBB"}, outcome.Order.Credentials)

	assert.EqualValues(t, 1, gw.confirmCalls.Load())
	assert.Equal(t, "tok-1", gw.lastToken)
	assert.Equal(t, "cs_1", gw.lastSecond)

	// Record consumed, cart cleared once, catalog snapshot adopted.
	assert.False(t, h.pending.has("tok-1"))
	assert.Equal(t, 1, h.carts.deletes)
	assert.Equal(t, 1, h.catalog.replaces)
	assert.Equal(t, 1, h.events.completed)
}

func TestMachine_RedirectThenReturnCompletes(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.createFn = func(*domain.Order, domain.Method) (*domain.PaymentSession, error) {
		return &domain.PaymentSession{
			Token:       "tok-1",
			CheckoutURL: "https://pay.stripe.example/cs_1",
			SessionID:   "cs_1",
		}, nil
	}
	gw.confirmFn = func(int64) (*domain.PurchaseResult, error) {
		return completedResult(), nil
	}
	h := newHarness(t, gw)
	h.toPayment(t)

	// The redirect leaves the attempt processing, suspended on the provider
	// round trip. The return in the same process must still be admitted.
	_, err := h.machine.Execute(context.Background(), "user-1", domain.MethodCard)
	require.NoError(t, err)
	require.Equal(t, StateProcessing, h.machine.State("user-1"))

	outcome, err := h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())

	require.NoError(t, err)
	assert.Equal(t, ReturnSuccess, outcome.Return)
	assert.Equal(t, StateSuccess, outcome.State)
	assert.EqualValues(t, 1, gw.confirmCalls.Load())
	assert.False(t, h.pending.has("tok-1"))
	assert.Equal(t, 1, h.carts.deletes)
}

func TestMachine_HandleReturn_ConfirmNotReissuedAfterSuccess(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.confirmFn = func(call int64) (*domain.PurchaseResult, error) {
		if call > 1 {
			return nil, apperrors.Conflict("payment already processed")
		}
		return completedResult(), nil
	}
	h := newHarness(t, gw)
	require.NoError(t, h.pending.Save(context.Background(), cardPending("user-1")))

	_, err := h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())
	require.NoError(t, err)

	// Replaying the same return must not reach the gateway again.
	_, err = h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())

	var confirmErr *ConfirmationError
	require.ErrorAs(t, err, &confirmErr)
	assert.Equal(t, "payment already processed", confirmErr.Message)
	assert.EqualValues(t, 1, gw.confirmCalls.Load())
	assert.Equal(t, 1, h.carts.deletes)
}

func TestMachine_HandleReturn_CryptoTimeoutRetainsRecord(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.confirmFn = func(int64) (*domain.PurchaseResult, error) {
		return nil, apperrors.PaymentFailed("crypto payment is pending")
	}
	h := newHarness(t, gw)

	record := cardPending("user-1")
	record.Method = domain.MethodCrypto
	record.SessionID = ""
	record.TrackID = "trk-1"
	require.NoError(t, h.pending.Save(context.Background(), record))

	query := url.Values{
		"checkout":       {"success"},
		"payment_method": {"crypto"},
		"token":          {"tok-1"},
		"track_id":       {"trk-1"},
	}
	_, err := h.machine.HandleReturn(context.Background(), "user-1", query)

	var timeout *CryptoConfirmationTimeout
	require.ErrorAs(t, err, &timeout)
	assert.EqualValues(t, 24, gw.confirmCalls.Load())

	// Retained so a refresh can resume polling.
	assert.True(t, h.pending.has("tok-1"))
	assert.Equal(t, 0, h.carts.deletes)
	assert.Equal(t, StatePayment, h.machine.State("user-1"))
}

func TestMachine_HandleReturn_NonPendingErrorConsumesRecord(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.confirmFn = func(int64) (*domain.PurchaseResult, error) {
		return nil, apperrors.PaymentFailed("card declined")
	}
	h := newHarness(t, gw)
	require.NoError(t, h.pending.Save(context.Background(), cardPending("user-1")))

	_, err := h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())

	var confirmErr *ConfirmationError
	require.ErrorAs(t, err, &confirmErr)
	assert.False(t, h.pending.has("tok-1"))
	assert.Equal(t, 1, h.events.failed)
	assert.Equal(t, StatePayment, h.machine.State("user-1"))
}

func TestMachine_HandleReturn_SessionExpiredClearsToken(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.confirmFn = func(int64) (*domain.PurchaseResult, error) {
		return nil, apperrors.Unauthorized("unauthorized")
	}
	h := newHarness(t, gw)
	require.NoError(t, h.pending.Save(context.Background(), cardPending("user-1")))

	_, err := h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())

	var expired *SessionExpiredError
	require.ErrorAs(t, err, &expired)

	_, err = h.sessions.Get(context.Background(), "user-1")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestMachine_HandleReturn_WrongUserRejected(t *testing.T) {
	h := newHarness(t, &fakeGateway{methods: allEnabled()})
	require.NoError(t, h.pending.Save(context.Background(), cardPending("user-2")))

	_, err := h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())

	var confirmErr *ConfirmationError
	require.ErrorAs(t, err, &confirmErr)
	assert.EqualValues(t, 0, h.gw.confirmCalls.Load())
	// Another user's record is not consumed.
	assert.True(t, h.pending.has("tok-1"))
}

func TestMachine_HandleReturn_MethodMismatchRejected(t *testing.T) {
	h := newHarness(t, &fakeGateway{methods: allEnabled()})
	record := cardPending("user-1")
	record.Method = domain.MethodPayPal
	require.NoError(t, h.pending.Save(context.Background(), record))

	_, err := h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())

	var confirmErr *ConfirmationError
	require.ErrorAs(t, err, &confirmErr)
	assert.Contains(t, confirmErr.Message, "mismatch")
	assert.EqualValues(t, 0, h.gw.confirmCalls.Load())
}

// --- Terminal state visibility ---

func TestMachine_SuccessStateRemainsUntilNextCheckout(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.confirmFn = func(int64) (*domain.PurchaseResult, error) {
		return completedResult(), nil
	}
	h := newHarness(t, gw)
	require.NoError(t, h.pending.Save(context.Background(), cardPending("user-1")))

	_, err := h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())
	require.NoError(t, err)

	// A state query right after the confirming response still sees success.
	assert.Equal(t, StateSuccess, h.machine.State("user-1"))

	// Starting the next checkout resets the flow.
	require.NoError(t, h.carts.Save(context.Background(), twoItemCart("user-1")))
	_, err = h.machine.Start(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, StateDetails, h.machine.State("user-1"))
}

func TestMachine_SuccessStateClearsAfterVaultWindow(t *testing.T) {
	gw := &fakeGateway{methods: allEnabled()}
	gw.confirmFn = func(int64) (*domain.PurchaseResult, error) {
		return completedResult(), nil
	}
	h := newHarness(t, gw)
	h.machine.vault = NewVaultPresenter(time.Millisecond, time.Millisecond)
	require.NoError(t, h.pending.Save(context.Background(), cardPending("user-1")))

	outcome, err := h.machine.HandleReturn(context.Background(), "user-1", cardReturnQuery())
	require.NoError(t, err)
	require.NotNil(t, outcome.Vault)

	assert.Eventually(t, func() bool {
		return h.machine.State("user-1") == StateDetails
	}, time.Second, 5*time.Millisecond)
}
