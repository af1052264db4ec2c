package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nerochristian/robloxkeys/internal/checkout"
	"github.com/nerochristian/robloxkeys/internal/domain"
	"github.com/nerochristian/robloxkeys/pkg/httputil"
	"github.com/nerochristian/robloxkeys/pkg/validator"
)

// CheckoutHandler exposes the checkout state machine over HTTP.
type CheckoutHandler struct {
	machine *checkout.Machine
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(machine *checkout.Machine, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		machine: machine,
		logger:  logger,
	}
}

// ExecuteRequest is the JSON request body for executing a payment.
type ExecuteRequest struct {
	Method string `json:"method" validate:"required,oneof=card paypal crypto"`
}

// checkoutView is the state payload returned by checkout endpoints.
type checkoutView struct {
	State       checkout.State        `json:"state"`
	Return      checkout.ReturnStatus `json:"return,omitempty"`
	RedirectURL string                `json:"redirect_url,omitempty"`
	ProviderURL string                `json:"provider_url,omitempty"`
	Order       *domain.Order         `json:"order,omitempty"`
	Products    []domain.Product      `json:"products,omitempty"`
	OrderID     string                `json:"order_id,omitempty"`
	VaultPhase  checkout.VaultPhase   `json:"vault_phase,omitempty"`
}

func viewOf(o *checkout.Outcome) checkoutView {
	view := checkoutView{
		State:       o.State,
		Return:      o.Return,
		RedirectURL: o.RedirectURL,
		ProviderURL: o.ProviderURL,
		Order:       o.Order,
		Products:    o.Products,
		OrderID:     o.OrderID,
	}
	if o.Vault != nil {
		view.VaultPhase = o.Vault.Phase()
	}
	return view
}

// Start handles POST /api/v1/checkout/start
func (h *CheckoutHandler) Start(w http.ResponseWriter, r *http.Request) {
	cart, err := h.machine.Start(r.Context(), userID(r))
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"state": checkout.StateDetails,
		"cart":  cart,
		"total": cart.Total(),
	}})
}

// OpenPayment handles POST /api/v1/checkout/payment
func (h *CheckoutHandler) OpenPayment(w http.ResponseWriter, r *http.Request) {
	methods, err := h.machine.OpenPayment(r.Context(), userID(r))
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"state":   checkout.StatePayment,
		"methods": methods,
	}})
}

// Execute handles POST /api/v1/checkout/execute
func (h *CheckoutHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	method, err := domain.ParseMethod(req.Method)
	if err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	outcome, err := h.machine.Execute(r.Context(), userID(r), method)
	if err != nil {
		h.writeCheckoutError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: viewOf(outcome)})
}

// HandleReturn handles GET /api/v1/checkout/return. The external provider
// redirects the user's browser here; the query parameters carry the outcome.
func (h *CheckoutHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.machine.HandleReturn(r.Context(), userID(r), r.URL.Query())
	if err != nil {
		// Malformed returns are consumed silently: likely a stale link or
		// bookmark, not a user mistake.
		var malformed *checkout.MalformedReturnError
		if errors.As(err, &malformed) {
			h.logger.InfoContext(r.Context(), "malformed payment return ignored",
				slog.String("reason", malformed.Reason),
			)
			httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: checkoutView{
				State: h.machine.State(userID(r)),
			}})
			return
		}
		h.writeCheckoutError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: viewOf(outcome)})
}

// GetState handles GET /api/v1/checkout/state
func (h *CheckoutHandler) GetState(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: checkoutView{
		State: h.machine.State(userID(r)),
	}})
}

// writeCheckoutError maps checkout errors onto the response envelope. The
// checkout flow's typed errors carry user-facing messages; everything else
// goes through the standard mapping.
func (h *CheckoutHandler) writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var sessionErr *checkout.PaymentSessionError
	if errors.As(err, &sessionErr) {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "PAYMENT_SESSION_FAILED", Message: sessionErr.Message},
		})
		return
	}

	var confirmErr *checkout.ConfirmationError
	if errors.As(err, &confirmErr) {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "CONFIRMATION_FAILED", Message: confirmErr.Message},
		})
		return
	}

	var timeout *checkout.CryptoConfirmationTimeout
	if errors.As(err, &timeout) {
		httputil.WriteJSON(w, http.StatusPaymentRequired, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "CRYPTO_PENDING", Message: timeout.Error()},
		})
		return
	}

	var expired *checkout.SessionExpiredError
	if errors.As(err, &expired) {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "SESSION_EXPIRED", Message: expired.Error()},
		})
		return
	}

	httputil.WriteError(w, r, err, h.logger)
}
