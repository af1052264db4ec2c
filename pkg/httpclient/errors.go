package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
)

// RemoteErrorResponse mirrors the `{ "ok": false, "message": "..." }`
// envelope the commerce gateway returns on failures.
type RemoteErrorResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an AppError, preserving the remote message when the body matches
// the gateway envelope. The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var remote RemoteErrorResponse
	if json.Unmarshal(bodyBytes, &remote) == nil && remote.Message != "" {
		return mapRemoteError(resp.StatusCode, remote.Message, serviceName)
	}

	// Unstructured error body.
	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(bodyBytes))
}

// mapRemoteError translates the remote status code and message into an
// AppError that keeps the error semantics across the service boundary.
func mapRemoteError(status int, message, serviceName string) error {
	switch {
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(message)
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusConflict:
		return apperrors.Conflict(message)
	case status == http.StatusPaymentRequired, status == http.StatusUnprocessableEntity:
		return apperrors.PaymentFailed(message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(message)
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(message)
	case status >= 500:
		return fmt.Errorf("%s server error (%d): %s", serviceName, status, message)
	default:
		return &apperrors.AppError{
			Code:    "REMOTE_ERROR",
			Message: message,
			Status:  status,
		}
	}
}
