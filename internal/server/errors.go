package server

import (
	"errors"
	"net/http"
	"strings"

	"booklend/internal/notify"
	"booklend/internal/util"
	"booklend/pkg/domain"
)

type errorResponse struct {
	Error     string           `json:"error"`
	Code      string           `json:"code"`
	IDs       map[string]int64 `json:"ids,omitempty"`
	RequestID string           `json:"requestId,omitempty"`

	// Fields older clients read on the credential endpoints.
	Valid   *bool `json:"valid,omitempty"`
	Message *bool `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorResponse(w, status, errorResponse{Error: msg})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp errorResponse) {
	if resp.Code == "" {
		resp.Code = errorCodeFor(status, resp.Error)
	}
	resp.RequestID = strings.TrimSpace(w.Header().Get("X-Request-Id"))
	writeJSON(w, status, resp)
}

// statusFor maps an error kind onto an HTTP status. conflictStatus is the
// status the endpoint uses for state conflicts.
func statusFor(err error, conflictStatus int) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return conflictStatus
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusBadRequest
	}
	if errors.Is(err, notify.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// appError builds the response for a lending error. Infrastructure failures
// are logged and reported without detail.
func appError(r *http.Request, err error, conflictStatus int) (int, errorResponse) {
	status := statusFor(err, conflictStatus)
	var de *domain.Error
	if errors.As(err, &de) {
		return status, errorResponse{
			Error: de.Error(),
			Code:  codeForKind(de.Kind),
			IDs:   de.IDs,
		}
	}
	if status == http.StatusServiceUnavailable {
		return status, errorResponse{Error: "shutting down", Code: "SYSTEM_UNAVAILABLE"}
	}
	util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	return status, errorResponse{Error: "internal error", Code: "SYSTEM_INTERNAL_ERROR"}
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error, conflictStatus int) {
	status, resp := appError(r, err, conflictStatus)
	writeErrorResponse(w, status, resp)
}

func codeForKind(kind domain.ErrorKind) string {
	switch kind {
	case domain.KindNotFound:
		return "LEND_NOT_FOUND"
	case domain.KindConflict:
		return "LEND_CONFLICT"
	case domain.KindForbidden:
		return "LEND_FORBIDDEN"
	default:
		return "LEND_INVALID_REQUEST"
	}
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	case message == "streaming unsupported":
		return "LEND_STREAMING_UNSUPPORTED"
	case message == "too many attempts":
		return "LEND_RATE_LIMITED"
	case strings.HasPrefix(message, "invalid json body"):
		return "LEND_INVALID_REQUEST"
	case message == "invalid status value":
		return "LEND_INVALID_STATUS"
	}

	switch status {
	case http.StatusBadRequest:
		return "LEND_INVALID_REQUEST"
	case http.StatusForbidden:
		return "LEND_FORBIDDEN"
	case http.StatusNotFound:
		return "LEND_NOT_FOUND"
	case http.StatusConflict:
		return "LEND_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "LEND_RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "SYSTEM_UNAVAILABLE"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}
