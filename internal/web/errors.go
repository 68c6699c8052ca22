package web

// errors.go provides unified error responses for the API.
//
// Every error is logged with its technical detail and the request ID, then
// returned to the client as the coded user message from core.MapError. The
// HTTP status is derived from the message code, so handlers never pick one.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/resolver/internal/core"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Action  string            `json:"action,omitempty"`
	Code    string            `json:"code"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// statusByCode overrides the status implied by a code's category.
var statusByCode = map[string]int{
	"FILE001": http.StatusRequestEntityTooLarge,
	"IMP001":  http.StatusConflict,
	"IMP002":  http.StatusServiceUnavailable,
	"IMP004":  http.StatusGatewayTimeout,
	"IMP005":  http.StatusNotFound,
	"IMP006":  http.StatusNotFound,
	"RES001":  http.StatusInternalServerError,
	"DB001":   http.StatusConflict,
}

// statusFor maps a user message code to an HTTP status.
func statusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	switch {
	case strings.HasPrefix(code, "VAL"), strings.HasPrefix(code, "FILE"),
		strings.HasPrefix(code, "RES"), strings.HasPrefix(code, "IMP"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user message with a matching status.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusFor(msg.Code)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeError(w, status, msg.Code, msg.Message, msg.Action)
}

// respondInvalid writes a 400 for a malformed or invalid request body.
func respondInvalid(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{
		Error:   "Invalid request",
		Message: "Invalid request",
		Action:  "Check the request fields and try again",
		Code:    "REQ001",
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			resp.Fields[fe.Namespace()] = validationMessage(fe)
		}
	} else {
		resp.Action = err.Error()
	}

	slog.Debug("invalid request",
		"path", r.URL.Path,
		"error", err,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeJSON(w, http.StatusBadRequest, resp)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	default:
		return fmt.Sprintf("failed %q", fe.Tag())
	}
}

// writeError writes a coded JSON error response.
func writeError(w http.ResponseWriter, status int, code, message, action string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Message: message,
		Action:  action,
		Code:    code,
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
