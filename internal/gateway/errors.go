package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/MrWong99/omnillm/internal/agent"
	"github.com/MrWong99/omnillm/internal/app"
	"github.com/MrWong99/omnillm/internal/observe"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind              string `json:"kind"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// badRequest marks caller mistakes detected by the gateway itself.
func badRequest(msg string) error {
	return llm.InvalidRequestError(msg)
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, agent.ErrTooManyRounds), errors.Is(err, agent.ErrToolLoop):
		return http.StatusUnprocessableEntity
	}
	switch llm.KindOf(err) {
	case llm.KindInvalidRequest, llm.KindContextLength:
		return http.StatusBadRequest
	case llm.KindRateLimit:
		return http.StatusTooManyRequests
	case llm.KindUnsupported:
		return http.StatusNotImplemented
	case llm.KindAuthentication, llm.KindProvider, llm.KindNetwork, llm.KindDecoding:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ErrorBody {
	body := ErrorBody{Kind: llm.KindOf(err).String(), Message: err.Error()}
	switch {
	case errors.Is(err, app.ErrUnknownProvider):
		body.Kind = "unknown_provider"
	case errors.Is(err, agent.ErrTooManyRounds):
		body.Kind = "too_many_rounds"
	case errors.Is(err, agent.ErrToolLoop):
		body.Kind = "tool_loop"
	}
	var le *llm.Error
	if errors.As(err, &le) && le.RetryAfter > 0 {
		body.RetryAfterSeconds = int(math.Ceil(le.RetryAfter.Seconds()))
	}
	return body
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody(err)
	if status >= 500 {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "kind", body.Kind, "err", err)
	} else {
		observe.Logger(r.Context()).Debug("request rejected", "path", r.URL.Path, "kind", body.Kind, "err", err)
	}
	if body.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
