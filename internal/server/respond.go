package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/identify"
	"github.com/sells-group/wine-identify/internal/resilience"
)

// statusClientClosedRequest is the de facto status for a request the client
// abandoned.
const statusClientClosedRequest = 499

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch resilience.KindOf(err) {
	case resilience.KindValidation:
		return http.StatusBadRequest
	case resilience.KindBudgetExceeded, resilience.KindRateLimit:
		return http.StatusTooManyRequests
	case resilience.KindCircuitOpen, resilience.KindOverloaded:
		return http.StatusServiceUnavailable
	case resilience.KindTimeout:
		return http.StatusGatewayTimeout
	case resilience.KindConfig:
		return http.StatusInternalServerError
	case resilience.KindCanceled:
		return statusClientClosedRequest
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: identify.ErrorInfo{
		Message:   err.Error(),
		Kind:      resilience.KindOf(err),
		Retryable: resilience.IsRetryable(err),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}
