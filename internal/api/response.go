package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/transfa/ledger-service/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// statusForKind maps an error kind to its HTTP status.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput, domain.KindInsufficientBalance:
		return http.StatusBadRequest
	case domain.KindAccountNotActive, domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError classifies err and writes the matching response. Internal
// errors are logged and their details withheld from the client.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, endpoint string, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "endpoint", endpoint, "error", err)
		message = "internal error"
	} else {
		logger.Warn("request rejected", "endpoint", endpoint, "kind", kind, "error", err)
	}
	writeError(w, status, string(kind), message)
}
