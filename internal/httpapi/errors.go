package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/syncforge/erpsync/internal/errkind"
)

// APIError is the JSON shape of every non-2xx response body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError for JSON serialization.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: APIError{Code: code, Message: message}}); err != nil {
		slog.Error("write error response", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}

// writeDomainError maps an errkind.Error to its HTTP status, the one
// place errkind.Kind values translate into wire codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	var ek *errkind.Error
	if errors.As(err, &ek) {
		switch ek.Kind {
		case errkind.Validation, errkind.Normalization, errkind.TypeCoercion:
			status, code = http.StatusBadRequest, string(ek.Kind)
		case errkind.NotFound:
			status, code = http.StatusNotFound, string(ek.Kind)
		case errkind.AlreadyExists:
			status, code = http.StatusConflict, string(ek.Kind)
		case errkind.Authentication:
			status, code = http.StatusUnauthorized, string(ek.Kind)
		case errkind.Authorization:
			status, code = http.StatusForbidden, string(ek.Kind)
		case errkind.Connection, errkind.SyncExecution, errkind.Identity, errkind.Delta, errkind.ParentChild, errkind.Configuration:
			status, code = http.StatusInternalServerError, string(ek.Kind)
		}
		writeError(w, status, code, ek.Message)
		return
	}
	writeError(w, status, code, err.Error())
}
