package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"schoolhub.org/internal/identity"
)

// responseWrapper is the envelope every API response is serialized into.
type responseWrapper struct {
	Data         any      `json:"data,omitempty"`
	Messages     []string `json:"messages"`
	IsSuccessful bool     `json:"is_successful"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, responseWrapper{Data: data, Messages: []string{}, IsSuccessful: true})
}

func writeFailure(w http.ResponseWriter, code int, messages ...string) {
	if len(messages) == 0 {
		messages = []string{http.StatusText(code)}
	}
	writeJSON(w, code, responseWrapper{Messages: messages, IsSuccessful: false})
}

// writeIdentityError maps an identity error kind onto an HTTP status and
// serializes its messages in the response envelope.
func writeIdentityError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, identity.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, identity.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, identity.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, identity.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, identity.ErrInvalidInput):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		var e *identity.Error
		if !errors.As(err, &e) {
			// unrecognized error, keep its text out of the response
			writeFailure(w, code, "Operation failed")
			return
		}
	}
	writeFailure(w, code, identity.MessagesFrom(err)...)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
}
