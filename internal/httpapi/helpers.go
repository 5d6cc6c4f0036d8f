package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/misaka10987/basileus"
	"github.com/misaka10987/basileus/identity"
	"github.com/misaka10987/basileus/pkce"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return err
	}
	return nil
}

// handleCoreError maps library sentinels onto HTTP statuses.
func handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidUsername):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, identity.ErrNoPassword):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, basileus.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, pkce.ErrInsecureMethod):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, pkce.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, pkce.ErrInvalidCode), errors.Is(err, pkce.ErrExpiredCode), errors.Is(err, pkce.ErrInvalidVerifier):
		// One answer for every redemption failure.
		writeError(w, r, http.StatusUnauthorized, "invalid or expired code")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
