// Package httpx holds the small JSON plumbing shared by the HTTP
// surface: request ids, response envelopes, and the non-diagnostic
// fatal rendering.
package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/lexsia228/M55-soul/pkg/halt"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteNoStoreJSON serves a payload that intermediaries must never
// cache. Policy documents go through this path.
func WriteNoStoreJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("cache-control", "no-store")
	w.Header().Set("pragma", "no-cache")
	WriteJSON(w, status, v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	WriteJSON(w, status, map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	})
}

// WriteFatal renders a fatal condition without diagnostic detail; the
// detail goes to the developer channel only.
func WriteFatal(w http.ResponseWriter, logger *slog.Logger, err error) {
	if f, ok := halt.AsFatal(err); ok {
		logger.Error("fatal condition on request path",
			"code", f.Code, "message", f.Message, "detail", f.Detail)
		WriteError(w, http.StatusInternalServerError, string(f.Code), halt.StatusMessage, nil)
		return
	}
	logger.Error("unhandled error on request path", "err", err)
	WriteError(w, http.StatusInternalServerError, string(halt.CodeRuntimeError), halt.StatusMessage, nil)
}
