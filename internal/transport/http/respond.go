// Package httptransport is the thin HTTP layer over the document pipeline.
// Handlers delegate to stores and the queue without embedding pipeline logic.
package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "sunatflow/pkg/domain-errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates coded domain errors into a consistent JSON envelope.
// Internal error details are redacted; the code alone crosses the wire.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	message := "internal error"
	var de *dErrors.Error
	if errors.As(err, &de) && de.Code != dErrors.CodeInternal {
		message = de.Message
	}
	writeJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": message,
	})
}
