package crud

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/liamcoop/crud/internal/logger"
	"github.com/liamcoop/crud/normalize"
)

// respondJSON writes the standard API envelope: {"success": ..., "data": ...}
func respondJSON(w http.ResponseWriter, status int, success bool, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	envelope := normalize.Record{
		{Key: "success", Value: success},
		{Key: "data", Value: data},
	}
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// respondError writes err as an API error envelope
func respondError(w http.ResponseWriter, r *http.Request, err *HTTPError) {
	data := normalize.Record{
		{Key: "code", Value: err.Status},
		{Key: "url", Value: r.URL.RequestURI()},
		{Key: "message", Value: err.Message},
	}
	if len(err.Errors) > 0 {
		data.Set("errorCount", err.Errors.Count())
		data.Set("errors", err.Errors.Record())
	}
	respondJSON(w, err.Status, false, data)
}

// idValue renders numeric ids as JSON numbers
func idValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
