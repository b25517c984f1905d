// Package handlers implements the HTTP endpoints of the service.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/platform"
)

// DefaultRangeDays is used when a request names no dates.
const DefaultRangeDays = 30

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": msg, "type": errType},
	})
}

// parseRange reads start/end (YYYY-MM-DD). Both empty selects the
// trailing DefaultRangeDays ending today.
func parseRange(start, end string, now time.Time) (platform.DateRange, error) {
	if start == "" && end == "" {
		return platform.TrailingDays(now.UTC(), DefaultRangeDays), nil
	}
	return platform.NewDateRange(start, end)
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}
