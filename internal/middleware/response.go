package middleware

import (
	"encoding/json"
	"net/http"
)

// writeJSON is a minimal response helper local to the middleware chain.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
