package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shohag/formhook/internal/faults"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeFault answers with the status and text code carried by err.
func writeFault(w http.ResponseWriter, err error) {
	writeJSON(w, faults.Status(err), errorResponse{Error: faults.Message(err), Code: faults.Code(err)})
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return def
	}
	return n
}
