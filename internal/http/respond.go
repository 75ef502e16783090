package http

import (
	"encoding/json"
	"net/http"
)

const (
	statusSuccess      = "success"
	statusFailed       = "failed"
	statusUnauthorized = "unauthorized"
	statusError        = "error"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, code int, status, message string) {
	writeJSON(w, code, statusResponse{Status: status, Message: message})
}
