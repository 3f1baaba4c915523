package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/me/tickbatch/pkg/model"
)

// requestID generates a short request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respond writes data in an "ok" envelope. pg is nil for single resources.
func respond(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	writeEnvelope(w, http.StatusOK, model.Response{
		Status:     "ok",
		RequestID:  reqID,
		Data:       data,
		Pagination: pg,
	})
}

// respondError writes apiErr in an "error" envelope; the HTTP status follows
// from its code.
func respondError(w http.ResponseWriter, reqID string, apiErr *model.APIError) {
	writeEnvelope(w, apiErr.HTTPStatus(), model.Response{
		Status:    "error",
		RequestID: reqID,
		Error:     apiErr,
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp model.Response) {
	resp.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
