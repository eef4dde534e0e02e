// Package httpio holds the JSON response envelope shared by the router
// and every handler, grounded on pkg/api/response.go's
// {status, timestamp, data, error} shape, with the error payload carried
// as apierr.Body.
package httpio

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/haulfs/haulfs/pkg/apierr"
)

// Response is the standard envelope for every JSON response.
type Response struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Data      interface{}  `json:"data,omitempty"`
	Error     *apierr.Body `json:"error,omitempty"`
}

// WriteJSON writes data as a successful Response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, data interface{}) {
	resp := Response{Status: "ok", Timestamp: time.Now(), Data: data}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError renders err as the standard error body, filling RequestID
// from chi's request-id middleware before marshaling.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.As(err)
	if e.RequestID == "" {
		e.RequestID = middleware.GetReqID(r.Context())
	}
	body := e.ToBody()

	resp := Response{Status: "error", Timestamp: time.Now(), Error: &body}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(resp)
}

// DecodeJSON decodes the request body into v, returning a validation
// apierr.Error on malformed JSON.
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apierr.New(apierr.Validation, "request body is required")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.Validation, err, "malformed request body")
	}
	return nil
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

// WriteHealthy writes a 200 healthy response.
func WriteHealthy(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, HealthResponse{Healthy: true})
}

// WriteUnhealthy writes a 503 unhealthy response.
func WriteUnhealthy(w http.ResponseWriter, reason string) {
	resp := Response{Status: "error", Timestamp: time.Now(), Data: HealthResponse{Healthy: false, Reason: reason}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(resp)
}
