// Package httputil holds shared JSON request and response helpers.
package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/R3E-Network/tip_settlement/internal/errors"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Status  int                    `json:"status"`
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"traceId,omitempty"`
}

// DecodeJSON decodes a bounded request body into dst, rejecting unknown fields.
func DecodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes an ErrorResponse, echoing the response trace id.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	WriteJSON(w, status, ErrorResponse{
		Status:  status,
		Error:   code,
		Message: message,
		Details: details,
		TraceID: w.Header().Get("X-Trace-ID"),
	})
}

// WriteError maps err onto an error response. Errors outside the service
// taxonomy become 500s with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("Internal server error", err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// BadRequest writes a 400 with message.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, svcerrors.BadRequest(message))
}

// Unauthorized writes a 401.
func Unauthorized(w http.ResponseWriter, message string) {
	se := svcerrors.Unauthorized(message)
	WriteJSON(w, se.HTTPStatus, ErrorResponse{Status: se.HTTPStatus, Error: string(se.Code), Message: se.Message})
}

// NotFound writes a 404 for resource.
func NotFound(w http.ResponseWriter, r *http.Request, resource string) {
	WriteError(w, r, svcerrors.NotFound(resource))
}
