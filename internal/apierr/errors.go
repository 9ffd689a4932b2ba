// Package apierr maps the engine's error kinds to structured JSON error
// responses, one constructor per HTTP status they surface as.
package apierr

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Code is a machine-readable error kind.
type Code string

const (
	CodeNoIdentifier         Code = "NO_IDENTIFIER"
	CodeProjectNotFound      Code = "PROJECT_NOT_FOUND"
	CodeInvalidAPIKey        Code = "INVALID_API_KEY"
	CodeExperimentNotFound   Code = "EXPERIMENT_NOT_FOUND"
	CodeExperimentNotRunning Code = "EXPERIMENT_NOT_RUNNING"
	CodeNoVariants           Code = "NO_VARIANTS"
	CodeRolloutOverflow      Code = "ROLLOUT_OVERFLOW"
	CodeToggleConstraint     Code = "TOGGLE_CONSTRAINT"
	CodeUniquenessViolation  Code = "UNIQUENESS_VIOLATION"
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeInternal             Code = "INTERNAL_ERROR"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
)

// Response is the JSON body returned for every non-2xx response.
type Response struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      Code              `json:"code"`
	Status    string            `json:"status,omitempty"`
	Sum       float64           `json:"sum,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func newResponse(statusCode int, code Code, message string) *Response {
	return &Response{Error: http.StatusText(statusCode), Message: message, Code: code}
}

func write(w http.ResponseWriter, r *http.Request, statusCode int, resp *Response) {
	if id := middleware.GetReqID(r.Context()); id != "" {
		resp.RequestID = id
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// NoIdentifier: 400.
func NoIdentifier(w http.ResponseWriter, r *http.Request) {
	write(w, r, http.StatusBadRequest, newResponse(http.StatusBadRequest, CodeNoIdentifier, "no identifier supplied"))
}

// InvalidAPIKey covers both ProjectNotFound and InvalidAPIKey: 401.
func InvalidAPIKey(w http.ResponseWriter, r *http.Request) {
	write(w, r, http.StatusUnauthorized, newResponse(http.StatusUnauthorized, CodeInvalidAPIKey, "invalid or missing API key"))
}

// ExperimentNotFound: 404.
func ExperimentNotFound(w http.ResponseWriter, r *http.Request) {
	write(w, r, http.StatusNotFound, newResponse(http.StatusNotFound, CodeExperimentNotFound, "experiment not found"))
}

// ProjectNotFound: 404 (admin surface lookups, distinct from the public
// API-key resolution failure which is modeled as InvalidAPIKey).
func ProjectNotFound(w http.ResponseWriter, r *http.Request) {
	write(w, r, http.StatusNotFound, newResponse(http.StatusNotFound, CodeProjectNotFound, "project not found"))
}

// ExperimentNotRunning: 400 with the current status.
func ExperimentNotRunning(w http.ResponseWriter, r *http.Request, status string) {
	resp := newResponse(http.StatusBadRequest, CodeExperimentNotRunning, "experiment is not running")
	resp.Status = status
	write(w, r, http.StatusBadRequest, resp)
}

// NoVariants: 500, a configuration bug; never papered over with an
// invented variant.
func NoVariants(w http.ResponseWriter, r *http.Request) {
	write(w, r, http.StatusInternalServerError, newResponse(http.StatusInternalServerError, CodeNoVariants, "experiment has no variants"))
}

// RolloutOverflow: 400 with the offending sum.
func RolloutOverflow(w http.ResponseWriter, r *http.Request, sum float64) {
	resp := newResponse(http.StatusBadRequest, CodeRolloutOverflow, "rollout sum exceeds 1.0")
	resp.Sum = sum
	write(w, r, http.StatusBadRequest, resp)
}

// ToggleConstraint: 400.
func ToggleConstraint(w http.ResponseWriter, r *http.Request, message string) {
	write(w, r, http.StatusBadRequest, newResponse(http.StatusBadRequest, CodeToggleConstraint, message))
}

// UniquenessViolation: 400 on duplicate identifiers within a project.
func UniquenessViolation(w http.ResponseWriter, r *http.Request, message string) {
	write(w, r, http.StatusBadRequest, newResponse(http.StatusBadRequest, CodeUniquenessViolation, message))
}

// Validation: 400 with field-level detail, for request body validation
// (internal/validation).
func Validation(w http.ResponseWriter, r *http.Request, message string, fields map[string]string) {
	resp := newResponse(http.StatusBadRequest, CodeValidation, message)
	resp.Fields = fields
	write(w, r, http.StatusBadRequest, resp)
}

// BadRequest: generic 400 for malformed JSON, missing query parameters, etc.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	write(w, r, http.StatusBadRequest, newResponse(http.StatusBadRequest, CodeValidation, message))
}

// Unauthorized: 401, generic (e.g. malformed or expired admin JWT).
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	write(w, r, http.StatusUnauthorized, newResponse(http.StatusUnauthorized, CodeUnauthorized, message))
}

// Forbidden: 403, admin request scoped to an object the caller doesn't own.
func Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	write(w, r, http.StatusForbidden, newResponse(http.StatusForbidden, CodeForbidden, message))
}

// Internal: 500, opaque message; never leaks the underlying error to the
// client.
func Internal(w http.ResponseWriter, r *http.Request) {
	write(w, r, http.StatusInternalServerError, newResponse(http.StatusInternalServerError, CodeInternal, "internal error"))
}
