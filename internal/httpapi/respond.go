package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Machine-readable failure codes. These are the only strings the chain ever
// reveals about why a request was rejected; required roles, lockout windows
// and internal errors stay on this side of the boundary.
const (
	codeNoToken             = "NO_TOKEN"
	codeTokenExpired        = "TOKEN_EXPIRED"
	codeInvalidToken        = "INVALID_TOKEN"
	codeMalformedToken      = "MALFORMED_TOKEN"
	codeInsufficientRole    = "INSUFFICIENT_ROLE"
	codePermissionDenied    = "PERMISSION_DENIED"
	codeDifferentClinic     = "DIFFERENT_CLINIC"
	codeNoClinicAssociation = "NO_CLINIC_ASSOCIATION"
	codeOwnershipRequired   = "OWNERSHIP_REQUIRED"
	codeInvalidCredentials  = "INVALID_CREDENTIALS"
	codeAccountLocked       = "ACCOUNT_LOCKED"
	codeInvalidRefresh      = "INVALID_REFRESH_TOKEN"
	codeInactivePrincipal   = "INACTIVE_PRINCIPAL"
	codeDuplicateEmail      = "DUPLICATE_EMAIL"
	codeValidationError     = "VALIDATION_ERROR"
	codeWeakSecret          = "WEAK_SECRET"
	codeAuthUnavailable     = "AUTH_UNAVAILABLE"
	codeNotFound            = "NOT_FOUND"
	codeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	codeRateLimited         = "RATE_LIMITED"
)

// apiFailure is a terminated request before serialization. Guards return it;
// writeFailure turns it into the uniform envelope.
type apiFailure struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func fail(status int, code, message string) *apiFailure {
	return &apiFailure{Status: status, Code: code, Message: message}
}

func (f *apiFailure) withDetails(details map[string]any) *apiFailure {
	f.Details = details
	return f
}

// failureBody is the uniform failure shape every stage of the chain and
// every handler responds with.
type failureBody struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, r *http.Request, f *apiFailure) {
	writeJSON(w, f.Status, failureBody{
		Success:   false,
		Message:   f.Message,
		Code:      f.Code,
		Details:   f.Details,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeFailure(w, r, fail(http.StatusBadRequest, codeValidationError, message))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeFailure(w, r, fail(http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed"))
}
