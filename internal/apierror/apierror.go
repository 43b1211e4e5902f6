// Package apierror defines the stable error shape crossing the boundary
// between the SPU Manager and its gateways.
package apierror

import "fmt"

// Kind is a stable error-kind string carried across the manager/gateway
// boundary; gateways map it to a wire status without string-matching
// free-form messages.
type Kind string

const (
	KindPreUpdateProcessingFailed Kind = "pre_update_processing_failed"
	KindEndpointError             Kind = "endpoint_error"
	KindAuthError                 Kind = "auth_error"
	KindTimeout                   Kind = "timeout"
	KindNotFound                  Kind = "sid_not_found"
	KindBadRequest                Kind = "bad_request"
	KindAlreadyExists             Kind = "already_exists"
)

// Phase identifies which barrier a Timeout error occurred in.
type Phase string

const (
	PhasePre  Phase = "pre_update_processing"
	PhasePost Phase = "post_update_processing"
)

// Error is the ErrorResponse{code, kind, body} shape from the spec's
// external interfaces.
type Error struct {
	Code  int
	Kind  Kind
	Phase Phase // set only for KindTimeout
	Body  string
}

func (e *Error) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%d %s (%s): %s", e.Code, e.Kind, e.Phase, e.Body)
	}
	return fmt.Sprintf("%d %s: %s", e.Code, e.Kind, e.Body)
}

// PreUpdateFailed builds the pre-update-processing failure error.
func PreUpdateFailed(msg string) *Error {
	return &Error{Code: 500, Kind: KindPreUpdateProcessingFailed, Body: msg}
}

// Timeout builds a barrier-timeout error for the given phase.
func Timeout(phase Phase, poolSize int) *Error {
	return &Error{
		Code:  500,
		Kind:  KindTimeout,
		Phase: phase,
		Body:  fmt.Sprintf("timeout waiting for %d SPU(s) to complete %s", poolSize, phase),
	}
}

// Auth builds the authentication/authorization failure error.
func Auth(msg string) *Error {
	return &Error{Code: 401, Kind: KindAuthError, Body: msg}
}

// Endpoint builds an endpoint-mutation failure error.
func Endpoint(msg string) *Error {
	return &Error{Code: 500, Kind: KindEndpointError, Body: msg}
}

// NotFound builds the sid-not-found error. Deliberately preserved as a
// 500 per the spec: "strictly speaking a 4xx; preserved as reported".
func NotFound(sid string) *Error {
	return &Error{Code: 500, Kind: KindNotFound, Body: "subscriber not found: " + sid}
}

// AlreadyExists builds the duplicate-fingerprint registration error.
func AlreadyExists(msg string) *Error {
	return &Error{Code: 409, Kind: KindAlreadyExists, Body: msg}
}

// BadRequest builds a generic malformed-request error.
func BadRequest(msg string) *Error {
	return &Error{Code: 400, Kind: KindBadRequest, Body: msg}
}
