package registry

import (
	"errors"
	"net/http"
)

// domainCodeToHTTPStatus is the single taxonomy-to-status lookup used
// by both the proxy pipeline and the control plane, grounded in the
// teacher's handler/code.go domainCodeToConnectCode map (there mapping
// core.ErrorCode to a connect.Code; here to an HTTP status).
var domainCodeToHTTPStatus = map[ErrorCode]int{
	CodeNotFound:        http.StatusNotFound,
	CodeNotConnected:    http.StatusServiceUnavailable,
	CodeBusy:            http.StatusServiceUnavailable,
	CodeTimeout:         http.StatusGatewayTimeout,
	CodeUpstreamGone:    http.StatusBadGateway,
	CodePayloadTooLarge: http.StatusRequestEntityTooLarge,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeThrottled:       http.StatusTooManyRequests,
	CodeInternal:        http.StatusInternalServerError,

	CodeUnknownID:        http.StatusNotFound,
	CodeBadToken:         http.StatusForbidden,
	CodeAlreadyAttached:  http.StatusConflict,
	CodeCapacityExceeded: http.StatusServiceUnavailable,
}

// HTTPStatus maps an ErrorCode to its HTTP status, defaulting to 500
// for any code not present in the table (there should be none, but a
// handler must never crash mapping an error to a response).
func HTTPStatus(code ErrorCode) int {
	if status, ok := domainCodeToHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// StatusFor maps any error to an HTTP status: a *DomainError maps via
// its Code, anything else defaults to 500.
func StatusFor(err error) int {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return HTTPStatus(domainErr.Code)
	}
	return http.StatusInternalServerError
}
