package session

import "errors"

// Errors returned by SendRequest and surfaced to the proxy pipeline.
var (
	ErrTimeout       = errors.New("session: request timed out")
	ErrSessionClosed = errors.New("session: terminated before response arrived")
)
