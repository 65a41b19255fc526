package errors

import "fmt"

var (
	ErrAuthFailure       = fmt.Errorf("authentication failure")
	ErrMalformedEnvelope = fmt.Errorf("malformed envelope")
	ErrSessionClosed     = fmt.Errorf("session closed")
	ErrOutboundFull      = fmt.Errorf("outbound queue full")
	ErrWorkerPanic       = fmt.Errorf("worker panic")
)
