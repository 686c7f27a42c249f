package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Validation errors fail at the call site with no network
// attempt; transport and protocol errors fail one operation without taking
// down the socket; auth and backoff-exhaustion errors are terminal until the
// application intervenes.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotConnected    = errors.New("socket not connected")
	ErrTimeout         = errors.New("timed out waiting for server response")
	ErrAuthFailed      = errors.New("websocket authentication failed")
	ErrAuthExpired     = errors.New("session expired")
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
	ErrMessageExpired  = errors.New("queued message expired before send")
	ErrSocketClosed    = errors.New("socket closed")
	ErrRequestInFlight = errors.New("request already in progress")
	ErrMissingUserID   = fmt.Errorf("%w: user id not provided and no session user", ErrValidation)
)

// BidRejectedError carries the server-supplied rejection for one correlated
// bid placement.
type BidRejectedError struct {
	ClientID string
	Message  string
}

func (e *BidRejectedError) Error() string {
	return e.Message
}

// APIError is a normalized non-2xx REST response.
type APIError struct {
	Status  int
	Message string
	Code    string
	Raw     string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}
