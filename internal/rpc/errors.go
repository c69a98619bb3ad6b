package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTimeout marks a request that exceeded its deadline
var ErrTimeout = errors.New("request timed out")

// ErrClosed is returned by a client used after Close
var ErrClosed = errors.New("rpc client closed")

// TransportError is any non-timeout failure: connection errors, bad status codes,
// malformed bodies and JSON-RPC error objects
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RPCError is the error object of a JSON-RPC response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsTimeout reports whether err is a request timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classify maps a raw request failure onto ErrTimeout or *TransportError
func classify(url string, status int, err error) error {
	if IsTimeout(err) {
		return fmt.Errorf("%s: %w", url, ErrTimeout)
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{URL: url, StatusCode: status, Err: err}
}
