package lsp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fhs/lspc/internal/lsp/protocol"
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"
)

// Error codes defined by LSP on top of the JSON-RPC ones.
const (
	CodeConnectionInactive   int64 = -32097
	CodeServerNotInitialized int64 = -32002
	CodeRequestFailed        int64 = -32803
	CodeServerCancelled      int64 = -32802
	CodeContentModified      int64 = -32801
	CodeRequestCancelled     int64 = -32800
)

var (
	// ErrNotRunning is returned by sends once the client has been
	// stopped or failed to start.
	ErrNotRunning = &jsonrpc2.Error{Code: CodeConnectionInactive, Message: "client is not running"}

	ErrStopTimeout      = errors.New("stopping the server timed out")
	ErrClientDisposed   = errors.New("client is disposed")
	ErrDuplicateFeature = errors.New("a feature for this registration method is already registered")
)

// UnsupportedEncodingError is returned by the initialize handshake when
// the server picks a position encoding other than UTF-16.
type UnsupportedEncodingError struct {
	Encoding protocol.PositionEncodingKind
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported position encoding (%v) received", e.Encoding)
}

// CancellationError is returned for a request the server cancelled
// while the caller was still waiting for it.
type CancellationError struct {
	Method string
	Data   json.RawMessage
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("request %v was cancelled by the server", e.Method)
}

// UnknownRegistrationError is returned to the server when it tries to
// (un)register a method no dynamic feature handles.
type UnknownRegistrationError struct {
	Method     string
	Unregister bool
}

func (e *UnknownRegistrationError) Error() string {
	if e.Unregister {
		return fmt.Sprintf("no feature implementation for %v found; unregistration failed", e.Method)
	}
	return fmt.Sprintf("no feature implementation for %v found; registration failed", e.Method)
}

// responseError returns the JSON-RPC error carried by err, if any.
func responseError(err error) (*jsonrpc2.Error, bool) {
	var e *jsonrpc2.Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCancellation reports whether err means the request was cancelled
// rather than failed.
func IsCancellation(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var ce *CancellationError
	if errors.As(err, &ce) {
		return true
	}
	if e, ok := responseError(err); ok {
		return e.Code == CodeRequestCancelled || e.Code == CodeServerCancelled
	}
	return false
}

// retryableInitError reports whether err is an initialize error the
// server marked as worth retrying.
func retryableInitError(err error) (*jsonrpc2.Error, bool) {
	e, ok := responseError(err)
	if !ok || e.Data == nil {
		return nil, false
	}
	var data protocol.InitializeError
	if json.Unmarshal(*e.Data, &data) != nil || !data.Retry {
		return nil, false
	}
	return e, true
}

// toResponseError converts a handler error to the error sent back to
// the server.
func toResponseError(method string, err error) *jsonrpc2.Error {
	if e, ok := responseError(err); ok {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return &jsonrpc2.Error{Code: CodeRequestCancelled, Message: "request cancelled"}
	}
	return &jsonrpc2.Error{
		Code:    jsonrpc2.CodeInternalError,
		Message: fmt.Sprintf("request %v failed with message: %v", method, err),
	}
}
