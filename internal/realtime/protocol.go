// Package realtime exposes a remote store over a websocket and provides the
// matching client.
//
// The server authenticates each connection with a bearer token, scopes
// every request to the token's owner and forwards change-stream events for
// the connection's subscriptions. The client implements remote.Client, so
// an engine can sit on either side of the wire unchanged.
package realtime

import (
	"errors"
	"fmt"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
	"github.com/roach88/todosync/internal/remote"
)

// FrameType distinguishes frames on the wire.
type FrameType string

const (
	// FrameRequest is sent by the client.
	FrameRequest FrameType = "request"
	// FrameResponse answers one request.
	FrameResponse FrameType = "response"
	// FrameEvent carries a change for a subscription.
	FrameEvent FrameType = "event"
)

// Request operations beyond the remote.Op* set.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Frame is the single JSON message shape exchanged in both directions.
type Frame struct {
	Type FrameType `json:"type"`
	// ID correlates a response with its request. For events it names the
	// subscription, which is the ID of the subscribe request.
	ID string `json:"id"`

	Op       string        `json:"op,omitempty"`
	Table    string        `json:"table,omitempty"`
	RecordID string        `json:"record_id,omitempty"`
	Filter   string        `json:"filter,omitempty"`
	Order    []query.Order `json:"order,omitempty"`
	Row      model.Row     `json:"row,omitempty"`

	Rows   []model.Row      `json:"rows,omitempty"`
	Change *model.RowChange `json:"change,omitempty"`
	Error  *WireError       `json:"error,omitempty"`
}

// WireError is an error crossing the wire.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeConflict     = "conflict"
	CodeClosed       = "closed"
	CodeInvalid      = "invalid"
	CodeInternal     = "internal"
)

func (e *WireError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// toWire classifies err for the client.
func toWire(err error) *WireError {
	if err == nil {
		return nil
	}
	code := CodeInternal
	switch {
	case errors.Is(err, remote.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, remote.ErrUnauthorized):
		code = CodeUnauthorized
	case errors.Is(err, remote.ErrConflict):
		code = CodeConflict
	case errors.Is(err, remote.ErrClosed):
		code = CodeClosed
	case errors.Is(err, errInvalid):
		code = CodeInvalid
	}
	return &WireError{Code: code, Message: err.Error()}
}

// fromWire restores the remote sentinel for a wire error.
func fromWire(we *WireError) error {
	if we == nil {
		return nil
	}
	var sentinel error
	switch we.Code {
	case CodeNotFound:
		sentinel = remote.ErrNotFound
	case CodeUnauthorized:
		sentinel = remote.ErrUnauthorized
	case CodeConflict:
		sentinel = remote.ErrConflict
	case CodeClosed:
		sentinel = remote.ErrClosed
	default:
		return we
	}
	return fmt.Errorf("%w (%s)", sentinel, we.Message)
}

var errInvalid = errors.New("invalid request")
