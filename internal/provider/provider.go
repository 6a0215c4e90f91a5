// Package provider talks to model-completion backends and classifies their
// failures as transient or terminal.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/zivhm/yacb/pkg/types"
)

// ErrNoProvider is returned when no configured backend can serve a model
var ErrNoProvider = errors.New("no provider configured for model")

// ErrorKind separates failures worth retrying on another model from those that are not
type ErrorKind int

const (
	// Transient covers rate limits, timeouts, 5xx and network failures
	Transient ErrorKind = iota + 1
	// Terminal covers auth, malformed requests and unknown models
	Terminal
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure
type Error struct {
	Kind     ErrorKind
	Status   int // HTTP status, 0 when the request never got a response
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s API error: %s (status %d)", e.Provider, e.Message, e.Status)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether another model may succeed where this one failed
func (e *Error) IsTransient() bool {
	return e != nil && e.Kind == Transient
}

// Request is one completion call
type Request struct {
	Messages    []types.ChatMessage
	Tools       []types.ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the result of a completion call. Failures are reported in Err
// rather than as a Go error so callers can branch on the kind.
type Response struct {
	Content      string
	ToolCalls    []types.ToolCall
	FinishReason string
	Usage        types.Usage
	Model        string
	Err          *Error
}

// HasToolCalls reports whether the model requested tool executions
func (r Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Failed reports whether the call produced an error
func (r Response) Failed() bool {
	return r.Err != nil
}

// Client is a stateless chat-completion backend
type Client interface {
	Chat(ctx context.Context, req Request) Response
}

// ClientFunc adapts a function to the Client interface
type ClientFunc func(ctx context.Context, req Request) Response

func (f ClientFunc) Chat(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

var nonRetryableMarkers = []string{
	"invalid api key",
	"authentication",
	"unauthorized",
	"forbidden",
	"invalid request",
	"bad request",
	"context length",
	"unsupported model",
	"not found",
}

var retryableMarkers = []string{
	"timeout",
	"timed out",
	"rate limit",
	"too many requests",
	"temporar",
	"overloaded",
	"connection reset",
	"network error",
	"service unavailable",
	"internal server error",
}

// Classify decides whether a failure with the given HTTP status (0 if none)
// and message is transient. Explicit non-retryable wording wins over status.
func Classify(status int, message string) ErrorKind {
	lower := strings.ToLower(message)
	for _, m := range nonRetryableMarkers {
		if strings.Contains(lower, m) {
			return Terminal
		}
	}

	switch {
	case status == 408, status == 409, status == 425, status == 429:
		return Transient
	case status >= 500 && status < 600:
		return Transient
	case status != 0:
		return Terminal
	}

	for _, m := range retryableMarkers {
		if strings.Contains(lower, m) {
			return Transient
		}
	}
	return Terminal
}

// NewError builds a classified error for an HTTP failure
func NewError(providerName string, status int, message string) *Error {
	return &Error{
		Kind:     Classify(status, message),
		Status:   status,
		Provider: providerName,
		Message:  message,
	}
}

// WrapError classifies a transport-level error. Network failures and
// deadline expiry are always transient.
func WrapError(providerName string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	kind := Classify(0, err.Error())
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		kind = Transient
	}
	if errors.Is(err, ErrNoProvider) || errors.Is(err, context.Canceled) {
		kind = Terminal
	}
	return &Error{
		Kind:     kind,
		Provider: providerName,
		Message:  err.Error(),
		Err:      err,
	}
}

// ErrorResponse turns a failure into a response whose content is the user-facing error text
func ErrorResponse(model string, e *Error) Response {
	return Response{
		Content:      fmt.Sprintf("Error calling LLM: %s", e.Error()),
		FinishReason: "error",
		Model:        model,
		Err:          e,
	}
}
