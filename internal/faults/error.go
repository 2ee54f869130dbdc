package faults

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Context is the structured detail attached to an error. It is serialized
// only when the error is persisted, after redaction.
type Context struct {
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	ClipID    string            `json:"clip_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Path      string            `json:"path,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Error is a classified failure.
type Error struct {
	ID          string
	Type        Type
	Severity    Severity
	Code        string
	HTTPStatus  int
	Message     string
	UserMessage string
	Context     Context
	Recoverable bool
	Retryable   bool
	Timestamp   time.Time
	Stack       string

	cause          error
	recoverableSet bool
	retryableSet   bool
}

// Option customizes an Error at construction.
type Option func(*Error)

// WithCode sets a stable machine-readable code.
func WithCode(code string) Option {
	return func(e *Error) { e.Code = strings.TrimSpace(code) }
}

// WithHTTPStatus records the status a transport layer should answer with.
func WithHTTPStatus(status int) Option {
	return func(e *Error) { e.HTTPStatus = status }
}

// WithSeverity overrides severity inference.
func WithSeverity(severity Severity) Option {
	return func(e *Error) { e.Severity = severity }
}

// WithUserMessage overrides the default user-facing message.
func WithUserMessage(msg string) Option {
	return func(e *Error) {
		if msg = strings.TrimSpace(msg); msg != "" {
			e.UserMessage = msg
		}
	}
}

// WithRecoverable overrides the recoverability default.
func WithRecoverable(recoverable bool) Option {
	return func(e *Error) {
		e.Recoverable = recoverable
		e.recoverableSet = true
	}
}

// WithRetryable overrides the retryability default.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.Retryable = retryable
		e.retryableSet = true
	}
}

// WithCause records the underlying error for errors.Is/As.
func WithCause(err error) Option {
	return func(e *Error) { e.cause = err }
}

// WithContext replaces the structured context.
func WithContext(ctx Context) Option {
	return func(e *Error) { e.Context = ctx }
}

// WithOperation tags the component and operation that failed.
func WithOperation(component, operation string) Option {
	return func(e *Error) {
		e.Context.Component = component
		e.Context.Operation = operation
	}
}

// WithJob tags the job the error belongs to.
func WithJob(jobID string) Option {
	return func(e *Error) { e.Context.JobID = jobID }
}

// WithClip tags the clip the error belongs to.
func WithClip(clipID string) Option {
	return func(e *Error) { e.Context.ClipID = clipID }
}

// WithField adds one free-form context field.
func WithField(key, value string) Option {
	return func(e *Error) {
		if e.Context.Fields == nil {
			e.Context.Fields = make(map[string]string)
		}
		e.Context.Fields[key] = value
	}
}

// New creates a classified error with a fresh id and timestamp.
func New(typ Type, message string, opts ...Option) *Error {
	if !typ.Valid() {
		typ = TypeInternal
	}
	e := &Error{
		ID:        uuid.NewString(),
		Type:      typ,
		Message:   strings.TrimSpace(message),
		Timestamp: time.Now().UTC(),
		Stack:     captureStack(3),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.fillDefaults()
	return e
}

// Wrap classifies err under typ, keeping it as the cause. A nil err returns nil.
func Wrap(typ Type, err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	if message = strings.TrimSpace(message); message == "" {
		message = err.Error()
	}
	return New(typ, message, append([]Option{WithCause(err)}, opts...)...)
}

func (e *Error) fillDefaults() {
	if e.Message == "" {
		e.Message = string(e.Type) + " error"
	}
	if e.UserMessage == "" {
		e.UserMessage = DefaultUserMessage(e.Type)
	}
	if !e.recoverableSet {
		e.Recoverable = defaultRecoverable(e.Type)
	}
	if !e.retryableSet {
		e.Retryable = defaultRetryable(e.Type, e.fullMessage())
	}
}

func (e *Error) fullMessage() string {
	if e.cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.cause.Error()
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.fullMessage()
	if e.cause != nil && e.cause.Error() == e.Message {
		msg = e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Status returns the explicit HTTP status, or the type's default.
func (e *Error) Status() int {
	if e == nil {
		return 0
	}
	if e.HTTPStatus > 0 {
		return e.HTTPStatus
	}
	return defaultStatus[e.Type]
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) && target != nil {
		return target, true
	}
	return nil, false
}

// IsType reports whether err carries a classified error of typ.
func IsType(err error, typ Type) bool {
	target, ok := As(err)
	return ok && target.Type == typ
}

func defaultRecoverable(typ Type) bool {
	switch typ {
	case TypeAuthentication, TypeAuthorization:
		return false
	default:
		return true
	}
}

func defaultRetryable(typ Type, message string) bool {
	switch typ {
	case TypeNetwork, TypeCloudStorage, TypeEmail, TypeAPI:
		return true
	}
	lower := strings.ToLower(message)
	for _, hint := range []string{"timeout", "timed out", "temporary", "rate limit"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func captureStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
