// Package fault defines the error taxonomy shared by the query codec, the policy
// resolver, the plan compiler and the execution adapter.
//
// Every failure carries a Kind. Kinds detected before execution are client
// errors and are never retried; ExecutionFailed wraps a backend error unchanged.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	MalformedCondition Kind = "malformed_condition"
	MalformedSearch    Kind = "malformed_search"
	MalformedParam     Kind = "malformed_param"
	FieldNotAllowed    Kind = "field_not_allowed"
	JoinNotAllowed     Kind = "join_not_allowed"
	InvalidField       Kind = "invalid_field"
	ExecutionFailed    Kind = "execution_failed"
	NotFound           Kind = "not_found"
	InvalidBody        Kind = "invalid_body"
	Unauthorized       Kind = "unauthorized"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrMalformedCondition = errors.New("pgcrud: malformed condition")
	ErrMalformedSearch    = errors.New("pgcrud: malformed search")
	ErrMalformedParam     = errors.New("pgcrud: malformed query parameter")
	ErrFieldNotAllowed    = errors.New("pgcrud: field not allowed")
	ErrJoinNotAllowed     = errors.New("pgcrud: join not allowed")
	ErrInvalidField       = errors.New("pgcrud: invalid field")
	ErrExecutionFailed    = errors.New("pgcrud: execution failed")
	ErrNotFound           = errors.New("pgcrud: not found")
	ErrInvalidBody        = errors.New("pgcrud: invalid body")
	ErrUnauthorized       = errors.New("pgcrud: unauthorized")
)

var sentinels = map[Kind]error{
	MalformedCondition: ErrMalformedCondition,
	MalformedSearch:    ErrMalformedSearch,
	MalformedParam:     ErrMalformedParam,
	FieldNotAllowed:    ErrFieldNotAllowed,
	JoinNotAllowed:     ErrJoinNotAllowed,
	InvalidField:       ErrInvalidField,
	ExecutionFailed:    ErrExecutionFailed,
	NotFound:           ErrNotFound,
	InvalidBody:        ErrInvalidBody,
	Unauthorized:       ErrUnauthorized,
}

// Error is a classified failure. Field and Operator are set when the failure
// concerns a specific condition.
type Error struct {
	Kind     Kind
	Field    string
	Operator string
	Message  string
	Original error
}

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithField returns a copy of e naming the offending field.
func (e *Error) WithField(field string) *Error {
	c := *e
	c.Field = field
	return &c
}

// WithOperator returns a copy of e naming the offending operator.
func (e *Error) WithOperator(op string) *Error {
	c := *e
	c.Operator = op
	return &c
}

// WithOriginal returns a copy of e wrapping original.
func (e *Error) WithOriginal(original error) *Error {
	c := *e
	c.Original = original
	return &c
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %q", msg, e.Field)
		if e.Operator != "" {
			msg += fmt.Sprintf(", operator %q", e.Operator)
		}
		msg += ")"
	}
	if e.Original != nil {
		return fmt.Sprintf("%s: %v", msg, e.Original)
	}
	return msg
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func (e *Error) Unwrap() error {
	return e.Original
}

// Execution wraps a backend error as ExecutionFailed. A nil err returns nil.
func Execution(err error) error {
	if err == nil {
		return nil
	}
	var f *Error
	if errors.As(err, &f) && f.Kind == ExecutionFailed {
		return err
	}
	return &Error{Kind: ExecutionFailed, Message: "query execution failed", Original: err}
}

// KindOf returns the kind of err, or ExecutionFailed for unclassified errors.
func KindOf(err error) Kind {
	var f *Error
	if errors.As(err, &f) {
		return f.Kind
	}
	return ExecutionFailed
}

// IsClientError reports whether err was detected before execution.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case ExecutionFailed:
		return false
	default:
		return true
	}
}

// HTTPStatus maps err to the status code exposed by the transport layer.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case MalformedCondition, MalformedSearch, MalformedParam,
		FieldNotAllowed, JoinNotAllowed, InvalidField, InvalidBody:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
