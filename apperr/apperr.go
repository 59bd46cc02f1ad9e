// Package apperr defines the typed, status-aware errors shared across junyper
// services. Handlers convert any error into a uniform {code, message} JSON body
// via Payload, so upstream and database failures all surface the same shape.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Error carries an HTTP status alongside a stable machine code.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Status  int            `json:"-"`
	Fields  map[string]any `json:"fields,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return "error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches err to a copy of base, optionally overriding the message.
func Wrap(err error, base *Error, message string) *Error {
	if err == nil {
		return nil
	}
	if base == nil {
		base = ErrInternal
	}
	copy := *base
	if message != "" {
		copy.Message = message
	}
	copy.Err = err
	return &copy
}

// MissingField builds the 400 returned when a required request field is absent.
// The field name is included in both the message and the fields map.
func MissingField(name string) *Error {
	copy := *ErrValidation
	copy.Message = fmt.Sprintf("missing required field: %s", name)
	copy.Fields = map[string]any{"field": name}
	return &copy
}

// FromBinding converts a gin binding failure into a 400. A missing required
// field is reported by name; anything else keeps the binding message.
func FromBinding(err error) *Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		if first.Tag() == "required" {
			return MissingField(first.Field())
		}
		return Wrap(err, ErrValidation, fmt.Sprintf("invalid field: %s", first.Field()))
	}
	return Wrap(err, ErrBadRequest, "unable to parse the request")
}

// NotFound builds a 404 naming the entity that could not be resolved.
func NotFound(entity string) *Error {
	copy := *ErrNotFound
	copy.Message = entity + " not found"
	return &copy
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

func Status(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

func Code(err error) string {
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

func Message(err error) string {
	if e, ok := As(err); ok {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Code
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Payload renders err as the JSON body every handler returns on failure.
func Payload(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	if e, ok := As(err); ok {
		payload := map[string]any{
			"code":    Code(e),
			"message": Message(e),
		}
		if len(e.Fields) > 0 {
			payload["fields"] = e.Fields
		}
		return payload
	}
	return map[string]any{
		"code":    "internal_error",
		"message": err.Error(),
	}
}

var (
	ErrBadRequest  = New("bad_request", http.StatusBadRequest, "")
	ErrValidation  = New("validation_error", http.StatusBadRequest, "")
	ErrEmptyBody   = New("empty_body", http.StatusBadRequest, "request body is empty")
	ErrNotFound    = New("not_found", http.StatusNotFound, "")
	ErrUpstream    = New("aggregator_error", http.StatusInternalServerError, "")
	ErrLLM         = New("assistant_error", http.StatusInternalServerError, "")
	ErrDatabase    = New("database_error", http.StatusInternalServerError, "")
	ErrInternal    = New("internal_error", http.StatusInternalServerError, "")
	ErrUnavailable = New("service_unavailable", http.StatusServiceUnavailable, "")
)
