package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure so callers can decide between recovering locally
// and surfacing it to the user.
type Kind string

const (
	KindUnknown            Kind = ""
	KindBackendUnavailable Kind = "backend_unavailable"
	KindMalformedResponse  Kind = "malformed_response"
	KindValidation         Kind = "validation"
	KindStreamEncoding     Kind = "stream_encoding"
	KindFrameParse         Kind = "frame_parse"
)

type CustomizedError struct {
	cause   error
	message string
	trace   []string
	wrap    error
	code    int
	kind    Kind
	data    map[string]interface{}
}

func (e *CustomizedError) WithData(data map[string]interface{}) *CustomizedError {
	e.data = data
	return e
}

func (e *CustomizedError) Data() map[string]interface{} {
	return e.data
}

func (e *CustomizedError) Code(c int) *CustomizedError {
	e.code = c
	return e
}

func (e *CustomizedError) GetCode() int {
	return e.code
}

func (e *CustomizedError) WithKind(k Kind) *CustomizedError {
	e.kind = k
	return e
}

func (e *CustomizedError) Kind() Kind {
	return e.kind
}

func New(trace, message string, err error) *CustomizedError {
	code := http.StatusInternalServerError
	return &CustomizedError{
		cause:   err,
		message: message,
		trace:   []string{trace},
		code:    code,
	}
}

func (e *CustomizedError) Trace(trace string) *CustomizedError {
	e.trace = append(e.trace, trace)
	return e
}

// Wrap keeps the http code and kind of a wrapped CustomizedError.
func Wrap(err error, trace, message string) *CustomizedError {
	ce := &CustomizedError{
		cause:   err,
		message: message,
		trace:   []string{trace},
		wrap:    err,
		code:    http.StatusInternalServerError,
	}
	var income *CustomizedError
	if stderrors.As(err, &income) {
		ce.code = income.code
		ce.kind = income.kind
	}
	return ce
}

func Trace(trace string, err error) *CustomizedError {
	if ce, ok := err.(*CustomizedError); ok {
		ce.trace = append(ce.trace, trace)
		return ce
	}
	return Wrap(err, trace, err.Error())
}

func (e *CustomizedError) Message() string {
	if e.message == "" && e.cause != nil {
		return e.cause.Error()
	}
	return e.message
}

func (e *CustomizedError) Unwrap() error {
	return e.cause
}

func (e *CustomizedError) Error() string {
	otherDetails := `""`
	if ce, ok := e.wrap.(*CustomizedError); ok {
		otherDetails = ce.Error()
	} else if e.wrap != nil {
		otherDetails = fmt.Sprint("\"", e.wrap.Error(), "\"")
	}
	return fmt.Sprintf(`{"trace":"%s","code":%d,"kind":"%s","msg":"%s","error":"%v","wrapd":%s}`,
		strings.Join(e.trace, "->"), e.code, e.kind, e.message, e.cause, otherDetails)
}

// KindOf returns the first kind found walking err's chain, joined errors
// included.
func KindOf(err error) Kind {
	switch e := err.(type) {
	case nil:
		return KindUnknown
	case *CustomizedError:
		if e.kind != KindUnknown {
			return e.kind
		}
		return KindOf(e.cause)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if k := KindOf(inner); k != KindUnknown {
				return k
			}
		}
	case interface{ Unwrap() error }:
		return KindOf(e.Unwrap())
	}
	return KindUnknown
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
