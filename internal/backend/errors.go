package backend

import (
	"errors"
	"fmt"
)

// ErrorKind classifies collaborator failures the core must tell apart.
type ErrorKind int

const (
	// KindGeneric covers every failure without a more specific kind.
	KindGeneric ErrorKind = iota
	// KindNotFound reports a missing record.
	KindNotFound
	// KindRelationNotFound reports a table the backend has not provisioned.
	KindRelationNotFound
	// KindColumnNotFound reports a column absent from the backend schema.
	KindColumnNotFound
	// KindUnauthorized reports a missing or rejected session.
	KindUnauthorized
	// KindProviderDisabled reports a sign-in provider the backend has not enabled.
	KindProviderDisabled
	// KindInvalidRequest reports input the backend refused to process.
	KindInvalidRequest
)

var kindCodes = map[ErrorKind]string{
	KindGeneric:          "internal",
	KindNotFound:         "not_found",
	KindRelationNotFound: "relation_not_found",
	KindColumnNotFound:   "column_not_found",
	KindUnauthorized:     "unauthorized",
	KindProviderDisabled: "provider_not_enabled",
	KindInvalidRequest:   "invalid_request",
}

// Code returns the wire code for the kind.
func (k ErrorKind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindGeneric]
}

func (k ErrorKind) String() string {
	return k.Code()
}

// KindFromCode maps a wire code back to its kind.
func KindFromCode(code string) ErrorKind {
	for kind, value := range kindCodes {
		if value == code {
			return kind
		}
	}
	return KindGeneric
}

// Error is a classified collaborator failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps cause with a kind and operation name.
func NewError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or KindGeneric.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindGeneric
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
