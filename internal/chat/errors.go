package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/lobby/internal/backend"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingSender     = errors.New("sender identifier is required")
	errMissingTarget     = errors.New("channel or recipient identifier is required")
	errEmptyContent      = errors.New("message content is empty")
	errContentTooLong    = fmt.Errorf("message content exceeds %d bytes", MaxContentLength)
	errSelfMessage       = errors.New("sender and recipient must differ")
)

// ServiceError carries a "<operation>.<reason>" code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

// newServiceError classifies cause and wraps it for the collaborator boundary.
func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return backend.NewError(Classify(cause), operation, &ServiceError{code: code, err: cause})
}

func newInvalidError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return backend.NewError(backend.KindInvalidRequest, operation, &ServiceError{code: code, err: cause})
}

// Classify maps driver and ORM errors onto collaborator error kinds.
func Classify(err error) backend.ErrorKind {
	if err == nil {
		return backend.KindGeneric
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return backend.KindNotFound
	}
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "no such table"), strings.Contains(message, "does not exist") && strings.Contains(message, "relation"):
		return backend.KindRelationNotFound
	case strings.Contains(message, "no such column"):
		return backend.KindColumnNotFound
	default:
		return backend.KindGeneric
	}
}
