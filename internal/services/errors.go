package services

import (
	"errors"
	"strings"
)

var (
	ErrMissingCredentials   = errors.New("email and password are required")
	ErrInvalidRole          = errors.New("unknown account role")
	ErrPasswordTooLong      = errors.New("password must be at most 72 bytes")
	ErrDuplicateEmail       = errors.New("an account with this email already exists")
	ErrManagerAlreadyExists = errors.New("a manager account already exists, only one is allowed")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrUnauthenticated      = errors.New("you must be logged in")
	ErrForbidden            = errors.New("you are not allowed to access this request")

	ErrFieldValidation = errors.New("validation failed")

	ErrUploadEmpty              = errors.New("no files selected")
	ErrTooManyDocuments         = errors.New("too many files")
	ErrDocumentTooLarge         = errors.New("file is too large")
	ErrUnsupportedDocumentType  = errors.New("unsupported file type, accepted types are PDF, JPEG and PNG")
	ErrInvalidDocumentReference = errors.New("invalid document reference")

	ErrInvalidTransition = errors.New("request status cannot advance further")
	ErrStaleStatus       = errors.New("request status was changed by someone else")
)

// FieldError describes one invalid form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every failing field of a form.
// It matches ErrFieldValidation with errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return ErrFieldValidation.Error() + ": " + strings.Join(names, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrFieldValidation
}
