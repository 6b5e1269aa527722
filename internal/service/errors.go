package service

import (
	"github.com/pkg/errors"
)

var (
	ErrBookNotFound       = errors.New("book not found")
	ErrTagNotFound        = errors.New("tag not found")
	ErrTagLinkNotFound    = errors.New("tag not associated with book")
	ErrCommentNotFound    = errors.New("comment not found")
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
)

// InvalidInputError carries a user-facing validation message to the
// transport layer, where it maps to a 400.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}

func invalidInput(reason string) error {
	return &InvalidInputError{Reason: reason}
}
