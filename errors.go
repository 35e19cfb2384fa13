package leadtrack

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrDuplicatedLead  = errors.New("lead already exists this month")
	ErrLeadNotFound    = errors.New("lead not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrForbidden       = errors.New("not allowed to access this resource")
	ErrInvalidReferral = errors.New("invalid referral link")
	ErrUnauthorized    = errors.New("authentication required")
)

// ConflictError reports the lead that blocks a new one in the current month.
type ConflictError struct {
	LeadID  string
	Creator UserRef
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"a lead with this PAN or national ID was already created this month by %s (%s); please try again next month",
		e.Creator.Name, e.Creator.Email,
	)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrDuplicatedLead
}

// Invalidf returns a validation error with a field specific message.
func Invalidf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }
