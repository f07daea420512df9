package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrInvalidInput)
	ErrFileRequired    = fmt.Errorf("%w: file is required", ErrInvalidInput)
	ErrStorageFailure  = errors.New("storage failure")
	ErrAnchorFailure   = errors.New("anchor failure")
	ErrNotFound        = errors.New("not found")
	ErrDuplicateID     = errors.New("duplicate id")
	ErrUnauthorized    = errors.New("unauthorized")
)

// AdmissionError carries the reasons an upload was refused by policy.
type AdmissionError struct {
	Reasons []string
}

func (e *AdmissionError) Error() string {
	if len(e.Reasons) == 0 {
		return "upload denied by admission policy"
	}
	return fmt.Sprintf("upload denied by admission policy: %v", e.Reasons)
}

func (e *AdmissionError) Unwrap() error {
	return ErrInvalidInput
}
