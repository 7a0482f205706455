package dvm

import "errors"

var (
	ErrUnknownKey    = errors.New("dvm: unknown key")
	ErrUnknownValue  = errors.New("dvm: unknown value")
	ErrKindMismatch  = errors.New("dvm: value kind does not match key")
	ErrConflictInput = errors.New("dvm: conflicting values for key")
)
