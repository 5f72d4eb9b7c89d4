package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates an invalid request payload.
	ErrValidation = errors.New("validation failed")
	// ErrRuleViolation indicates a well-formed request that breaks a business rule.
	ErrRuleViolation = errors.New("business rule violated")
)
