package apperrors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAmbiguousEntity     = errors.New("entity name is ambiguous")
	ErrRegistryUnavailable = errors.New("company registry unavailable")
	ErrInvalidKennitala    = errors.New("invalid kennitala")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidEmail        = errors.New("invalid email address")
)
