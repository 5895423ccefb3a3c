package app

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the caller has no profile or may not act on the target.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound covers missing scopes, missing messages, and scopes the caller
	// is not a member of.
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("invalid request")
	ErrEmptyContent    = fmt.Errorf("%w: content required", ErrValidation)
	ErrRateLimited     = errors.New("rate limited")
	ErrExternalService = errors.New("external service unavailable")
)
