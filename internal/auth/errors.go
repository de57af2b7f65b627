package auth

import "errors"

// Sentinel errors for the auth package.
var (
	ErrTokenConsumed = errors.New("sso exchange token already consumed")
)
