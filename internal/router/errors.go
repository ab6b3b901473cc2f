package router

import "errors"

// Router-specific error types
var (
	ErrPolicyFailure = errors.New("access policy unavailable")
)
