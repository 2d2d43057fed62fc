package signature

import "errors"

// Sentinel errors returned by Verify and ParseHeader.
var (
	ErrMissingHeader    = errors.New("missing authorization header")
	ErrMalformedHeader  = errors.New("malformed oauth authorization header")
	ErrMissingSignature = errors.New("missing oauth_signature")
	ErrInvalidSignature = errors.New("invalid oauth signature")
)
