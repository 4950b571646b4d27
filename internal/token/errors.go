package token

import "errors"

var (
	// ErrMalformedToken means the token could not be decoded into a claims object
	ErrMalformedToken = errors.New("malformed token")
	// ErrInvalidToken means the token decoded but failed signature or time validation
	ErrInvalidToken = errors.New("invalid token")
	// ErrSigningSecretMissing means the verifying decoder was built without a secret.
	// It is a configuration fault, not a session fault.
	ErrSigningSecretMissing = errors.New("token signing secret is not configured")
	// ErrUnknownMode means the decoder mode is neither decode nor verify
	ErrUnknownMode = errors.New("unknown token mode")
)

// IsSessionError reports whether err describes a bad session token rather than a gateway fault
func IsSessionError(err error) bool {
	return errors.Is(err, ErrMalformedToken) || errors.Is(err, ErrInvalidToken)
}
