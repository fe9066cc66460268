package auth

import "errors"

var (
	// ErrTokenInvalid is returned for malformed tokens, bad signatures and
	// disallowed signing methods.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenExpired is returned for correctly signed tokens past their expiry.
	ErrTokenExpired = errors.New("auth: token has expired")

	// ErrWrongDomain is returned when a token carries another domain's audience.
	ErrWrongDomain = errors.New("auth: token issued for another domain")

	// ErrNotProvisioned is returned when a unit has no topic allocations.
	ErrNotProvisioned = errors.New("auth: unit has no topic allocations")

	// ErrSharedSecret is returned by NewIssuer when both domains use the same secret.
	ErrSharedSecret = errors.New("auth: application and broker secrets must differ")

	// ErrMissingSecret is returned by NewIssuer when a secret is empty.
	ErrMissingSecret = errors.New("auth: signing secret is required")

	// ErrInvalidHash is returned when a stored password hash cannot be parsed.
	ErrInvalidHash = errors.New("auth: invalid password hash")
)
