package auth

import "errors"

var (
	// ErrNoChallenge is returned when a header value holds no challenge
	// of the requested scheme.
	ErrNoChallenge = errors.New("no challenge")

	// ErrMalformedChallenge is returned for challenges that cannot be
	// tokenized, or Digest challenges without a nonce.
	ErrMalformedChallenge = errors.New("malformed challenge")

	// ErrUnsupportedAlgorithm is returned for Digest algorithms other
	// than MD5, SHA-256, SHA-512-256 and their -sess variants.
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

	// ErrUnsupportedQop is returned when the server offers no quality
	// of protection this package implements.
	ErrUnsupportedQop = errors.New("unsupported qop")
)
