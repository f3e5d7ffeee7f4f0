package auth

import (
	"go.uber.org/zap"
)

type config struct {
	headers         *Headers
	log             *zap.SugaredLogger
	resetNonceCount bool
	cnonce          func() string
}

func defaultConfig() config {
	return config{
		log:    zap.NewNop().Sugar(),
		cnonce: newCnonce,
	}
}

// Option configures a BasicAuth or DigestAuth.
type Option func(*config)

// WithLogger sets the logger used for debug events. Credentials are
// never logged.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHeaders selects the header set, e.g. ProxyHeaders for
// Proxy-Authenticate / Proxy-Authorization.
func WithHeaders(h *Headers) Option {
	return func(c *config) {
		c.headers = h
	}
}

// WithNonceCountReset makes DigestAuth restart the nonce count at 1
// whenever the server issues a nonce different from the last one.
// By default the count keeps increasing for the authenticator's
// lifetime.
func WithNonceCountReset() Option {
	return func(c *config) {
		c.resetNonceCount = true
	}
}

// WithCnonce replaces the client nonce generator.
func WithCnonce(gen func() string) Option {
	return func(c *config) {
		if gen != nil {
			c.cnonce = gen
		}
	}
}
