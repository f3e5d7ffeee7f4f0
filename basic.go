package auth

import (
	"encoding/base64"
	"net/http"
)

// BasicAuth is an authenticator implementation for 'Basic' HTTP
// Authentication scheme (RFC 7617). Credentials are sent on the first
// request without waiting for a challenge.
type BasicAuth struct {
	Credentials
	cfg config
}

// check that BasicAuth implements Authenticator
var _ = (Authenticator)((*BasicAuth)(nil))

// NewBasicAuth returns a BasicAuth for the given credentials.
func NewBasicAuth(username, password string, opts ...Option) *BasicAuth {
	a := &BasicAuth{
		Credentials: Credentials{Username: username, Password: password},
		cfg:         defaultConfig(),
	}
	for _, opt := range opts {
		opt(&a.cfg)
	}
	return a
}

// Flow returns a new single-step flow.
func (a *BasicAuth) Flow() Flow {
	return &basicFlow{auth: a}
}

// authorization returns the Basic credentials header value.
func (a *BasicAuth) authorization() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.Username+":"+a.Password))
}

type basicFlow struct {
	auth    *BasicAuth
	started bool
}

func (f *basicFlow) Begin(r *http.Request) *http.Request {
	if f.started {
		return nil
	}
	f.started = true
	req := r.Clone(r.Context())
	req.Header.Set(f.auth.cfg.headers.V().Authorization, f.auth.authorization())
	return req
}

// Resume ends the flow whatever the response status.
func (f *basicFlow) Resume(*http.Response) *http.Request {
	return nil
}
