// Package auth implements client-side HTTP authentication flows for the
// 'Basic' (RFC 7617) and 'Digest' (RFC 7616, RFC 2617) schemes.
//
// An Authenticator hands out one Flow per logical request. The caller
// drives the flow: Begin returns the first request to send, and every
// response is fed back through Resume, which returns the next request
// or nil once the exchange is over. Do, Go and Transport are ready-made
// drivers.
package auth

import (
	"net/http"
)

// Credentials holds the user name and password presented to the
// server. Both are used byte for byte, without normalization.
type Credentials struct {
	Username string
	Password string
}

// Flow is a single authentication exchange.
//
// Begin must be called exactly once with the initial request. After
// each returned request is sent, the resulting response must be passed
// to Resume. A nil request means the flow is done; a done flow returns
// nil from every later Resume call.
//
// A Flow must not be driven from several goroutines at once.
type Flow interface {
	Begin(r *http.Request) *http.Request
	Resume(resp *http.Response) *http.Request
}

// Authenticator creates flows. Implementations may keep state across
// flows (DigestAuth remembers the last challenge and the nonce count).
type Authenticator interface {
	Flow() Flow
}

// Headers contains header and status code names used by an
// authenticator.
type Headers struct {
	Authenticate  string // WWW-Authenticate
	Authorization string // Authorization
	UnauthCode    int    // 401
}

// V returns NormalHeaders when h is nil, or h otherwise. Allows to
// use uninitialized *Headers values in structs.
func (h *Headers) V() *Headers {
	if h == nil {
		return NormalHeaders
	}
	return h
}

var (
	// NormalHeaders are the regular Headers used by an HTTP Server for
	// request authentication.
	NormalHeaders = &Headers{
		Authenticate:  "WWW-Authenticate",
		Authorization: "Authorization",
		UnauthCode:    http.StatusUnauthorized,
	}

	// ProxyHeaders are Headers used by an HTTP Proxy server for proxy
	// access authentication.
	ProxyHeaders = &Headers{
		Authenticate:  "Proxy-Authenticate",
		Authorization: "Proxy-Authorization",
		UnauthCode:    http.StatusProxyAuthRequired,
	}
)
