package auth

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Doer sends a single request. *http.Client and http.RoundTripper
// adapters satisfy it.
type Doer interface {
	Do(r *http.Request) (*http.Response, error)
}

// RoundTripperDoer adapts an http.RoundTripper to Doer.
type RoundTripperDoer struct {
	http.RoundTripper
}

func (d RoundTripperDoer) Do(r *http.Request) (*http.Response, error) {
	return d.RoundTrip(r)
}

// discardLimit bounds how much of an intermediate response body is
// drained so the connection can be reused.
const discardLimit = 64 << 10

// Do drives a fresh flow of a to completion, sending every request
// through d. The response to the last request is returned; earlier
// response bodies are drained and closed.
func Do(ctx context.Context, d Doer, a Authenticator, r *http.Request) (*http.Response, error) {
	return drive(ctx, d, a.Flow(), r.WithContext(ctx))
}

func drive(ctx context.Context, d Doer, flow Flow, r *http.Request) (*http.Response, error) {
	req := flow.Begin(r)
	if req == nil {
		return nil, errors.New("auth: flow produced no request")
	}
	c, ok := d.(*http.Client)
	hasJar := ok && c.Jar != nil
	for {
		// http.Client adds jar cookies to the request it is given, so
		// the flow's copy must stay untouched for the retry.
		resp, err := d.Do(req.Clone(req.Context()))
		if err != nil {
			return nil, err
		}
		next := flow.Resume(withoutCookies(resp, hasJar))
		if next == nil {
			return resp, nil
		}
		io.CopyN(io.Discard, resp.Body, discardLimit)
		resp.Body.Close()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req = next
	}
}

// withoutCookies hides Set-Cookie from the flow when the client's jar
// already re-applies cookies to every request it sends.
func withoutCookies(resp *http.Response, hasJar bool) *http.Response {
	if !hasJar || len(resp.Header.Values("Set-Cookie")) == 0 {
		return resp
	}
	r := *resp
	r.Header = resp.Header.Clone()
	r.Header.Del("Set-Cookie")
	return &r
}

// Result is the outcome of an asynchronous flow started by Go.
type Result struct {
	Response *http.Response
	Err      error
}

// Go runs Do in a new goroutine. The returned channel receives exactly
// one Result and is then closed.
func Go(ctx context.Context, d Doer, a Authenticator, r *http.Request) <-chan Result {
	ch := make(chan Result, 1)
	flow := a.Flow()
	go func() {
		defer close(ch)
		resp, err := drive(ctx, d, flow, r.WithContext(ctx))
		ch <- Result{Response: resp, Err: err}
	}()
	return ch
}

// Transport is an http.RoundTripper that authenticates every request
// it carries with Auth.
type Transport struct {
	// Base is the underlying RoundTripper. http.DefaultTransport is
	// used when nil.
	Base http.RoundTripper
	Auth Authenticator
	Log  *zap.SugaredLogger
}

// NewTransport returns a Transport authenticating with a on top of
// base.
func NewTransport(base http.RoundTripper, a Authenticator) *Transport {
	return &Transport{Base: base, Auth: a}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	log := t.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	resp, err := drive(r.Context(), loggingDoer{t.base(), log}, t.Auth.Flow(), r)
	if err != nil {
		log.Debugw("authenticated round trip failed", "url", r.URL.Redacted(), "error", err)
	}
	return resp, err
}

// Client returns an http.Client using the Transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

type loggingDoer struct {
	rt  http.RoundTripper
	log *zap.SugaredLogger
}

func (d loggingDoer) Do(r *http.Request) (*http.Response, error) {
	resp, err := d.rt.RoundTrip(r)
	if err == nil {
		d.log.Debugw("round trip",
			"method", r.Method,
			"url", r.URL.Redacted(),
			"authorized", r.Header.Get("Authorization") != "" || r.Header.Get("Proxy-Authorization") != "",
			"status", resp.StatusCode)
	}
	return resp, err
}

// ClientOpt modifies an http.Client.
type ClientOpt func(*http.Client) error

// DecorateClient applies opts to c in order.
func DecorateClient(c *http.Client, opts ...ClientOpt) (*http.Client, error) {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithAuth wraps the client's transport with a Transport using a.
func WithAuth(a Authenticator) ClientOpt {
	return func(c *http.Client) error {
		if a == nil {
			return errors.New("auth: nil authenticator")
		}
		c.Transport = &Transport{Base: c.Transport, Auth: a}
		return nil
	}
}

// WithLogging sets the logger of a Transport installed by WithAuth.
func WithLogging(log *zap.SugaredLogger) ClientOpt {
	return func(c *http.Client) error {
		t, ok := c.Transport.(*Transport)
		if !ok {
			return errors.New("auth: client transport is not an auth Transport")
		}
		t.Log = log
		return nil
	}
}
