package auth

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"net/http"
	"slices"
	"strings"
	"sync"
)

type digestAlgorithm struct {
	newHash func() hash.Hash
	sess    bool
}

func (a digestAlgorithm) h(data string) string {
	return hexDigest(a.newHash, data)
}

var digestAlgorithms = map[string]digestAlgorithm{
	"MD5":              {md5.New, false},
	"MD5-SESS":         {md5.New, true},
	"SHA-256":          {sha256.New, false},
	"SHA-256-SESS":     {sha256.New, true},
	"SHA-512-256":      {sha512.New512_256, false},
	"SHA-512-256-SESS": {sha512.New512_256, true},
}

func lookupAlgorithm(name string) (digestAlgorithm, error) {
	alg, ok := digestAlgorithms[strings.ToUpper(name)]
	if !ok {
		return digestAlgorithm{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return alg, nil
}

// selectQop prefers "auth" over "auth-int". An empty result with a nil
// error means the challenge predates qop (RFC 2069).
func selectQop(offered []string) (string, error) {
	switch {
	case offered == nil:
		return "", nil
	case slices.Contains(offered, "auth"):
		return "auth", nil
	case slices.Contains(offered, "auth-int"):
		return "auth-int", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedQop, strings.Join(offered, ","))
}

// DigestState is the nonce bookkeeping of a DigestAuth.
type DigestState struct {
	LastNonce  string
	NonceCount uint32
}

// DigestAuth is an authenticator implementation for 'Digest' HTTP
// Authentication scheme (RFC 7616).
//
// The first flow of a DigestAuth sends the request unauthenticated and
// answers a 401 challenge with a single authenticated retry. The
// challenge is remembered, so later flows authenticate their first
// request right away with an increased nonce count, as long as the
// request goes to the origin that issued the challenge.
//
// A DigestAuth may be shared by flows running in different goroutines.
type DigestAuth struct {
	Credentials
	cfg config

	mutex  sync.Mutex
	state  DigestState
	last   *Challenge
	origin string
}

// check that DigestAuth implements Authenticator
var _ = (Authenticator)((*DigestAuth)(nil))

// NewDigestAuth returns a DigestAuth for the given credentials.
func NewDigestAuth(username, password string, opts ...Option) *DigestAuth {
	a := &DigestAuth{
		Credentials: Credentials{Username: username, Password: password},
		cfg:         defaultConfig(),
	}
	for _, opt := range opts {
		opt(&a.cfg)
	}
	return a
}

// State returns a snapshot of the nonce bookkeeping.
func (a *DigestAuth) State() DigestState {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.state
}

// Flow returns a new two-step flow.
func (a *DigestAuth) Flow() Flow {
	return &digestFlow{auth: a}
}

// lastChallenge returns the remembered challenge if it was issued by
// the origin r is sent to.
func (a *DigestAuth) lastChallenge(r *http.Request) *Challenge {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.last == nil || a.origin != origin(r) {
		return nil
	}
	return a.last
}

func origin(r *http.Request) string {
	return strings.ToLower(r.URL.Scheme + "://" + r.URL.Host)
}

// nextNonceCount records a request to r authenticated against c and
// returns its nonce count. A fresh challenge replaces the remembered one.
func (a *DigestAuth) nextNonceCount(r *http.Request, c *Challenge, fresh bool) uint32 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if fresh {
		if a.cfg.resetNonceCount && c.Nonce() != a.state.LastNonce {
			a.state.NonceCount = 0
		}
		a.last = c
		a.origin = origin(r)
	}
	a.state.NonceCount++
	a.state.LastNonce = c.Nonce()
	return a.state.NonceCount
}

// authorize sets the Digest credentials for challenge c on r.
func (a *DigestAuth) authorize(r *http.Request, c *Challenge, fresh bool) error {
	alg, err := lookupAlgorithm(c.Algorithm())
	if err != nil {
		return err
	}
	qop, err := selectQop(c.QopOptions())
	if err != nil {
		return err
	}
	var body []byte
	if qop == "auth-int" {
		if body, err = readBody(r); err != nil {
			return err
		}
	}

	nc := a.nextNonceCount(r, c, fresh)
	value := a.authorization(digestParams{
		alg:    alg,
		c:      c,
		method: r.Method,
		uri:    digestURI(r),
		qop:    qop,
		nc:     nc,
		cnonce: a.cfg.cnonce(),
		body:   body,
	})
	r.Header.Set(a.cfg.headers.V().Authorization, value)
	return nil
}

// digestURI returns the request-target as sent on the wire.
func digestURI(r *http.Request) string {
	if r.Method == http.MethodConnect {
		return r.URL.Host
	}
	return r.URL.RequestURI()
}

type digestParams struct {
	alg    digestAlgorithm
	c      *Challenge
	method string
	uri    string
	qop    string
	nc     uint32
	cnonce string
	body   []byte
}

// authorization computes the response digest and assembles the header
// value.
func (a *DigestAuth) authorization(p digestParams) string {
	realm, nonce := p.c.Realm(), p.c.Nonce()
	nc := fmt.Sprintf("%08x", p.nc)

	HA1 := p.alg.h(a.Username + ":" + realm + ":" + a.Password)
	if p.alg.sess {
		HA1 = p.alg.h(strings.Join([]string{HA1, nonce, p.cnonce}, ":"))
	}
	HA2 := p.alg.h(p.method + ":" + p.uri)
	if p.qop == "auth-int" {
		HA2 = p.alg.h(p.method + ":" + p.uri + ":" + p.alg.h(string(p.body)))
	}
	var KD string
	if p.qop == "" {
		KD = p.alg.h(strings.Join([]string{HA1, nonce, HA2}, ":"))
	} else {
		KD = p.alg.h(strings.Join([]string{HA1, nonce, nc, p.cnonce, p.qop, HA2}, ":"))
	}

	username := a.Username
	if p.c.Userhash() {
		username = p.alg.h(a.Username + ":" + realm)
	}
	parts := []string{
		"username=" + quote(username),
		"realm=" + quote(realm),
		"nonce=" + quote(nonce),
		"uri=" + quote(p.uri),
		"algorithm=" + p.c.Algorithm(),
		"response=" + quote(KD),
	}
	if p.qop != "" {
		parts = append(parts, "qop="+p.qop, "nc="+nc, "cnonce="+quote(p.cnonce))
	} else if p.alg.sess {
		parts = append(parts, "cnonce="+quote(p.cnonce))
	}
	if opaque, ok := p.c.Get("opaque"); ok {
		parts = append(parts, "opaque="+quote(opaque))
	}
	if p.c.Userhash() {
		parts = append(parts, "userhash=true")
	}
	return "Digest " + strings.Join(parts, ", ")
}

type digestStep int

const (
	digestInitial digestStep = iota
	digestProbe
	digestDone
)

type digestFlow struct {
	auth *DigestAuth
	step digestStep
	req  *http.Request
}

func (f *digestFlow) Begin(r *http.Request) *http.Request {
	if f.step != digestInitial {
		return nil
	}
	f.step = digestProbe
	log := f.auth.cfg.log

	req := r.Clone(r.Context())
	if err := makeRewindable(req); err != nil {
		log.Debugw("cannot buffer request body", "error", err)
	}
	if c := f.auth.lastChallenge(req); c != nil {
		if err := f.auth.authorize(req, c, false); err != nil {
			log.Debugw("cannot reuse digest challenge", "error", err)
		}
	}
	f.req = req
	return req
}

func (f *digestFlow) Resume(resp *http.Response) *http.Request {
	if f.step != digestProbe {
		return nil
	}
	f.step = digestDone
	log := f.auth.cfg.log
	headers := f.auth.cfg.headers.V()

	if resp == nil || resp.StatusCode != headers.UnauthCode {
		return nil
	}
	c, err := ParseDigestChallenge(resp.Header.Values(headers.Authenticate)...)
	if err != nil {
		log.Debugw("no usable digest challenge", "status", resp.StatusCode, "error", err)
		return nil
	}

	next, err := cloneRequest(f.req)
	if err != nil {
		log.Debugw("cannot replay request body", "error", err)
		return nil
	}
	if err := f.auth.authorize(next, c, true); err != nil {
		log.Debugw("cannot answer digest challenge", "realm", c.Realm(), "algorithm", c.Algorithm(), "error", err)
		return nil
	}
	copyCookies(next, resp)
	log.Debugw("answering digest challenge", "realm", c.Realm(), "algorithm", c.Algorithm(), "stale", c.Stale())
	return next
}

// DigestHash returns the lower-case hex hash function for a Digest
// algorithm name. Session variants map to their base hash.
func DigestHash(algorithm string) (func(data string) string, error) {
	alg, err := lookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	return alg.h, nil
}
