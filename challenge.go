package auth

import (
	"fmt"
	"strings"
)

// Param is a single auth-param of a challenge. Key is lower case,
// Value is unquoted.
type Param struct {
	Key   string
	Value string
}

// Challenge is one challenge of a WWW-Authenticate (or
// Proxy-Authenticate) header value.
type Challenge struct {
	Scheme  string
	Token68 string
	Params  []Param
}

// Get returns the value of the directive key (case-insensitive).
func (c *Challenge) Get(key string) (string, bool) {
	key = strings.ToLower(key)
	for _, p := range c.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

func (c *Challenge) get(key string) string {
	v, _ := c.Get(key)
	return v
}

func (c *Challenge) set(key, value string) {
	for i := range c.Params {
		if c.Params[i].Key == key {
			c.Params[i].Value = value
			return
		}
	}
	c.Params = append(c.Params, Param{Key: key, Value: value})
}

// Is reports whether the challenge uses the given scheme.
func (c *Challenge) Is(scheme string) bool {
	return strings.EqualFold(c.Scheme, scheme)
}

func (c *Challenge) Realm() string  { return c.get("realm") }
func (c *Challenge) Nonce() string  { return c.get("nonce") }
func (c *Challenge) Opaque() string { return c.get("opaque") }

// Algorithm returns the algorithm directive, or MD5 if absent.
func (c *Challenge) Algorithm() string {
	if a := c.get("algorithm"); a != "" {
		return a
	}
	return "MD5"
}

// QopOptions returns the lower-cased qop values offered by the server.
// It is nil when the challenge has no qop directive (RFC 2069 mode).
func (c *Challenge) QopOptions() []string {
	v, ok := c.Get("qop")
	if !ok {
		return nil
	}
	var opts []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, strings.ToLower(o))
		}
	}
	return opts
}

// Domain returns the space-separated URIs of the domain directive.
func (c *Challenge) Domain() []string {
	return strings.Fields(c.get("domain"))
}

func (c *Challenge) Stale() bool    { return strings.EqualFold(c.get("stale"), "true") }
func (c *Challenge) Userhash() bool { return strings.EqualFold(c.get("userhash"), "true") }

// ParseChallenges parses a header value that may hold several
// comma-separated challenges. Quoted values may contain commas and
// backslash escapes.
func ParseChallenges(s string) ([]*Challenge, error) {
	p := &challengeParser{s: s}
	var (
		out []*Challenge
		cur *Challenge
	)
	for {
		p.skip(" \t,")
		if p.eof() {
			break
		}
		tok := p.token()
		if tok == "" {
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformedChallenge, p.s[p.i], p.i)
		}
		p.skip(" \t")
		if p.eof() || p.s[p.i] != '=' {
			cur = &Challenge{Scheme: tok}
			out = append(out, cur)
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("%w: parameter %q before auth scheme", ErrMalformedChallenge, tok)
		}
		if len(cur.Params) == 0 && cur.Token68 == "" {
			if t68, ok := p.token68(tok); ok {
				cur.Token68 = t68
				continue
			}
		}
		p.i++ // '='
		p.skip(" \t")
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		cur.set(strings.ToLower(tok), val)
	}
	if len(out) == 0 {
		return nil, ErrNoChallenge
	}
	return out, nil
}

// ParseChallenge returns the first challenge of s.
func ParseChallenge(s string) (*Challenge, error) {
	cs, err := ParseChallenges(s)
	if err != nil {
		return nil, err
	}
	return cs[0], nil
}

// ParseDigestChallenge returns the first usable Digest challenge found
// in the given header values. Values that cannot be tokenized are
// skipped. A usable challenge carries a nonce and names an algorithm
// and qop this package implements; servers list their challenges in
// order of preference (RFC 7616, section 3.7).
func ParseDigestChallenge(values ...string) (*Challenge, error) {
	var digestErr error
	lastErr := ErrNoChallenge
	for _, v := range values {
		cs, err := ParseChallenges(v)
		if err != nil {
			lastErr = err
			continue
		}
		for _, c := range cs {
			if !c.Is("Digest") {
				continue
			}
			if err := usableDigest(c); err != nil {
				if digestErr == nil {
					digestErr = err
				}
				continue
			}
			return c, nil
		}
	}
	if digestErr != nil {
		return nil, digestErr
	}
	return nil, lastErr
}

func usableDigest(c *Challenge) error {
	if c.Nonce() == "" {
		return fmt.Errorf("%w: digest challenge without nonce", ErrMalformedChallenge)
	}
	if _, err := lookupAlgorithm(c.Algorithm()); err != nil {
		return err
	}
	_, err := selectQop(c.QopOptions())
	return err
}

type challengeParser struct {
	s string
	i int
}

func (p *challengeParser) eof() bool { return p.i >= len(p.s) }

func (p *challengeParser) skip(set string) {
	for !p.eof() && strings.IndexByte(set, p.s[p.i]) >= 0 {
		p.i++
	}
}

func (p *challengeParser) token() string {
	start := p.i
	for !p.eof() && strings.IndexByte(" \t,=\"", p.s[p.i]) < 0 {
		p.i++
	}
	return p.s[start:p.i]
}

// token68 checks whether tok followed by '=' padding ends a challenge
// (e.g. "Negotiate YII=="), and consumes the padding if so.
func (p *challengeParser) token68(tok string) (string, bool) {
	j := p.i
	for j < len(p.s) && p.s[j] == '=' {
		j++
	}
	k := j
	for k < len(p.s) && (p.s[k] == ' ' || p.s[k] == '\t') {
		k++
	}
	if k == len(p.s) || p.s[k] == ',' {
		t68 := tok + p.s[p.i:j]
		p.i = j
		return t68, true
	}
	return "", false
}

func (p *challengeParser) value() (string, error) {
	if p.eof() {
		return "", nil
	}
	if p.s[p.i] != '"' {
		start := p.i
		for !p.eof() && p.s[p.i] != ',' && p.s[p.i] != ' ' && p.s[p.i] != '\t' {
			p.i++
		}
		return p.s[start:p.i], nil
	}
	p.i++
	var b strings.Builder
	for !p.eof() {
		c := p.s[p.i]
		switch {
		case c == '\\' && p.i+1 < len(p.s):
			b.WriteByte(p.s[p.i+1])
			p.i += 2
		case c == '"':
			p.i++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.i++
		}
	}
	return "", fmt.Errorf("%w: unterminated quoted string", ErrMalformedChallenge)
}
