// Package authtest provides HTTP handlers that challenge and verify
// Basic and Digest credentials, for exercising clients against a real
// server with httptest.
package authtest

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	auth "github.com/abbot/go-http-authflow"
)

// PasswordProvider returns the plain text password of user in realm,
// or an empty string for unknown users.
type PasswordProvider func(user, realm string) string

const DefaultNcCacheSize = 65536

type digestClient struct {
	/*
	   ncsSeen records the nc values seen for a nonce. Replays are
	   rejected without requiring nc values to arrive in order.
	*/
	ncsSeen  *BitSet
	lastSeen int64
}

// DigestServer wraps handlers with 'Digest' HTTP Authentication
// (RFC 7616).
type DigestServer struct {
	Realm     string
	Opaque    string
	Secrets   PasswordProvider
	Algorithm string   // MD5 when empty
	Qop       []string // {"auth"} when nil; empty slice for RFC 2069 challenges
	Userhash  bool
	// Users lists the user names resolvable from a userhash.
	Users []string
	// Headers used by the server. Set to auth.ProxyHeaders to answer
	// with 407 Proxy-Authenticate.
	Headers *auth.Headers

	NcCacheSize uint64 // The max number of nc values we remember before issuing a new nonce

	/*
	   Approximate size of Client's Cache. When actual number of
	   tracked client nonces exceeds
	   ClientCacheSize+ClientCacheTolerance, ClientCacheTolerance*2
	   older entries are purged.
	*/
	ClientCacheSize      int
	ClientCacheTolerance int

	clients map[string]*digestClient
	mutex   sync.Mutex
}

// Default values for ClientCacheSize and ClientCacheTolerance.
const (
	DefaultClientCacheSize      = 1000
	DefaultClientCacheTolerance = 100
)

// NewDigestServer returns a DigestServer issuing MD5 challenges with
// qop=auth.
func NewDigestServer(realm string, secrets PasswordProvider) *DigestServer {
	return &DigestServer{
		Realm:                realm,
		Opaque:               auth.RandomKey(),
		Secrets:              secrets,
		NcCacheSize:          DefaultNcCacheSize,
		ClientCacheSize:      DefaultClientCacheSize,
		ClientCacheTolerance: DefaultClientCacheTolerance,
		clients:              map[string]*digestClient{},
	}
}

type digestCacheEntry struct {
	nonce    string
	lastSeen int64
}

// purge removes count oldest entries from s.clients.
func (s *DigestServer) purge(count int) {
	entries := make([]digestCacheEntry, 0, len(s.clients))
	for nonce, client := range s.clients {
		entries = append(entries, digestCacheEntry{nonce, client.lastSeen})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].lastSeen < entries[j].lastSeen })
	if count > len(entries) {
		count = len(entries)
	}
	for _, e := range entries[:count] {
		delete(s.clients, e.nonce)
	}
}

func (s *DigestServer) algorithm() string {
	if s.Algorithm == "" {
		return "MD5"
	}
	return s.Algorithm
}

func (s *DigestServer) qop() []string {
	if s.Qop == nil {
		return []string{"auth"}
	}
	return s.Qop
}

// Challenge registers a new nonce and returns the header value
// challenging the client with it.
func (s *DigestServer) Challenge(stale bool) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.clients == nil {
		s.clients = map[string]*digestClient{}
	}
	if len(s.clients) > s.ClientCacheSize+s.ClientCacheTolerance {
		s.purge(s.ClientCacheTolerance * 2)
	}
	nonce := auth.RandomKey()
	s.clients[nonce] = &digestClient{
		ncsSeen:  NewBitSet(s.NcCacheSize),
		lastSeen: time.Now().UnixNano(),
	}

	value := `Digest realm="` + s.Realm + `", nonce="` + nonce + `", opaque="` + s.Opaque +
		`", algorithm=` + s.algorithm()
	if qop := s.qop(); len(qop) > 0 {
		value += `, qop="` + strings.Join(qop, ",") + `"`
	}
	if s.Userhash {
		value += ", userhash=true"
	}
	if stale {
		value += ", stale=true"
	}
	return value
}

// RequireAuth answers r with a fresh challenge.
func (s *DigestServer) RequireAuth(w http.ResponseWriter, r *http.Request, stale bool) {
	h := s.Headers.V()
	w.Header().Set(h.Authenticate, s.Challenge(stale))
	http.Error(w, http.StatusText(h.UnauthCode), h.UnauthCode)
}

// CheckAuth checks whether r contains valid authentication data. It
// returns the authenticated user name (or an empty string) and whether
// the challenge should carry stale=true.
func (s *DigestServer) CheckAuth(r *http.Request) (username string, stale bool) {
	c, err := auth.ParseChallenge(r.Header.Get(s.Headers.V().Authorization))
	if err != nil || !c.Is("Digest") {
		return "", false
	}
	params := func(k string) string { v, _ := c.Get(k); return v }

	if params("opaque") != s.Opaque || !strings.EqualFold(params("algorithm"), s.algorithm()) {
		return "", false
	}
	qop := params("qop")
	if qop == "" && len(s.qop()) > 0 {
		return "", false
	}
	if qop != "" && !contains(s.qop(), qop) {
		return "", false
	}
	h, err := auth.DigestHash(s.algorithm())
	if err != nil {
		return "", false
	}

	/* Check whether the requested URI matches auth header
	   NOTE: when the method is CONNECT, the request and auth uri
	   specify a hostname not a path.
	*/
	uri := params("uri")
	if r.Method == http.MethodConnect {
		if r.RequestURI != uri && r.URL.Host != uri {
			return "", false
		}
	} else if uri != r.URL.RequestURI() {
		return "", false
	}

	user := params("username")
	password := ""
	if s.Userhash && strings.EqualFold(params("userhash"), "true") {
		user, password = s.unhashUser(user, h)
	} else {
		password = s.Secrets(user, s.Realm)
	}
	if user == "" || password == "" {
		return "", false
	}

	nonce, nc, cnonce := params("nonce"), params("nc"), params("cnonce")
	HA1 := h(user + ":" + s.Realm + ":" + password)
	if strings.HasSuffix(strings.ToUpper(s.algorithm()), "-SESS") {
		HA1 = h(HA1 + ":" + nonce + ":" + cnonce)
	}
	HA2 := h(r.Method + ":" + uri)
	if qop == "auth-int" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return "", false
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		HA2 = h(r.Method + ":" + uri + ":" + h(string(body)))
	}
	var KD string
	if qop == "" {
		KD = h(strings.Join([]string{HA1, nonce, HA2}, ":"))
	} else {
		KD = h(strings.Join([]string{HA1, nonce, nc, cnonce, qop, HA2}, ":"))
	}
	if subtle.ConstantTimeCompare([]byte(KD), []byte(params("response"))) != 1 {
		return "", false
	}

	// At this point crypto checks are completed and validated.
	// Now check if the session is valid.
	s.mutex.Lock()
	defer s.mutex.Unlock()

	client, ok := s.clients[nonce]
	if !ok {
		return "", true
	}
	if qop == "" {
		client.lastSeen = time.Now().UnixNano()
		return user, false
	}
	n, err := strconv.ParseUint(nc, 16, 64)
	if err != nil {
		return "", false
	}
	if n >= client.ncsSeen.Size() {
		// nc exceeds the size of our bitset. We can just treat this the
		// same as a stale nonce
		return "", true
	} else if client.ncsSeen.Get(n) {
		// We've already seen this nc! Possible replay attack!
		return "", false
	}
	client.ncsSeen.Set(n)
	client.lastSeen = time.Now().UnixNano()
	return user, false
}

// unhashUser resolves a userhash to one of s.Users.
func (s *DigestServer) unhashUser(hashed string, h func(string) string) (string, string) {
	for _, u := range s.Users {
		if h(u+":"+s.Realm) == hashed {
			return u, s.Secrets(u, s.Realm)
		}
	}
	return "", ""
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// Wrap returns an http.Handler that serves next only to authenticated
// requests. The user name is passed in the X-Authenticated-Username
// request header.
func (s *DigestServer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, stale := s.CheckAuth(r)
		if username == "" {
			s.RequireAuth(w, r, stale)
			return
		}
		r.Header.Set("X-Authenticated-Username", username)
		next.ServeHTTP(w, r)
	})
}
