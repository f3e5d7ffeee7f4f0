package authtest

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	auth "github.com/abbot/go-http-authflow"
	"golang.org/x/crypto/bcrypt"
)

// SecretProvider returns the stored secret of user in realm: a bcrypt
// hash, a "{SHA}" base64 SHA-1 digest, or a plain text password. An
// empty string means the user is unknown.
type SecretProvider func(user, realm string) string

type compareFunc func(hashedPassword, password []byte) error

var (
	errMismatchedHashAndPassword = errors.New("mismatched hash and password")

	compareFuncs = []struct {
		prefix  string
		compare compareFunc
	}{
		{"", comparePlainAndPassword}, // default compareFunc
		{"{SHA}", compareShaHashAndPassword},
		// "$2a$" and "$2x$" are deprecated bcrypt prefixes; they are
		// handled like "$2y$", which is correct for 7-bit passwords.
		{"$2a$", bcrypt.CompareHashAndPassword},
		{"$2b$", bcrypt.CompareHashAndPassword},
		{"$2x$", bcrypt.CompareHashAndPassword},
		{"$2y$", bcrypt.CompareHashAndPassword},
	}
)

// BasicServer wraps handlers with 'Basic' HTTP Authentication
// (RFC 7617).
type BasicServer struct {
	Realm   string
	Secrets SecretProvider
	// Headers used by the server. Set to auth.ProxyHeaders to answer
	// with 407 Proxy-Authenticate. When nil, auth.NormalHeaders are used.
	Headers *auth.Headers
}

// CheckAuth checks the username/password combination from the
// request. Returns either an empty string (authentication failed) or
// the name of the authenticated user.
func (s *BasicServer) CheckAuth(r *http.Request) string {
	user, password, ok := parseBasic(r.Header.Get(s.Headers.V().Authorization))
	if !ok {
		return ""
	}
	secret := s.Secrets(user, s.Realm)
	if secret == "" {
		return ""
	}
	if !CheckSecret(password, secret) {
		return ""
	}
	return user
}

func parseBasic(value string) (user, password string, ok bool) {
	const prefix = "Basic "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", "", false
	}
	c, err := base64.StdEncoding.DecodeString(value[len(prefix):])
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(c), ":")
}

// CheckSecret returns true if the password matches the encrypted
// secret.
func CheckSecret(password, secret string) bool {
	compare := compareFuncs[0].compare
	for _, cmp := range compareFuncs[1:] {
		if strings.HasPrefix(secret, cmp.prefix) {
			compare = cmp.compare
			break
		}
	}
	return compare([]byte(secret), []byte(password)) == nil
}

func comparePlainAndPassword(secret, password []byte) error {
	if subtle.ConstantTimeCompare(secret, password) != 1 {
		return errMismatchedHashAndPassword
	}
	return nil
}

func compareShaHashAndPassword(hashedPassword, password []byte) error {
	d := sha1.New()
	d.Write(password)
	if subtle.ConstantTimeCompare(hashedPassword[5:], []byte(base64.StdEncoding.EncodeToString(d.Sum(nil)))) != 1 {
		return errMismatchedHashAndPassword
	}
	return nil
}

// RequireAuth initiates the authentication process (or requires
// reauthentication).
func (s *BasicServer) RequireAuth(w http.ResponseWriter, r *http.Request) {
	h := s.Headers.V()
	w.Header().Set(h.Authenticate, `Basic realm="`+s.Realm+`"`)
	http.Error(w, http.StatusText(h.UnauthCode), h.UnauthCode)
}

// Wrap returns an http.Handler that serves next only to authenticated
// requests. The user name is passed in the X-Authenticated-Username
// request header.
func (s *BasicServer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username := s.CheckAuth(r)
		if username == "" {
			s.RequireAuth(w, r)
			return
		}
		r.Header.Set("X-Authenticated-Username", username)
		next.ServeHTTP(w, r)
	})
}
