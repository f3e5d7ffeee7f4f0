package auth

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RandomKey returns a random 16-byte base64 alphabet string.
func RandomKey() string {
	k := make([]byte, 12)
	for read := 0; read < len(k); {
		n, err := rand.Read(k[read:])
		if err != nil {
			panic("rand.Read() failed")
		}
		read += n
	}
	return base64.StdEncoding.EncodeToString(k)
}

// H function for MD5 algorithm (returns a lower-case hex MD5 digest).
func H(data string) string {
	return hexDigest(md5.New, data)
}

func hexDigest(newHash func() hash.Hash, data string) string {
	digest := newHash()
	digest.Write([]byte(data))
	return hex.EncodeToString(digest.Sum(nil))
}

// newCnonce returns 32 lower-case hex characters drawn from a random
// UUID.
func newCnonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type errBody struct{ err error }

func (b errBody) Read([]byte) (int, error) { return 0, b.err }
func (b errBody) Close() error             { return nil }

// makeRewindable buffers a streamed request body so the request can be
// sent more than once. Requests built by http.NewRequest with common
// body types already have GetBody set and are left alone.
func makeRewindable(r *http.Request) error {
	if r.Body == nil || r.Body == http.NoBody || r.GetBody != nil {
		return nil
	}
	buf, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		r.Body = errBody{err}
		return err
	}
	r.ContentLength = int64(len(buf))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	r.Body, _ = r.GetBody()
	return nil
}

// cloneRequest returns a deep copy of r with a fresh body.
func cloneRequest(r *http.Request) (*http.Request, error) {
	c := r.Clone(r.Context())
	if r.GetBody != nil {
		body, err := r.GetBody()
		if err != nil {
			return nil, err
		}
		c.Body = body
	}
	return c, nil
}

// readBody returns the full entity body of r without consuming it.
func readBody(r *http.Request) ([]byte, error) {
	if r.GetBody == nil {
		return nil, nil
	}
	body, err := r.GetBody()
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// copyCookies adds the cookies set by resp to r, skipping names r
// already carries. An existing Cookie header is never replaced.
func copyCookies(r *http.Request, resp *http.Response) {
	for _, c := range resp.Cookies() {
		if _, err := r.Cookie(c.Name); err == nil {
			continue
		}
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func quote(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return `"` + s + `"`
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}
