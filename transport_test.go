package auth_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mongodb-forks/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/abbot/go-http-authflow"
	"github.com/abbot/go-http-authflow/authtest"
)

func secrets(user, realm string) string {
	if user == "john" {
		return "hello"
	}
	return ""
}

type counter struct {
	requests, challenges atomic.Int32
}

func (c *counter) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.requests.Add(1)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == http.StatusUnauthorized || rec.status == http.StatusProxyAuthRequired {
			c.challenges.Add(1)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func hello(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	fmt.Fprintf(w, "Hello, %s! %s", r.Header.Get("X-Authenticated-Username"), body)
}

func newDigestServer(t *testing.T, configure func(*authtest.DigestServer)) (*httptest.Server, *counter) {
	t.Helper()
	ds := authtest.NewDigestServer("example.com", secrets)
	if configure != nil {
		configure(ds)
	}
	c := &counter{}
	ts := httptest.NewServer(c.wrap(ds.Wrap(http.HandlerFunc(hello))))
	t.Cleanup(ts.Close)
	return ts, c
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestTransportDigest(t *testing.T) {
	ts, c := newDigestServer(t, nil)
	client := auth.NewTransport(nil, auth.NewDigestAuth("john", "hello")).Client()

	for i := 0; i < 3; i++ {
		resp, err := client.Get(ts.URL + "/digest?page=" + fmt.Sprint(i))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Hello, john! ", readAll(t, resp))
	}
	// only the first request is challenged; later ones reuse the nonce
	assert.EqualValues(t, 4, c.requests.Load())
	assert.EqualValues(t, 1, c.challenges.Load())
}

func TestTransportDigestAlgorithms(t *testing.T) {
	for _, tt := range []struct {
		algorithm string
		qop       []string
	}{
		{"MD5", nil},
		{"MD5-sess", []string{"auth"}},
		{"SHA-256", []string{"auth", "auth-int"}},
		{"SHA-512-256", []string{"auth-int"}},
		{"SHA-256", []string{}},
	} {
		t.Run(tt.algorithm+"/"+strings.Join(tt.qop, ","), func(t *testing.T) {
			ts, _ := newDigestServer(t, func(s *authtest.DigestServer) {
				s.Algorithm = tt.algorithm
				s.Qop = tt.qop
			})
			client := auth.NewTransport(nil, auth.NewDigestAuth("john", "hello")).Client()
			for i := 0; i < 2; i++ {
				resp, err := client.Post(ts.URL+"/upload", "text/plain", io.NopCloser(strings.NewReader("body")))
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				assert.Equal(t, "Hello, john! body", readAll(t, resp))
			}
		})
	}
}

func TestTransportDigestUserhash(t *testing.T) {
	ts, _ := newDigestServer(t, func(s *authtest.DigestServer) {
		s.Algorithm = "SHA-256"
		s.Userhash = true
		s.Users = []string{"john"}
	})
	resp, err := auth.NewTransport(nil, auth.NewDigestAuth("john", "hello")).Client().Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, john! ", readAll(t, resp))
}

func TestTransportDigestWrongPassword(t *testing.T) {
	ts, c := newDigestServer(t, nil)
	client := auth.NewTransport(nil, auth.NewDigestAuth("john", "wrong")).Client()

	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	assert.EqualValues(t, 2, c.requests.Load())
}

func TestTransportBasic(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hello"), bcrypt.MinCost)
	require.NoError(t, err)
	bs := &authtest.BasicServer{
		Realm: "example.com",
		Secrets: func(user, realm string) string {
			if user == "john" {
				return string(hash)
			}
			return ""
		},
	}
	c := &counter{}
	ts := httptest.NewServer(c.wrap(bs.Wrap(http.HandlerFunc(hello))))
	defer ts.Close()

	client, err := auth.DecorateClient(&http.Client{}, auth.WithAuth(auth.NewBasicAuth("john", "hello")))
	require.NoError(t, err)
	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, "Hello, john! ", readAll(t, resp))

	client, err = auth.DecorateClient(&http.Client{}, auth.WithAuth(auth.NewBasicAuth("john", "nope")))
	require.NoError(t, err)
	resp, err = client.Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	assert.EqualValues(t, 2, c.requests.Load())
}

func TestDoWithCookieJar(t *testing.T) {
	ds := authtest.NewDigestServer("example.com", secrets)
	var cookies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies = append(cookies, r.Header.Get("Cookie"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1"})
		ds.Wrap(http.HandlerFunc(hello)).ServeHTTP(w, r)
	}))
	defer ts.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	req, err := http.NewRequest("GET", ts.URL+"/auth", nil)
	require.NoError(t, err)

	resp, err := auth.Do(context.Background(), &http.Client{Jar: jar}, auth.NewDigestAuth("john", "hello"), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, []string{"", "session=s1"}, cookies)
}

func TestDoWithSeededCookieJar(t *testing.T) {
	ds := authtest.NewDigestServer("example.com", secrets)
	var cookies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies = append(cookies, r.Header.Get("Cookie"))
		ds.Wrap(http.HandlerFunc(hello)).ServeHTTP(w, r)
	}))
	defer ts.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "s1"}})
	req, err := http.NewRequest("GET", ts.URL+"/auth", nil)
	require.NoError(t, err)

	resp, err := auth.Do(context.Background(), &http.Client{Jar: jar}, auth.NewDigestAuth("john", "hello"), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, []string{"session=s1", "session=s1"}, cookies)
}

func TestDoRoundTripperCookies(t *testing.T) {
	ds := authtest.NewDigestServer("example.com", secrets)
	var cookies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies = append(cookies, r.Header.Get("Cookie"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: ".session_value..."})
		ds.Wrap(http.HandlerFunc(hello)).ServeHTTP(w, r)
	}))
	defer ts.Close()

	req, err := http.NewRequest("GET", ts.URL+"/auth", nil)
	require.NoError(t, err)
	d := auth.RoundTripperDoer{RoundTripper: http.DefaultTransport}
	resp, err := auth.Do(context.Background(), d, auth.NewDigestAuth("john", "hello"), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, []string{"", "session=.session_value..."}, cookies)
}

func TestGo(t *testing.T) {
	ts, _ := newDigestServer(t, nil)
	a := auth.NewDigestAuth("john", "hello")

	var results []<-chan auth.Result
	for i := 0; i < 5; i++ {
		req, err := http.NewRequest("GET", ts.URL, nil)
		require.NoError(t, err)
		results = append(results, auth.Go(context.Background(), http.DefaultClient, a, req))
	}
	for _, ch := range results {
		res, ok := <-ch
		require.True(t, ok)
		require.NoError(t, res.Err)
		assert.Equal(t, http.StatusOK, res.Response.StatusCode)
		res.Response.Body.Close()
		_, ok = <-ch
		assert.False(t, ok)
	}
}

func TestDoCanceled(t *testing.T) {
	ts, c := newDigestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	d := doerFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := http.DefaultClient.Do(r)
		cancel()
		return resp, err
	})
	req, err := http.NewRequest("GET", ts.URL, nil)
	require.NoError(t, err)

	_, err = auth.Do(ctx, d, auth.NewDigestAuth("john", "hello"), req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, c.requests.Load())
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestTransportProxyHeaders(t *testing.T) {
	ts, _ := newDigestServer(t, func(s *authtest.DigestServer) {
		s.Headers = auth.ProxyHeaders
	})
	a := auth.NewDigestAuth("john", "hello", auth.WithHeaders(auth.ProxyHeaders))
	resp, err := auth.NewTransport(nil, a).Client().Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestTransportLogging(t *testing.T) {
	ts, _ := newDigestServer(t, nil)
	log := zaptest.NewLogger(t).Sugar()
	client, err := auth.DecorateClient(&http.Client{},
		auth.WithAuth(auth.NewDigestAuth("john", "hello", auth.WithLogger(log))),
		auth.WithLogging(log))
	require.NoError(t, err)
	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	_, err = auth.DecorateClient(&http.Client{}, auth.WithLogging(zap.S()))
	assert.Error(t, err)
	_, err = auth.DecorateClient(&http.Client{}, auth.WithAuth(nil))
	assert.Error(t, err)
}

// An independent Digest client implementation is accepted by the test
// server.
func TestDigestServerInterop(t *testing.T) {
	ts, _ := newDigestServer(t, nil)
	client, err := digest.NewTransport("john", "hello").Client()
	require.NoError(t, err)
	resp, err := client.Get(ts.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, john! ", readAll(t, resp))
}
