// Command authget fetches a URL with Basic or Digest authentication.
//
//	authget -scheme digest -user john -password hello -n 3 http://localhost:8080/
//
// The user and password default to $AUTHGET_USER and $AUTHGET_PASSWORD.
// All requests share one authenticator, so Digest nonces are reused.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	auth "github.com/abbot/go-http-authflow"
)

type options struct {
	scheme   string
	user     string
	password string
	count    int
	parallel bool
	proxy    bool
	timeout  time.Duration
	verbose  bool
}

func parseFlags(args []string) (*options, []string, error) {
	o := &options{}
	fs := flag.NewFlagSet("authget", flag.ContinueOnError)
	fs.StringVar(&o.scheme, "scheme", "digest", "authentication scheme: basic or digest")
	fs.StringVar(&o.user, "user", os.Getenv("AUTHGET_USER"), "user name")
	fs.StringVar(&o.password, "password", os.Getenv("AUTHGET_PASSWORD"), "password")
	fs.IntVar(&o.count, "n", 1, "number of requests")
	fs.BoolVar(&o.parallel, "parallel", false, "send the requests concurrently")
	fs.BoolVar(&o.proxy, "proxy", false, "answer 407 Proxy-Authenticate challenges")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall timeout")
	fs.BoolVar(&o.verbose, "v", false, "log every round trip")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() == 0 {
		return nil, nil, fmt.Errorf("missing URL")
	}
	if o.count < 1 {
		return nil, nil, fmt.Errorf("-n must be positive")
	}
	return o, fs.Args(), nil
}

func newAuthenticator(o *options, log *zap.SugaredLogger) (auth.Authenticator, error) {
	opts := []auth.Option{auth.WithLogger(log)}
	if o.proxy {
		opts = append(opts, auth.WithHeaders(auth.ProxyHeaders))
	}
	switch strings.ToLower(o.scheme) {
	case "basic":
		return auth.NewBasicAuth(o.user, o.password, opts...), nil
	case "digest":
		return auth.NewDigestAuth(o.user, o.password, opts...), nil
	}
	return nil, fmt.Errorf("unknown scheme %q", o.scheme)
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	if !verbose {
		return zap.NewNop().Sugar(), nil
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func fetch(ctx context.Context, client *http.Client, url string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s (%d bytes)\n", url, resp.Status, n)
	return nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	o, urls, err := parseFlags(args)
	if err != nil {
		return err
	}
	log, err := newLogger(o.verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newAuthenticator(o, log)
	if err != nil {
		return err
	}
	client, err := auth.DecorateClient(&http.Client{}, auth.WithAuth(a), auth.WithLogging(log))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if !o.parallel {
		g.SetLimit(1)
	}
	for i := 0; i < o.count; i++ {
		for _, url := range urls {
			url := url
			g.Go(func() error {
				return fetch(ctx, client, url, out)
			})
		}
	}
	return g.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authget:", err)
		os.Exit(1)
	}
}
