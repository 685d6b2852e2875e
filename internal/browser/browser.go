// Package browser stands in for the page environment of a terminal
// process: a loopback HTTP listener plays the address bar, and the
// system browser is the rendering surface the user signs in with.
package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 60 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 10 * time.Second
)

const callbackPage = `<!DOCTYPE html>
<html>
  <head><title>Wealth Portal</title></head>
  <body>
    <p>Sign-in received. You can close this tab and return to the terminal.</p>
  </body>
</html>
`

// Browser tracks the process's current location and serves the OAuth
// callback. The location starts at the callback base; it only moves when
// the provider redirects back or a caller rewrites it.
type Browser struct {
	addr   string
	out    io.Writer
	logger *slog.Logger
	open   func(target string) *exec.Cmd

	mu  sync.Mutex
	loc *url.URL

	arrived     chan struct{}
	arrivedOnce sync.Once

	group *errgroup.Group
}

// New creates a browser bound to the given loopback address. Nothing
// listens until Start is called.
func New(addr string, logger *slog.Logger) *Browser {
	return &Browser{
		addr:    addr,
		out:     os.Stdout,
		logger:  logger,
		open:    openCommand,
		loc:     &url.URL{Scheme: "http", Host: addr, Path: "/callback"},
		arrived: make(chan struct{}),
	}
}

// Addr reports the listener address. Differs from the configured one
// when that used an ephemeral port.
func (b *Browser) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.addr
}

// Location returns the current location. Before any callback this is the
// bare callback base.
func (b *Browser) Location() (*url.URL, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	copied := *b.loc

	return &copied, nil
}

// Navigate prints the target for the user and asks the system browser to
// open it. A missing opener is not an error; the printed link always
// works.
func (b *Browser) Navigate(u *url.URL) error {
	fmt.Fprintf(b.out, "\nOpen this link in your browser to continue:\n\n  %s\n\n", u)

	cmd := b.open(u.String())
	if cmd == nil {
		b.logger.Debug("no system browser opener on this platform")

		return nil
	}

	if err := cmd.Start(); err != nil {
		b.logger.Debug("could not open system browser", slog.String("error", err.Error()))

		return nil
	}

	// Reap the opener once it exits.
	go func() { _ = cmd.Wait() }()

	return nil
}

// ReplaceLocation rewrites the current location without navigating.
func (b *Browser) ReplaceLocation(u *url.URL) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	copied := *u
	b.loc = &copied

	return nil
}

// Start binds the callback listener and serves until ctx ends. It
// returns once the listener is bound; serving continues in the
// background. Stop waits for the wind-down.
func (b *Browser) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("binding callback listener on %s: %w", b.addr, err)
	}

	b.mu.Lock()
	b.addr = ln.Addr().String()
	b.loc.Host = b.addr
	b.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", b.handleCallback)

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("callback server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	b.group = g

	b.logger.Debug("callback listener started", slog.String("addr", b.addr))

	return nil
}

// Stop waits for the callback server to finish shutting down. Safe to
// call when Start never ran.
func (b *Browser) Stop() error {
	if b.group == nil {
		return nil
	}

	return b.group.Wait()
}

// WaitCallback blocks until the provider has redirected back or ctx
// ends.
func (b *Browser) WaitCallback(ctx context.Context) error {
	select {
	case <-b.arrived:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sign-in callback: %w", ctx.Err())
	}
}

func (b *Browser) handleCallback(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.loc = &url.URL{
		Scheme:   "http",
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	b.mu.Unlock()

	b.arrivedOnce.Do(func() { close(b.arrived) })

	b.logger.Debug("sign-in callback received")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, callbackPage)
}
