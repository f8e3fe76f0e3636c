// Package transport coordinates the start/stop lifecycle of the
// server's concurrent components: the HTTP listener, the idle-tunnel
// sweep, and anything else that needs to come up together and go down
// together on the same signal.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultShutdownGrace bounds how long Stop is given to run across
// every component once shutdown begins, unless overridden with
// WithShutdownGrace.
const defaultShutdownGrace = 15 * time.Second

// Listener is one independently startable/stoppable server component.
// Start should block until the component exits or ctx is cancelled.
// Stop performs a graceful shutdown within the deadline carried by its
// context.
type Listener interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// ServeOption configures Serve.
type ServeOption func(*serveConfig)

type serveConfig struct {
	shutdownGrace time.Duration
	log           *slog.Logger
}

// WithShutdownGrace overrides the default budget given to stopping
// every component once shutdown begins.
func WithShutdownGrace(d time.Duration) ServeOption {
	return func(c *serveConfig) { c.shutdownGrace = d }
}

// WithServeLogger sets the logger Serve uses to report a component
// that failed to stop cleanly. Defaults to a discarding logger.
func WithServeLogger(l *slog.Logger) ServeOption {
	return func(c *serveConfig) { c.log = l }
}

// Serve starts every component concurrently and blocks until ctx is
// cancelled or one of them returns an error, whichever comes first.
// At that point it stops every component concurrently, within the
// configured shutdown grace. It returns the first error produced by
// any Start call or by the stop pass (whose own result joins every
// failed Stop); later errors are not reported.
func Serve(ctx context.Context, components []Listener, opts ...ServeOption) error {
	cfg := serveConfig{shutdownGrace: defaultShutdownGrace, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	eg, runCtx := errgroup.WithContext(ctx)
	for _, c := range components {
		eg.Go(func() error { return c.Start(runCtx) })
	}

	// One extra goroutine waits for runCtx to end — either the parent
	// ctx was cancelled or a component's Start returned an error —
	// then stops every component. Stop never runs before every Start
	// has had a chance to begin.
	eg.Go(func() error {
		<-runCtx.Done()
		return stopAll(components, cfg)
	})

	return eg.Wait()
}

// stopAll calls Stop on every component concurrently, bounded by
// cfg.shutdownGrace, and joins whatever errors come back.
func stopAll(components []Listener, cfg serveConfig) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownGrace)
	defer cancel()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, c := range components {
		wg.Add(1)
		go func(c Listener) {
			defer wg.Done()
			if err := c.Stop(stopCtx); err != nil {
				cfg.log.Warn("component stop failed", "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	return errors.Join(errs...)
}
