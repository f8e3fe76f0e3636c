package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
)

// MountFunc registers handlers onto the provided ServeMux. Passing
// *http.ServeMux lets the caller mount more than one concern (control
// plane, proxy, metrics) on the same server.
type MountFunc func(mux *http.ServeMux) error

// HTTPServer is a Listener wrapping an *http.Server, adapted from the
// teacher's internal/transport/server.go with the Connect-specific
// auth middleware and h2c upgrade dropped, since this system speaks
// plain HTTP/1.1 and WebSocket rather than Connect RPC.
type HTTPServer struct {
	*http.Server
	address        string
	mount          MountFunc
	allowedOrigins []string
	log            *slog.Logger
}

// HTTPServerOption configures an HTTPServer.
type HTTPServerOption func(*HTTPServer)

func WithAddress(address string) HTTPServerOption {
	return func(s *HTTPServer) { s.address = address }
}

func WithMount(mount MountFunc) HTTPServerOption {
	return func(s *HTTPServer) { s.mount = mount }
}

// WithAllowedOrigins restricts CORS to the given origins; unset means
// allow all, appropriate for a publicly reachable tunnel endpoint.
func WithAllowedOrigins(origins []string) HTTPServerOption {
	return func(s *HTTPServer) { s.allowedOrigins = origins }
}

func WithHTTPLogger(l *slog.Logger) HTTPServerOption {
	return func(s *HTTPServer) { s.log = l }
}

// NewHTTPServer builds an HTTPServer ready to be handed to
// transport.Serve alongside other Listeners.
func NewHTTPServer(opts ...HTTPServerOption) (*HTTPServer, error) {
	srv := &HTTPServer{
		address: ":8080",
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.log = srv.log.With("component", "transport.http")

	mux := http.NewServeMux()
	if srv.mount != nil {
		if err := srv.mount(mux); err != nil {
			return nil, err
		}
	}

	var handler http.Handler = mux
	if len(srv.allowedOrigins) == 0 {
		handler = cors.AllowAll().Handler(handler)
	} else {
		handler = cors.New(cors.Options{
			AllowedOrigins:   srv.allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowCredentials: true,
			MaxAge:           7200,
		}).Handler(handler)
	}

	srv.Server = &http.Server{
		Addr:              srv.address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		MaxHeaderBytes:    32 * 1024,
	}

	return srv, nil
}

// Start satisfies transport.Listener: it blocks serving until ctx is
// cancelled or the server fails for a reason other than a graceful
// close.
func (s *HTTPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.BaseContext = func(net.Listener) context.Context { return ctx }

	s.log.Info("http server listening", "address", listener.Addr().String())

	if err := s.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop satisfies transport.Listener.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.log.Info("shutting down http server")
	if err := s.Shutdown(ctx); err != nil {
		s.log.Error("graceful shutdown failed, forcing close", "error", err)
		return s.Close()
	}
	return nil
}
