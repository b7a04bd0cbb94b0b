package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

type config struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	startHooks      []func(context.Context)
	stopHooks       []func(context.Context) error
}

// Server runs an http.Server until its context ends or the process receives
// SIGINT or SIGTERM, then drains it.
type Server struct {
	cfg config

	mu     sync.Mutex
	srv    *http.Server
	ln     net.Listener
	closed bool

	once sync.Once
}

// New returns a Server listening on ":8080" unless WithAddr says otherwise.
func New(opts ...Option) *Server {
	cfg := config{
		addr:            ":8080",
		shutdownTimeout: 10 * time.Second,
		logger:          logger.Discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{cfg: cfg}
}

// Addr is the bound listen address, empty until Run has bound the listener.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run serves handler and blocks until shutdown. A bind failure is returned
// joined with ErrStart. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	srv, ln, err := s.listen(handler)
	if err != nil {
		return errors.Join(ErrStart, err)
	}
	log := s.cfg.logger
	log.InfoContext(ctx, "ops server listening", slog.String("addr", ln.Addr().String()))

	for _, hook := range s.cfg.startHooks {
		hook(ctx)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr, shutdownErr error
	select {
	case <-sigCtx.Done():
		log.InfoContext(ctx, "ops server shutting down")
		shutdownErr = s.Shutdown(context.WithoutCancel(ctx))
		serveErr = <-served
	case serveErr = <-served:
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return errors.Join(ErrStart, serveErr)
	}
	return shutdownErr
}

func (s *Server) listen(handler http.Handler) (*http.Server, net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, nil, ErrClosed
	case s.srv != nil:
		return nil, nil, ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.addr)
	if err != nil {
		return nil, nil, err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      handler,
		ReadTimeout:  s.cfg.readTimeout,
		WriteTimeout: s.cfg.writeTimeout,
		IdleTimeout:  s.cfg.idleTimeout,
		ErrorLog:     slog.NewLogLogger(s.cfg.logger.Handler(), slog.LevelWarn),
	}
	return s.srv, ln, nil
}

// Shutdown drains in-flight requests and runs the stop hooks within the
// shutdown timeout. Only the first call does any work. Calling it before
// Run makes Run fail with ErrClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		srv := s.srv
		s.mu.Unlock()
		if srv == nil {
			return
		}

		ctx, cancel := context.WithTimeout(ctx, s.cfg.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		for _, hook := range s.cfg.stopHooks {
			if err := hook(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.cfg.logger.InfoContext(ctx, "ops server stopped", logger.Error(errors.Join(errs...)))
	})

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrShutdown}, errs...)...)
	}
	return nil
}
