// Package server serves the playground page and connects it to a session
// over a websocket.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"github.com/conneroisu/panes/internal/config"
	"github.com/conneroisu/panes/internal/logging"
	"github.com/conneroisu/panes/internal/monitoring"
	"github.com/conneroisu/panes/internal/session"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	limiterCleanup    = 5 * time.Minute
)

// Options configures a Server. Config and Session are required.
type Options struct {
	Config  *config.Config
	Session *session.Session
	Metrics *monitoring.Metrics
	Health  *monitoring.HealthMonitor
	Logger  logging.Logger
	Version string
}

// Server is the HTTP front of one session.
type Server struct {
	cfg     *config.Config
	session *session.Session
	metrics *monitoring.Metrics
	health  *monitoring.HealthMonitor
	logger  logging.Logger
	version string

	hub     *hub
	limiter *RateLimiter
	handler http.Handler

	// listenPort is the bound port, which differs from the configured one
	// when port 0 was requested. Set before serving starts.
	listenPort string
}

// New creates a server. Nothing listens until Start or Serve is called.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Server{
		cfg:     opts.Config,
		session: opts.Session,
		metrics: opts.Metrics,
		health:  opts.Health,
		logger:  logger.WithComponent("server"),
		version: opts.Version,
		hub:     newHub(),
		limiter: NewRateLimiter(opts.Config.Server.RateLimit, opts.Config.Server.RateBurst),
	}
	s.handler = s.addMiddleware(s.routes())
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if _, port, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		s.listenPort = port
	}
	go s.hub.run(ctx)
	go s.limiter.cleanup(ctx, limiterCleanup)

	unsubscribe := s.session.Subscribe(s.forward)
	defer unsubscribe()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	pageURL := "http://" + ln.Addr().String()
	s.logger.Info(ctx, "Serving playground", "url", pageURL)
	if s.cfg.Server.Open {
		go s.openBrowser(pageURL)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info(shutdownCtx, "Shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) openBrowser(pageURL string) {
	time.Sleep(100 * time.Millisecond) // Give server time to start

	// Validate URL before passing it to system commands
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		s.logger.Warn(context.Background(), err, "Browser open failed due to invalid URL", "url", pageURL)
		return
	}

	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", pageURL).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", pageURL).Start()
	case "darwin":
		err = exec.Command("open", pageURL).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to open browser")
	}
}
