// Package app wires the recorder subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the optional local status server, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithClock,
// WithHTTPClient, etc.). The microphone is always passed in; main builds it
// from the capture backend registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/christophersiem/little-moments/internal/config"
	"github.com/christophersiem/little-moments/internal/feed"
	"github.com/christophersiem/little-moments/internal/health"
	"github.com/christophersiem/little-moments/internal/memories"
	"github.com/christophersiem/little-moments/internal/observe"
	"github.com/christophersiem/little-moments/internal/resilience"
	"github.com/christophersiem/little-moments/internal/session"
	"github.com/christophersiem/little-moments/internal/timer"
	"github.com/christophersiem/little-moments/pkg/audio"
)

// readHeaderTimeout bounds slow clients on the status server.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Injected or defaulted in New.
	mic        audio.Microphone
	metrics    *observe.Metrics
	clock      timer.Clock
	httpClient *http.Client

	// Subsystems built in New, torn down in Shutdown.
	client  *memories.Client
	session *session.Controller
	health  *health.Handler
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClock drives the elapsed timer from c instead of the wall clock.
func WithClock(c timer.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger shared by all subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithHTTPClient replaces the HTTP client used for the memories service.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithListener serves the status server on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together around mic.
//
// The memories base URL is read from cfg once here and never reloaded.
func New(ctx context.Context, cfg *config.Config, mic audio.Microphone, opts ...Option) (*App, error) {
	if mic == nil {
		return nil, errors.New("app: a microphone is required")
	}
	a := &App{
		cfg: cfg,
		mic: mic,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Memories client ───────────────────────────────────────────────
	a.client = NewClient(cfg.API, a.metrics, a.log, a.httpClient)

	// ── 2. Session controller ────────────────────────────────────────────
	a.session = session.New(session.Config{
		Microphone: a.mic,
		Uploader:   a.client,
		Clock:      a.clock,
		Metrics:    a.metrics,
		Logger:     a.log,
	})
	a.closers = append(a.closers, a.session.Close)

	// ── 3. Health checks ─────────────────────────────────────────────────
	a.health = health.New(
		health.APIChecker(a.client),
		health.MicrophoneChecker(a.mic, a.recording),
	)

	// ── 4. HTTP handler ──────────────────────────────────────────────────
	a.handler = a.buildHandler()

	a.log.Info("app: initialised",
		"api", a.client.BaseURL(),
		"listen_addr", cfg.Server.ListenAddr,
	)
	return a, nil
}

// NewClient builds the memories client from cfg. The CLI subcommands that
// only talk to the service use it without a full App.
func NewClient(cfg config.APIConfig, m *observe.Metrics, log *slog.Logger, hc *http.Client) *memories.Client {
	if log == nil {
		log = slog.Default()
	}
	opts := []memories.Option{
		memories.WithTimeout(cfg.Timeout.Std()),
		memories.WithCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.CircuitBreaker.MaxFailures,
			ResetTimeout: cfg.CircuitBreaker.ResetTimeout.Std(),
			OnStateChange: func(name string, to resilience.State) {
				log.Warn("app: circuit breaker state changed", "breaker", name, "state", to)
			},
		}),
		memories.WithLogger(log),
		memories.WithHTTPClient(hc),
	}
	if m != nil {
		opts = append(opts, memories.WithMetrics(m))
	}
	return memories.New(cfg.BaseURL, opts...)
}

// BuildMicrophone instantiates every configured capture backend from reg and
// chains them into one [audio.Microphone]: the first entry is preferred and
// later entries are tried when it cannot open. Backends that fail to
// construct are logged and skipped.
func BuildMicrophone(cfg config.CaptureConfig, reg *config.Registry, log *slog.Logger) (*resilience.MicrophoneFallback, error) {
	var (
		fb   *resilience.MicrophoneFallback
		errs []error
	)
	for _, entry := range cfg.Backends {
		mic, err := reg.CreateMicrophone(entry, cfg)
		if err != nil {
			log.Warn("app: capture backend unavailable", "backend", entry.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", entry.Name, err))
			continue
		}
		if fb == nil {
			fb = resilience.NewMicrophoneFallback(mic, entry.Name, resilience.FallbackConfig{})
		} else {
			fb.AddFallback(entry.Name, mic)
		}
		log.Debug("app: capture backend created", "backend", entry.Name)
	}
	if fb == nil {
		return nil, fmt.Errorf("app: no capture backend available: %w", errors.Join(errs...))
	}
	return fb, nil
}

// buildHandler assembles the status server routes.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.Handle("GET /ws", feed.New(a.session, feed.WithLogger(a.log)))
	return observe.Middleware(a.metrics, a.log)(mux)
}

// recording reports whether the microphone is held by the session, so the
// readiness probe does not try to open it a second time.
func (a *App) recording() bool {
	snap := a.session.Snapshot()
	return snap.Phase == session.Recording || snap.Opening
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Session returns the session controller.
func (a *App) Session() *session.Controller { return a.session }

// Client returns the memories client.
func (a *App) Client() *memories.Client { return a.client }

// Health returns the health handler.
func (a *App) Health() *health.Handler { return a.health }

// Handler returns the status server handler.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the status server address once Run is serving, or "".
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the status server (when server.listen_addr is set) and blocks
// until ctx is cancelled or the session controller is closed. When ctx is
// done, Run returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	srvErr := make(chan error, 1)
	if a.cfg.Server.ListenAddr != "" || a.listener != nil {
		if err := a.listen(); err != nil {
			return err
		}
		go func() {
			a.log.Info("app: status server listening", "addr", a.Addr())
			if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- fmt.Errorf("app: status server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.session.Done():
		return nil
	case err := <-srvErr:
		return err
	}
}

func (a *App) listen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		l, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
		a.listener = l
	}
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the status server and releases the microphone. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("app: shutting down", "closers", len(a.closers))

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				a.log.Warn("app: status server shutdown", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("app: closer error", "index", i, "err", err)
			}
		}

		a.log.Info("app: shutdown complete")
	})
	return shutdownErr
}
