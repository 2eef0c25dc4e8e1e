// Package gateway exposes the support runtime over HTTP: a websocket for
// customers, one per operator dashboard, and a small JSON API for status
// pages.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"supportmesh/internal/domain"
	"supportmesh/internal/infra/metrics"
	"supportmesh/internal/infra/middleware"
	"supportmesh/internal/usecase/actor"
	"supportmesh/internal/usecase/connection"
	"supportmesh/internal/usecase/eventbus"
	"supportmesh/internal/usecase/multiagent"
)

// Runtime is the part of the actor runtime the gateway drives.
type Runtime interface {
	actor.Publisher
	CancelSource(source string)
}

// Deps holds the collaborators of the gateway.
type Deps struct {
	Runtime     Runtime
	Connections *connection.Registry
	Router      *multiagent.Router
	Broker      *multiagent.Broker
	Personas    *multiagent.Registry
	Queue       *multiagent.EscalationQueue // optional, kicked when an operator connects
	Metrics     *metrics.Collector          // optional, serves MetricsPath
	Bus         domain.EventBus             // optional
	Auth        Authenticator               // nil accepts every operator
	Logger      *slog.Logger
}

// Options tunes the HTTP surface.
type Options struct {
	Addr            string
	StaticDir       string
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	ReadLimit       int64

	CustomerRate    float64 // messages per second, 0 = unlimited
	CustomerBurst   int
	MaxMessageBytes int

	APIRatePerMinute int
	APIBurst         int
	TrustedProxies   []string

	MetricsPath    string
	OriginPatterns []string
	Now            func() time.Time
}

// Server is the HTTP and websocket front of the runtime.
type Server struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	started time.Time

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	conns     map[*wsConn]struct{}
}

// NewServer creates a gateway server.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Bus == nil {
		deps.Bus = eventbus.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 << 10
	}
	if opts.CustomerBurst <= 0 {
		opts.CustomerBurst = 1
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		}
	}
	return &Server{
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger.With("component", "gateway"),
		started: opts.Now(),
		conns:   make(map[*wsConn]struct{}),
	}
}

// Handler builds the route table. ctx bounds background work such as the
// rate limiter's janitor.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/chat", s.handleCustomer)
	mux.HandleFunc("GET /ws/agent/{agent_id}", s.handleOperator)

	api := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h,
			middleware.SecurityHeaders,
			middleware.AccessLog(s.logger),
		)
	}
	limited := middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RequestsPerMin: s.opts.APIRatePerMinute,
		Burst:          s.opts.APIBurst,
		TrustedProxies: s.opts.TrustedProxies,
	})
	for pattern, h := range map[string]http.HandlerFunc{
		"POST /api/agent/login":           s.handleLogin,
		"GET /api/system/status":          s.handleStatus,
		"GET /api/agents/types":           s.handleAgentTypes,
		"GET /api/debug/agents":           s.handleDebugAgents,
		"GET /api/human/transfer-options": s.handleTransferOptions,
	} {
		mux.Handle(pattern, limited(api(h)))
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.deps.Metrics != nil {
		mux.Handle("GET "+s.opts.MetricsPath, s.deps.Metrics.Handler())
	}

	if s.opts.StaticDir != "" {
		dir := s.opts.StaticDir
		mux.Handle("GET /agent-dashboard", api(func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, filepath.Join(dir, "agent_dashboard.html"))
		}))
		mux.Handle("GET /", middleware.SecurityHeaders(http.FileServer(http.Dir(dir))))
	}
	return mux
}

// Start listens on Options.Addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.Stop(stopCtx); err != nil {
			s.logger.Warn("gateway shutdown", "error", err)
		}
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every socket and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	srv := s.httpSrv
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.close(websocket.StatusGoingAway, "server shutting down")
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// BoundAddr returns the address the server bound to. Empty before Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*wsConn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(s.opts.ReadLimit)
	conn := newWSConn(ws, s.opts.WriteTimeout)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	return conn, nil
}

func (s *Server) release(conn *wsConn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close("")
}
