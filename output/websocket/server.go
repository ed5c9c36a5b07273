package websocket

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/fanout"
	"github.com/Kent0008/breakers-nurik/metric"
)

// Config holds the live endpoint settings.
type Config struct {
	Addr           string        `json:"addr" yaml:"addr"`
	Path           string        `json:"path" yaml:"path"`
	SendQueue      int           `json:"send_queue" yaml:"send_queue"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval   time.Duration `json:"ping_interval" yaml:"ping_interval"`
	PongTimeout    time.Duration `json:"pong_timeout" yaml:"pong_timeout"`
	QueryTimeout   time.Duration `json:"query_timeout" yaml:"query_timeout"`
	QueryRate      float64       `json:"query_rate" yaml:"query_rate"` // queries/s across all clients, 0 = unlimited
	QueryBurst     int           `json:"query_burst" yaml:"query_burst"`
	MaxMessageSize int64         `json:"max_message_size" yaml:"max_message_size"`

	// AutoSubscribeIncidents joins every new connection to the incidents group.
	AutoSubscribeIncidents bool `json:"auto_subscribe_incidents" yaml:"auto_subscribe_incidents"`

	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// DefaultConfig returns the default live endpoint configuration.
func DefaultConfig() Config {
	return Config{
		Addr:                   ":8000",
		Path:                   "/ws/monitoring/",
		SendQueue:              64,
		WriteTimeout:           10 * time.Second,
		PingInterval:           30 * time.Second,
		PongTimeout:            60 * time.Second,
		QueryTimeout:           5 * time.Second,
		QueryRate:              100,
		QueryBurst:             10,
		MaxMessageSize:         64 * 1024,
		AutoSubscribeIncidents: true,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.SendQueue <= 0 {
		c.SendQueue = def.SendQueue
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = 2 * c.PingInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = def.QueryTimeout
	}
	if c.QueryRate > 0 && c.QueryBurst <= 0 {
		c.QueryBurst = 1
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	return c
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTLS serves the endpoint over TLS. A nil cfg serves plain TCP.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// Server accepts live connections and serves the monitoring protocol.
type Server struct {
	cfg      Config
	hub      *fanout.Hub
	queries  Queries
	logger   *slog.Logger
	metrics  *metric.Metrics
	upgrader websocket.Upgrader

	tlsConfig    *tls.Config
	queryLimiter *rate.Limiter

	lifecycleMu sync.Mutex
	running     bool
	server      *http.Server
	listener    net.Listener
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	clientsMu sync.RWMutex
	clients   map[string]*Connection
}

// NewServer creates a live endpoint bound to hub.
func NewServer(cfg Config, hub *fanout.Hub, queries Queries, opts ...Option) (*Server, error) {
	if hub == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "websocket", "NewServer", "require hub")
	}
	if queries == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "websocket", "NewServer", "require queries")
	}

	s := &Server{
		cfg:     cfg.withDefaults(),
		hub:     hub,
		queries: queries,
		logger:  slog.Default(),
		clients: make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "live")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	if s.cfg.QueryRate > 0 {
		s.queryLimiter = rate.NewLimiter(rate.Limit(s.cfg.QueryRate), s.cfg.QueryBurst)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler serving the live endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	return mux
}

// Start begins listening. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "websocket", "Start", "context check")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "websocket", "Start", "listen on "+s.cfg.Addr)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Live server failed", "error", err)
		}
	}()

	s.logger.Info("Live endpoint listening", "addr", ln.Addr().String(), "path", s.cfg.Path, "tls", s.tlsConfig != nil)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the HTTP server down and closes every live connection.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	// Hijacked connections are not tracked by Shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
	}

	s.cancel()
	s.closeAllClients()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("Live connections did not exit within timeout")
	}

	s.server = nil
	s.listener = nil
	return nil
}

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) closeAllClients() {
	s.clientsMu.RLock()
	conns := make([]*Connection, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range conns {
		c.Close(errors.ErrShuttingDown)
	}
}

func (s *Server) removeClient(c *Connection) {
	s.clientsMu.Lock()
	_, ok := s.clients[c.id]
	delete(s.clients, c.id)
	s.clientsMu.Unlock()

	if ok {
		s.metrics.RecordConnectionClosed()
	}
}

// register tracks c and reserves its two goroutines. Once Stop has cancelled
// the server context it refuses and closes c instead, so a connection
// upgraded during shutdown is never missed by closeAllClients or wg.Wait.
func (s *Server) register(c *Connection) bool {
	s.clientsMu.Lock()
	if s.ctx.Err() != nil {
		s.clientsMu.Unlock()
		c.Close(errors.ErrShuttingDown)
		return false
	}
	s.clients[c.id] = c
	s.wg.Add(2)
	s.clientsMu.Unlock()

	s.metrics.RecordConnectionOpened()
	return true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConnection(s.ctx, uuid.NewString(), conn, s)
	if !s.register(c) {
		return
	}

	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()

	c.reply(mustMarshal(messageFrame{
		Type:    frameConnectionEstablished,
		Message: "Connected to monitoring system",
	}))
	c.state.CompareAndSwap(stateConnecting, stateOpen)

	if s.cfg.AutoSubscribeIncidents {
		c.join(fanout.IncidentsGroup)
	}
	s.logger.Debug("Live connection opened", "connection_id", c.id, "remote", r.RemoteAddr)

	go func() {
		defer s.wg.Done()
		c.readLoop()
	}()
}
