package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/todosync/internal/auth"
	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
	"github.com/roach88/todosync/internal/remote"
)

const writeTimeout = 5 * time.Second

// Server serves a backing store to websocket clients.
type Server struct {
	backend  remote.Client
	verifier *auth.Verifier
	logger   *slog.Logger
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	connections prometheus.Gauge

	clientsMu sync.RWMutex
	clients   map[*connection]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithRegistry sets the registry served on /metrics, so other components
// can expose their collectors alongside the server's.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) { s.registry = reg }
}

// NewServer creates a server for backend. Connections must present a
// token that verifier accepts.
func NewServer(backend remote.Client, verifier *auth.Verifier, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		backend:  backend,
		verifier: verifier,
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
		clients:  make(map[*connection]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todosync_realtime_requests_total",
			Help: "Requests served, by operation and outcome.",
		}, []string{"op", "outcome"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "todosync_realtime_connections",
			Help: "Open websocket connections.",
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry.MustRegister(s.requests, s.connections)
	return s
}

// Handler returns the HTTP routes: /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("realtime server listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Close disconnects every client and waits for their handlers.
func (s *Server) Close() {
	s.cancel()
	s.clientsMu.Lock()
	for c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	s.clientsMu.Unlock()
	s.wg.Wait()
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("access_token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" || s.verifier == nil {
		return "", remote.ErrUnauthorized
	}
	owner, err := s.verifier.Owner(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", remote.ErrUnauthorized, err)
	}
	return owner, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner, err := s.authenticate(r)
	if err != nil {
		s.logger.Debug("rejecting connection", "error", err)
		http.Error(w, remote.ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		server: s,
		conn:   conn,
		owner:  owner,
		subs:   make(map[string]remote.Subscription),
	}
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
	s.connections.Inc()
	s.wg.Add(1)
	s.logger.Info("client connected", "owner", owner)

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		s.connections.Dec()
		s.wg.Done()
		s.logger.Info("client disconnected", "owner", owner)
	}()
	c.serve(s.ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// connection is one authenticated client.
type connection struct {
	server *Server
	conn   *websocket.Conn
	owner  string

	mu   sync.Mutex
	subs map[string]remote.Subscription
	wg   sync.WaitGroup
}

func (c *connection) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		c.closeSubscriptions()
		c.wg.Wait()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var f Frame
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			return
		}
		if f.Type != FrameRequest {
			continue
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handle(ctx, f)
		}()
	}
}

func (c *connection) handle(ctx context.Context, req Frame) {
	resp := Frame{Type: FrameResponse, ID: req.ID}
	var err error
	switch req.Op {
	case remote.OpQuery:
		resp.Rows, err = c.query(ctx, req)
	case remote.OpInsert:
		resp.Row, err = c.insert(ctx, req)
	case remote.OpUpdate:
		resp.Row, err = c.server.backend.Update(ctx, req.Table, c.owner, req.RecordID, req.Row)
	case remote.OpDelete:
		err = c.server.backend.Delete(ctx, req.Table, c.owner, req.Row)
	case OpSubscribe:
		var sub remote.Subscription
		sub, err = c.subscribe(ctx, req)
		if err == nil {
			// The response must precede the subscription's first event.
			c.reply(ctx, req.Op, resp, nil)
			c.wg.Add(1)
			go c.forward(ctx, req.ID, sub)
			return
		}
	case OpUnsubscribe:
		c.unsubscribe(req.RecordID)
	default:
		err = fmt.Errorf("%w: unknown op %q", errInvalid, req.Op)
	}
	c.reply(ctx, req.Op, resp, err)
}

func (c *connection) reply(ctx context.Context, op string, resp Frame, err error) {
	outcome := "ok"
	if err != nil {
		outcome = toWire(err).Code
		resp.Error = toWire(err)
		c.server.logger.Debug("request failed", "op", op, "owner", c.owner, "error", err)
	}
	c.server.requests.WithLabelValues(op, outcome).Inc()
	c.write(ctx, resp)
}

func (c *connection) write(ctx context.Context, f Frame) bool {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.conn, f); err != nil {
		c.server.logger.Debug("write failed", "owner", c.owner, "error", err)
		return false
	}
	return true
}

func (c *connection) query(ctx context.Context, req Frame) ([]model.Row, error) {
	if _, err := query.Columns(req.Table); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalid, err)
	}
	sel := query.ForOwner(req.Table, c.owner)
	if req.Filter != "" {
		extra, err := query.ParseFilter(req.Filter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalid, err)
		}
		sel.Filter = query.And{Predicates: []query.Predicate{sel.Filter, extra}}
	}
	if len(req.Order) > 0 {
		sel.OrderBy = req.Order
	}
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalid, err)
	}
	return c.server.backend.Query(ctx, sel)
}

func (c *connection) insert(ctx context.Context, req Frame) (model.Row, error) {
	row := req.Row.Clone()
	if owner, ok := row[model.ColOwner]; ok && owner != c.owner {
		return nil, remote.ErrUnauthorized
	}
	row[model.ColOwner] = c.owner
	return c.server.backend.Insert(ctx, req.Table, row)
}

func (c *connection) subscribe(ctx context.Context, req Frame) (remote.Subscription, error) {
	filter := query.OwnerFilter(c.owner)
	if req.Filter != "" {
		filter += "&" + req.Filter
	}
	sub, err := c.server.backend.Subscribe(ctx, remote.SubscribeOptions{Table: req.Table, Filter: filter})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.subs[req.ID] = sub
	c.mu.Unlock()
	return sub, nil
}

func (c *connection) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		_ = sub.Close()
	}
}

func (c *connection) forward(ctx context.Context, id string, sub remote.Subscription) {
	defer c.wg.Done()
	for ch := range sub.Events() {
		change := ch
		if !c.write(ctx, Frame{Type: FrameEvent, ID: id, Change: &change}) {
			return
		}
	}
}

func (c *connection) closeSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]remote.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}
