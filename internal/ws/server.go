package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/stratumd/backend/internal/config"
	"github.com/stratumd/backend/internal/events"
	"github.com/stratumd/backend/internal/pubsub"
	"github.com/stratumd/backend/internal/session"
)

const maxMessageSize = 64 << 10

var ErrTooManyConnections = errors.New("too many connections")

type Server struct {
	store    *session.Store
	registry *pubsub.Registry
	jobs     *events.Jobs
	tracker  *events.DifficultyTracker
	handlers map[string]HandlerFunc

	sendBuffer     int
	maxConns       int
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cfg config.ServerConfig, store *session.Store, registry *pubsub.Registry, jobs *events.Jobs, tracker *events.DifficultyTracker) *Server {
	s := &Server{
		store:          store,
		registry:       registry,
		jobs:           jobs,
		tracker:        tracker,
		sendBuffer:     cfg.SendBuffer,
		maxConns:       cfg.MaxConnections,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.AuthToken,
	}
	if s.sendBuffer <= 0 {
		s.sendBuffer = 64
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	s.registerHandlers()
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/sessions", s.handleSessions)
		r.Get("/events", s.handleEvents)
		r.Get("/events/{event}", s.handleEventCount)
		r.Post("/events/{event}", s.handleEmit)
		r.Post("/difficulty", s.handleDifficulty)
	})
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.maxConns > 0 && s.store.Count() >= s.maxConns {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c := s.addClient(conn, r.RemoteAddr)
	log.Printf("WebSocket client connected: %s (%s)", r.RemoteAddr, c.id)

	go s.readLoop(c)
}

func (s *Server) addClient(conn *websocket.Conn, remoteAddr string) *client {
	c := newClient(conn, remoteAddr, s.sendBuffer, s.removeClient)
	s.store.Add(session.New(c))
	return c
}

// removeClient tears down the connection's session, which takes its
// subscriptions with it.
func (s *Server) removeClient(c *client) {
	sess, ok := s.store.Remove(c.id)
	if !ok {
		return
	}
	dropped := len(sess.Clear())
	s.registry.Disconnect(c.id)
	c.close()
	log.Printf("WebSocket client disconnected: %s (%d subscriptions dropped)", c.remoteAddr, dropped)
}

func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// A frame may carry several newline-delimited requests.
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				_ = c.reply(nil, nil, &RPCError{Code: ErrCodeParse, Message: "parse error"})
				continue
			}
			s.dispatch(c, req)
		}
	}
}

// dispatch runs the handler for req and carries out the Result it returns.
// Subscribe continuations only run after the acknowledgement is queued.
func (s *Server) dispatch(c *client, req Request) {
	sess, ok := s.store.Get(c.id)
	if !ok {
		_ = c.reply(req.ID, nil, rpcError(pubsub.ErrNoSession))
		return
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		_ = c.reply(req.ID, nil, &RPCError{Code: ErrCodeMethodNotFound, Message: "unknown method " + req.Method})
		return
	}

	res := h(c, sess, req.Params)
	switch res.kind {
	case resultReply:
		_ = c.reply(req.ID, res.value, nil)
	case resultError:
		_ = c.reply(req.ID, nil, res.err)
	case resultSubscribe:
		ack, err := s.registry.Subscribe(c, res.sub)
		if err != nil {
			_ = c.reply(req.ID, nil, rpcError(err))
			return
		}
		if err := c.reply(req.ID, [][]string{ack.Pair()}, nil); err != nil {
			return
		}
		ack.Complete()
	case resultUnsubscribe:
		removed, err := s.registry.Unsubscribe(c, res.key)
		if err != nil {
			_ = c.reply(req.ID, nil, rpcError(err))
			return
		}
		_ = c.reply(req.ID, removed, nil)
	default:
		log.Printf("ws: handler for %s returned unknown result kind %d", req.Method, res.kind)
		_ = c.reply(req.ID, nil, &RPCError{Code: ErrCodeOther, Message: "internal error"})
	}
}

type sessionInfo struct {
	ID            string      `json:"id"`
	RemoteAddr    string      `json:"remote_addr"`
	ConnectedAt   time.Time   `json:"connected_at"`
	Workers       []string    `json:"workers"`
	Subscriptions [][2]string `json:"subscriptions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := make([]sessionInfo, 0, s.store.Count())
	for _, id := range s.store.IDs() {
		sess, ok := s.store.Get(id)
		if !ok {
			continue
		}
		info := sessionInfo{
			ID:            id,
			RemoteAddr:    sess.RemoteAddr(),
			ConnectedAt:   sess.CreatedAt(),
			Workers:       []string{},
			Subscriptions: [][2]string{},
		}
		for _, wk := range sess.AuthorizedWorkers() {
			info.Workers = append(info.Workers, wk.Name)
		}
		for _, sub := range sess.Subscriptions() {
			info.Subscriptions = append(info.Subscriptions, [2]string{sub.Event(), sub.Key()})
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Events())
}

func (s *Server) handleEventCount(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	writeJSON(w, http.StatusOK, map[string]any{
		"event":       event,
		"subscribers": s.registry.SubscriptionCount(event),
	})
}

// handleEmit publishes a JSON array body as the arguments of event.
func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	var args []any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&args); err != nil {
		http.Error(w, "body must be a JSON array", http.StatusBadRequest)
		return
	}
	sent := s.registry.Emit(event, args...)
	writeJSON(w, http.StatusOK, map[string]any{"event": event, "sent": sent})
}

func (s *Server) handleDifficulty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Difficulty float64 `json:"difficulty"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Difficulty <= 0 {
		http.Error(w, "difficulty must be positive", http.StatusBadRequest)
		return
	}
	sent := s.tracker.Set(req.Difficulty)
	writeJSON(w, http.StatusOK, map[string]any{"difficulty": req.Difficulty, "sent": sent})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ws: encode response: %v", err)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Stratumd-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// ListenAndServe serves handler on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
