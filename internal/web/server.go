// Package web implements the HTTP server for the mkt node. It mounts the API
// service, streams marketplace events over SSE and websockets, and serves
// the AsciiDoc documentation.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"marketplace.mini/mkt/internal/api"
	"marketplace.mini/mkt/internal/docs"
	"marketplace.mini/mkt/internal/logger"
	"marketplace.mini/mkt/internal/types"
)

var log = logging.Logger("web")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Status is the node summary pushed on /ws/status.
type Status struct {
	Height         int64  `json:"height"`
	ActiveListings int    `json:"active_listings"`
	LastBackup     string `json:"last_backup"`
}

// Config wires a Server to the rest of the node.
type Config struct {
	Port     int
	Decimals int32
	API      *api.Service
	Docs     *docs.Service
	Logger   *logger.Logger
	// Status reports the current node summary. Optional.
	Status func() Status
	// Commits delivers committed heights. Optional.
	Commits <-chan int64
}

// Server is the web server for the API and live updates.
type Server struct {
	cfg        Config
	logger     *logger.Logger
	hub        *hub
	httpServer *http.Server
}

// NewServer creates a new web server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.New(200)
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		hub:    newHub(),
	}

	s.logger.Info("mkt server initialized")

	if cfg.Commits != nil {
		go s.watchCommits(cfg.Commits)
	}
	return s
}

// Logger returns the server's logger instance
func (s *Server) Logger() *logger.Logger {
	return s.logger
}

// Publish pushes a committed marketplace event to live subscribers and the
// activity log. It is installed as the application's event handler.
func (s *Server) Publish(ev types.Event) {
	s.logger.Info(s.describe(ev))
	s.hub.publish(Message{Type: "event", Height: ev.Height, Event: &ev})
}

func (s *Server) describe(ev types.Event) string {
	amount := func(v uint64) string { return types.FormatAmount(v, s.cfg.Decimals) }
	switch ev.Kind {
	case types.EventListed:
		return fmt.Sprintf("Listed %s/%d for %s by %s", ev.ContractRef, ev.AssetID, amount(ev.Price), short(ev.Seller))
	case types.EventSold:
		return fmt.Sprintf("Sold %s/%d to %s for %s (listed at %s)", ev.ContractRef, ev.AssetID, short(ev.Holder), amount(ev.Paid), amount(ev.Price))
	case types.EventMinted:
		return fmt.Sprintf("Minted %s/%d for %s", ev.ContractRef, ev.AssetID, short(ev.Holder))
	default:
		return fmt.Sprintf("%s %s/%d", ev.Kind, ev.ContractRef, ev.AssetID)
	}
}

func short(a types.Address) string {
	if len(a) > 12 {
		return string(a[:12])
	}
	return string(a)
}

// Handler returns the routed handler, for Start and for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.cfg.API != nil {
		s.cfg.API.Register(mux)
	}
	mux.HandleFunc("/api/events/stream", s.handleEventStream)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.HandleFunc("/ws/activity", s.handleActivityWS)
	mux.HandleFunc("/ws/status", s.handleStatusWS)
	mux.HandleFunc("/docs", s.handleDocsIndex)
	mux.HandleFunc("/docs/", s.handleDoc)
	mux.HandleFunc("/", s.handleIndex)

	return mux
}

// Start runs the web server. The returned channel receives the serve error,
// or is closed after a clean Shutdown.
func (s *Server) Start() <-chan error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("API server listening on http://localhost:%d", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) watchCommits(commits <-chan int64) {
	for height := range commits {
		s.hub.publish(Message{Type: "commit", Height: height})
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.setCacheHeaders(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "mkt",
		"version": types.Version,
		"docs":    "/docs",
		"streams": []string{"/api/events/stream", "/ws/events", "/ws/activity", "/ws/status"},
	})
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable proxy buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientChan := make(chan []byte, 16)
	backlog := s.hub.subscribe(clientChan)
	defer s.hub.unsubscribe(clientChan)

	log.Debugf("SSE client connected (%d subscribers)", s.hub.subscribers())

	for _, data := range backlog {
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	flusher.Flush()

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-clientChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-keepAlive.C:
			// Send keep-alive comment to prevent timeout
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientChan := make(chan []byte, 16)
	backlog := s.hub.subscribe(clientChan)
	defer s.hub.unsubscribe(clientChan)

	for _, data := range backlog {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	// The reader notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case data, ok := <-clientChan:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleActivityWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Send initial history (last 50 messages), oldest first
	initial := s.logger.GetRecent(50)
	for i := len(initial) - 1; i >= 0; i-- {
		if err := conn.WriteJSON(initial[i]); err != nil {
			return
		}
	}

	var lastSeq uint64
	if len(initial) > 0 {
		lastSeq = initial[0].Seq
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			for _, msg := range s.logger.Since(lastSeq) {
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
				lastSeq = msg.Seq
			}
		}
	}
}

func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := func() error {
		msg := map[string]interface{}{
			"time":        time.Now().Format("2006-01-02 15:04:05"),
			"subscribers": s.hub.subscribers(),
		}
		if s.cfg.Status != nil {
			st := s.cfg.Status()
			msg["height"] = st.Height
			msg["active_listings"] = st.ActiveListings
			msg["last_backup"] = st.LastBackup
		}
		return conn.WriteJSON(msg)
	}

	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := send(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleDocsIndex(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Docs == nil {
		http.NotFound(w, r)
		return
	}
	list, err := s.cfg.Docs.ListDocs()
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to list docs: %v", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list docs"})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/docs/")
	if s.cfg.Docs == nil || name == "" {
		http.NotFound(w, r)
		return
	}

	content, err := s.cfg.Docs.GetDoc(r.Context(), name)
	if err != nil {
		if errors.Is(err, docs.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error(fmt.Sprintf("Failed to load doc %s: %v", name, err))
		http.Error(w, "Failed to render doc", http.StatusInternalServerError)
		return
	}

	s.setCacheHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, content)
}

func (s *Server) setCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
