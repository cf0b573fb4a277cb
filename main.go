package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/gzip"
)

var db *sqlx.DB
var devMode bool

// server bundles what the HTTP handlers need.
type server struct {
	store    *sqlStore
	registry *Registry
	hub      *Hub
	cfg      AppConfig
}

// gameView is the public, role-free view of a game.
type gameView struct {
	ID      string       `json:"id"`
	Phase   Phase        `json:"phase"`
	Night   int          `json:"night"`
	Roles   []Role       `json:"roles"`
	Players []playerView `json:"players"`
	Winner  Winner       `json:"winner,omitempty"`
}

type playerView struct {
	ID            PlayerID `json:"id"`
	Name          string   `json:"name"`
	Alive         bool     `json:"alive"`
	RevealedMayor bool     `json:"revealed_mayor,omitempty"`
}

func newGameView(g *Game) gameView {
	v := gameView{
		ID:     g.ID,
		Phase:  g.State.Phase,
		Night:  g.State.Night,
		Roles:  g.Settings.Roles,
		Winner: g.Winner,
	}
	for _, id := range g.JoinOrder {
		pv := playerView{ID: id, Name: g.Name(id), Alive: g.State.Phase == PhaseWaiting || g.IsAlive(id)}
		if ps, ok := g.state(id); ok {
			pv.RevealedMayor = ps.IsMayorRevealed
		}
		v.Players = append(v.Players, pv)
	}
	return v
}

func (s *server) handleGame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeToast(w, http.StatusNotFound, toastError, "No such game")
		return
	}
	writeJSON(w, http.StatusOK, newGameView(sess.Snapshot()))
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	player, err := s.playerFromRequest(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	s.hub.serveWS(w, r, player)
}

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

// shouldCompress determines if a content type should be gzip compressed
func shouldCompress(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") || strings.HasPrefix(contentType, "application/json")
}

// responseWriter wraps http.ResponseWriter to handle conditional gzip compression
type responseWriter struct {
	http.ResponseWriter
	gz         *gzip.Writer
	acceptGzip bool
	headerSent bool
}

// WriteHeader checks content type and sets up compression if appropriate
func (w *responseWriter) WriteHeader(statusCode int) {
	if w.headerSent {
		return
	}
	w.headerSent = true

	if w.acceptGzip && shouldCompress(w.Header().Get("Content-Type")) {
		w.gz = gzip.NewWriter(w.ResponseWriter)
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

// Write writes to gzip writer if it exists, otherwise to original writer
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.headerSent {
		w.WriteHeader(http.StatusOK)
	}

	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Close closes the gzip writer if it exists
func (w *responseWriter) Close() error {
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

// compress adds gzip compression to compressible responses
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			acceptGzip:     strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		}
		defer wrapped.Close()

		next.ServeHTTP(wrapped, r)
	})
}

// routes wires the handlers. The websocket route skips compression, it needs the raw writer to hijack.
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	wrap := func(pattern string, handler http.HandlerFunc) {
		mux.Handle(pattern, disableCaching(compress(handler)))
	}
	wrap("/signup", s.handleSignup)
	wrap("/login", s.handleLogin)
	wrap("/logout", s.handleLogout)
	wrap("GET /games/{id}", s.handleGame)
	mux.HandleFunc("/ws", s.handleWebSocket)

	if appLogger != nil && appLogger.logRequests {
		return &LoggingHandler{Handler: mux, Logger: appLogger}
	}
	return mux
}

func main() {
	flags := registerFlags(flag.CommandLine)
	flag.Parse()
	cfg := loadConfig(*flags.configPath)
	flags.applyTo(flag.CommandLine, &cfg)
	devMode = cfg.Dev

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("werewolf.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	logger, err := NewAppLogger(cfg.toLogConfig())
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	appLogger = logger
	defer CloseAppLogger()

	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	db, err = openDB(cfg.DB)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()
	LogDBState("after initDB")

	client := &http.Client{Timeout: 2 * time.Minute}
	if cfg.LogRequests {
		client.Transport = &LoggingRoundTripper{Logger: appLogger}
	}

	hub := newHub()
	store := newSQLStore(db)
	env := &Env{
		Store:       store,
		Notifier:    hub,
		Solicitor:   hub,
		Clock:       systemClock{},
		Rand:        cryptoRand{},
		Storyteller: newStoryteller(cfg, client),
		Config:      cfg.toGameConfig(),
	}
	registry := NewRegistry(env)
	hub.members = registry.Members
	hub.handle = registry.Handle

	hub.start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registry.Restore(ctx); err != nil {
		logError("main: Restore", err)
	}

	s := &server{store: store, registry: registry, hub: hub, cfg: cfg}
	srv := &http.Server{Addr: cfg.Addr, Handler: s.routes()}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		registry.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Server starting on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	hub.stop()
}
