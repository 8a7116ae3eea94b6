package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bosley/voechoal/audio"
	"github.com/bosley/voechoal/player"
	"github.com/bosley/voechoal/recorder"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	// HTTP server address
	Addr string

	// Certificate files for TLS; plain HTTP when either is empty
	CertFile string
	KeyFile  string

	// Bearer token required on every request when set
	Token string
}

// ItemStore is the slice of the database the API needs.
type ItemStore interface {
	Items() []audio.AudioItem
	Get(id string) (audio.AudioItem, bool)
	Remove(id string) (bool, error)
}

type TranscriptionStatus interface {
	IsTranscribing() bool
}

type Recorder interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
}

type Player interface {
	Play(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
}

// Deps are the components the API drives.
type Deps struct {
	Items         ItemStore
	Transcription TranscriptionStatus
	Recorder      Recorder
	Player        Player
}

// Server exposes the polling state and the record/play controls over HTTP.
type Server struct {
	config Config
	deps   Deps

	router      *mux.Router
	server      *http.Server
	upgrader    websocket.Upgrader
	subscribers *SubscriberList
	dirty       chan struct{}
}

func New(cfg Config, deps Deps) *Server {
	s := &Server{
		config:      cfg,
		deps:        deps,
		subscribers: NewSubscriberList(),
		dirty:       make(chan struct{}, 1),
		upgrader: websocket.Upgrader{
			// The API is meant for a local front end served from anywhere
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requireToken)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/poll", s.handlePoll).Methods(http.MethodGet)
	api.HandleFunc("/record/start", s.handleRecordStart).Methods(http.MethodPost)
	api.HandleFunc("/record/pause", s.handleRecordPause).Methods(http.MethodPost)
	api.HandleFunc("/player/{id}/start", s.handlePlayerStart).Methods(http.MethodPost)
	api.HandleFunc("/player/{id}/pause", s.handlePlayerPause).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}", s.handleRemoveItem).Methods(http.MethodDelete)

	router.HandleFunc("/ws", s.handleWebSocket)

	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.router,
	}

	go s.runHub(ctx)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.CertFile != "" && s.config.KeyFile != "" {
			slog.Info("Serving HTTPS", "addr", s.config.Addr)
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			slog.Warn("Serving plain HTTP, configure a certificate to enable TLS", "addr", s.config.Addr)
			err = s.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Poll builds the current polling state snapshot.
func (s *Server) Poll() audio.PollingState {
	isTranscribing := s.deps.Transcription.IsTranscribing()
	items := s.deps.Items.Items()

	state, err := audio.NewPollingState(isTranscribing, items)
	if err != nil {
		slog.Error("Serving polling state with invalid items", "error", err)
		return audio.PollingState{IsTranscribing: isTranscribing, AudioItems: items}
	}
	return state
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Browsers cannot set headers on a websocket upgrade, so /ws also takes ?token=
		var provided string
		if r.URL.Path == "/ws" {
			provided = r.URL.Query().Get("token")
		}
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.config.Token)) != 1 {
			slog.Warn("Invalid token received", "remoteAddr", r.RemoteAddr, "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	state := s.Poll()
	if _, _, err := state.PlayingItem(); err != nil {
		slog.Warn("Polling state violates playback exclusivity", "error", err)
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Recorder.Start(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordPause(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Recorder.Pause(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlayerStart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Player.Play(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlayerPause(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Player.Pause(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, ok := s.deps.Items.Get(id); !ok {
		writeError(w, http.StatusNotFound, player.ErrUnknownItem)
		return
	}

	if err := s.deps.Player.Stop(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	removed, err := s.deps.Items.Remove(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, player.ErrUnknownItem)
		return
	}

	slog.Info("Removed audio item", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, player.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, player.ErrNotRunning), errors.Is(err, recorder.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
