// Package stubgateway is a local stand-in for the agent mesh gateway.
// It serves the exact REST surface the console's client speaks, backed
// by SQLite, with a scripted agent behind the streaming endpoint and a
// websocket mirror of the event bus.
package stubgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dohr-michael/parley/internal/a2a"
	"github.com/dohr-michael/parley/internal/client"
	"github.com/dohr-michael/parley/internal/events"
)

// Server is the stub gateway HTTP server.
type Server struct {
	httpServer *http.Server
	store      *Store
	hub        *Hub
	bus        *events.Bus
	log        *slog.Logger

	// StreamDelay is the pause between scripted events.
	StreamDelay time.Duration

	mu       sync.Mutex
	canceled map[string]chan struct{}
}

// NewServer creates a stub gateway listening on host:port.
func NewServer(store *Store, bus *events.Bus, host string, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		store:       store,
		hub:         NewHub(bus, log),
		bus:         bus,
		log:         log,
		StreamDelay: 200 * time.Millisecond,
		canceled:    make(map[string]chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", s.hub.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/message:stream", s.handleMessageStream)
		r.Post("/tasks/{taskID}:cancel", s.handleTaskCancel)

		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Patch("/sessions/{sessionID}", s.handleRenameSession)
		r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
		r.Get("/sessions/{sessionID}/chat-tasks", s.handleListChatTasks)
		r.Post("/sessions/{sessionID}/chat-tasks", s.handleSaveChatTask)

		r.Get("/artifacts/{sessionID}", s.handleListArtifacts)
		r.Get("/artifacts/{sessionID}/{filename}", s.handleGetArtifact)
		r.Put("/artifacts/{sessionID}/{filename}", s.handlePutArtifact)
		r.Delete("/artifacts/{sessionID}/{filename}", s.handleDeleteArtifact)
		r.Get("/artifacts/{sessionID}/{filename}/versions/{version}", s.handleGetArtifactVersion)
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Handler exposes the router for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("stub gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	var rpc a2a.Request
	if err := json.NewDecoder(r.Body).Decode(&rpc); err != nil {
		http.Error(w, "invalid json-rpc request", http.StatusBadRequest)
		return
	}
	if rpc.Method != a2a.MethodMessageStream {
		http.Error(w, "unsupported method "+rpc.Method, http.StatusBadRequest)
		return
	}
	var params a2a.MessageSendParams
	if err := json.Unmarshal(rpc.Params, &params); err != nil {
		http.Error(w, "invalid params", http.StatusBadRequest)
		return
	}

	sessionID := params.Message.ContextID
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}
	taskID := "task_" + uuid.New().String()[:8]

	if err := s.store.UpsertSession(r.Context(), sessionID, ""); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var userText strings.Builder
	for _, p := range params.Message.Parts {
		if p.Kind == a2a.PartKindText {
			userText.WriteString(p.Text)
		}
	}

	cancelCh := make(chan struct{})
	s.mu.Lock()
	s.canceled[taskID] = cancelCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.canceled, taskID)
		s.mu.Unlock()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(client.HeaderTaskID, taskID)
	w.Header().Set(client.HeaderContextID, sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.bus.Publish(events.NewEvent(events.EventTurnStarted, events.SourceGateway, map[string]any{
		"task_id":    taskID,
		"session_id": sessionID,
	}))

	steps := buildScript(taskID, sessionID, userText.String())

	// Persist the scripted artifact so the list endpoint agrees with
	// the stream.
	if name, mime, content, ok := scriptArtifactContent(userText.String()); ok {
		if _, err := s.store.PutArtifact(r.Context(), sessionID, name, mime, "stub-generated report", content); err != nil {
			s.log.Warn("store scripted artifact", "error", err)
		}
	}

	ctx := r.Context()
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return
		case <-cancelCh:
			s.writeSSE(w, flusher, canceledFinal(taskID, sessionID))
			return
		case <-time.After(s.StreamDelay):
		}
		s.writeSSE(w, flusher, step.event)
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, ev a2a.StreamEvent) {
	var result any
	switch ev.Kind {
	case a2a.KindTask:
		result = ev.Task
	case a2a.KindStatusUpdate:
		result = ev.Status
	case a2a.KindArtifactUpdate:
		result = ev.Artifact
	}
	env := a2a.Response{JSONRPC: a2a.JSONRPCVersion}
	data, err := json.Marshal(result)
	if err != nil {
		s.log.Error("marshal stream event", "error", err)
		return
	}
	env.Result = data
	payload, err := json.Marshal(env)
	if err != nil {
		s.log.Error("marshal stream envelope", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	s.mu.Lock()
	ch, ok := s.canceled[taskID]
	if ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListSessions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []client.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.store.RenameSession(r.Context(), chi.URLParam(r, "sessionID"), body.Name); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListChatTasks(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListChatTasks(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if recs == nil {
		recs = []client.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSaveChatTask(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var rec client.TaskRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid record", http.StatusBadRequest)
		return
	}
	if rec.TaskID == "" {
		http.Error(w, "record missing taskId", http.StatusBadRequest)
		return
	}
	if err := s.store.UpsertSession(r.Context(), sessionID, ""); err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.store.SaveChatTask(r.Context(), sessionID, rec); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListArtifacts(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if recs == nil {
		recs = []client.ArtifactRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, 0)
}

func (s *Server) handleGetArtifactVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		http.Error(w, "invalid version", http.StatusBadRequest)
		return
	}
	s.serveArtifact(w, r, version)
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, version int) {
	content, mime, err := s.store.GetArtifact(r.Context(),
		chi.URLParam(r, "sessionID"), chi.URLParam(r, "filename"), version)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if mime != "" {
		w.Header().Set("Content-Type", mime)
	}
	w.Write(content)
}

func (s *Server) handlePutArtifact(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	filename := chi.URLParam(r, "filename")

	content, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.UpsertSession(r.Context(), sessionID, ""); err != nil {
		s.storeError(w, err)
		return
	}
	version, err := s.store.PutArtifact(r.Context(), sessionID, filename,
		r.Header.Get("Content-Type"), "", content)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"filename": filename, "version": version})
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteArtifact(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "filename"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
