// Package api provides the HTTP surface for the engine bridge, modal
// resolution, the storage browser, and notifications.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samaffleck/Thermatix/internal/auth"
	"github.com/samaffleck/Thermatix/internal/bridge"
	"github.com/samaffleck/Thermatix/internal/browser"
	"github.com/samaffleck/Thermatix/internal/engine"
	"github.com/samaffleck/Thermatix/internal/logging"
	"github.com/samaffleck/Thermatix/internal/metrics"
	"github.com/samaffleck/Thermatix/internal/notify"
	"github.com/samaffleck/Thermatix/internal/simstore"
	"github.com/samaffleck/Thermatix/internal/storage"
)

const (
	signedURLTTL = 15 * time.Minute

	// sessionIdleTTL bounds how long an untouched browsing session
	// (and its folder cache) stays resident.
	sessionIdleTTL = 30 * time.Minute
)

// Server is the Thermatix HTTP server.
type Server struct {
	bridge   *bridge.Controller
	sims     *simstore.Store
	blobs    storage.BlobStore
	auth     *auth.Auth
	notifier *notify.Broadcaster
	engine   *engine.StatusTracker

	mu       sync.Mutex
	sessions map[string]*clientSession // client key -> browsing session
}

// clientSession pairs a browsing session with its last-use time so
// idle sessions can be evicted.
type clientSession struct {
	browser  *browser.Session
	lastUsed time.Time
}

// NewServer creates the HTTP server.
func NewServer(bc *bridge.Controller, sims *simstore.Store, blobs storage.BlobStore, authHandler *auth.Auth, notifier *notify.Broadcaster, tracker *engine.StatusTracker) *Server {
	return &Server{
		bridge:   bc,
		sims:     sims,
		blobs:    blobs,
		auth:     authHandler,
		notifier: notifier,
		engine:   tracker,
		sessions: make(map[string]*clientSession),
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", s.auth.HandleLogout)

	api := http.NewServeMux()

	// Bridge operations invoked by the engine
	api.HandleFunc("POST /api/v1/bridge/csv", s.handleStoreCSV)
	api.HandleFunc("POST /api/v1/bridge/params", s.handleStoreParams)
	api.HandleFunc("POST /api/v1/bridge/view", s.handleViewStorage)
	api.HandleFunc("POST /api/v1/bridge/load", s.handleLoadParams)
	api.HandleFunc("POST /api/v1/bridge/public", s.handleLoadPublic)
	api.HandleFunc("POST /api/v1/bridge/resume", s.handleResume)

	// Modal resolution
	api.HandleFunc("GET /api/v1/modals", s.handleModals)
	api.HandleFunc("POST /api/v1/modals/{kind}/resolve", s.handleResolve)
	api.HandleFunc("POST /api/v1/modals/{kind}/dismiss", s.handleDismiss)
	api.HandleFunc("POST /api/v1/modals/save/submit", s.handleSubmitSave)

	// Simulation listings for the selection modals
	api.HandleFunc("GET /api/v1/simulations", s.handleSimulations)

	// Storage browser
	api.HandleFunc("GET /api/v1/storage", s.handleBrowserOpen)
	api.HandleFunc("GET /api/v1/storage/{folder...}", s.handleBrowserExpand)
	api.HandleFunc("DELETE /api/v1/storage/{path...}", s.handleBrowserDelete)
	api.HandleFunc("GET /api/v1/storage-content/{path...}", s.handleBrowserContent)
	api.HandleFunc("GET /api/v1/storage-url/{path...}", s.handleBrowserURL)
	api.HandleFunc("GET /api/v1/storage-breadcrumbs", s.handleBreadcrumbs)
	api.HandleFunc("POST /api/v1/storage-navigate", s.handleNavigate)

	// Events and engine readiness
	api.HandleFunc("GET /api/v1/events", s.handleEvents)
	api.HandleFunc("POST /api/v1/engine/status", s.handleEngineStatus)
	api.HandleFunc("GET /api/v1/engine/ready", s.handleEngineReady)

	// Token validation is optional here: bridge operations decide
	// per call whether to defer to sign-in.
	mux.Handle("/api/v1/", s.auth.Middleware(clientKeyMiddleware(api)))

	return metrics.Middleware(logging.Middleware(mux))
}

// clientKeyMiddleware propagates the browser-scoped key that survives
// the sign-in round-trip.
func clientKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-Client-ID"); key != "" {
			r = r.WithContext(bridge.WithClientKey(r.Context(), key))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStoreCSV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload map[string]string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Payload) == 0 {
		s.sendError(w, http.StatusBadRequest, "payload required")
		return
	}

	// Blocks until the folder-name modal resolves.
	if err := s.bridge.StoreCSVData(r.Context(), req.Payload); err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStoreParams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	redirect, err := s.bridge.StoreTextData(r.Context(), req.Payload)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if redirect != nil {
		s.sendJSON(w, map[string]string{"redirect": redirect.URL})
		return
	}
	s.sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleViewStorage(w http.ResponseWriter, r *http.Request) {
	s.bridge.ViewStorageFiles(r.Context())
	s.sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLoadParams(w http.ResponseWriter, r *http.Request) {
	params, redirect, err := s.bridge.LoadTextData(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]string{"params": params}
	if redirect != nil {
		resp["redirect"] = redirect.URL
	}
	s.sendJSON(w, resp)
}

func (s *Server) handleLoadPublic(w http.ResponseWriter, r *http.Request) {
	params, err := s.bridge.GetPublicSimulations(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, map[string]string{"params": params})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.Resume(r.Context()); err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleModals(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]interface{}{"open": s.bridge.Modals().OpenKinds()})
}

// handleResolve delivers user input to a suspended bridge operation.
// Selection modals accept a simulation ID and resolve with that
// record's parameters; the folder-name modal takes the value as-is.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")

	// The save modal commits through its submit endpoint; resolving it
	// here would close it without inserting a record or clearing the
	// stashed payload.
	if kind == bridge.ModalSaveParams {
		s.sendError(w, http.StatusBadRequest, "save-params is completed via /api/v1/modals/save/submit")
		return
	}

	var req struct {
		Value        string `json:"value"`
		SimulationID string `json:"simulation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	value := req.Value
	if req.SimulationID != "" {
		rec, err := s.sims.Get(r.Context(), req.SimulationID)
		if err != nil {
			s.sendError(w, http.StatusNotFound, err.Error())
			return
		}
		if err := s.authorizeRecord(r, kind, rec); err != nil {
			s.sendError(w, http.StatusForbidden, err.Error())
			return
		}
		value = rec.SimParams
	}

	if !s.bridge.Modals().Resolve(kind, value) {
		s.sendError(w, http.StatusConflict, "modal not open: "+kind)
		return
	}
	s.sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) authorizeRecord(r *http.Request, kind string, rec *simstore.Record) error {
	if kind == bridge.ModalSelectPublic {
		if !rec.IsPublic {
			return fmt.Errorf("simulation is not public")
		}
		return nil
	}
	claims := auth.GetClaims(r.Context())
	if claims == nil || claims.UserID != rec.UserID {
		return fmt.Errorf("simulation belongs to another user")
	}
	return nil
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	s.bridge.DismissModal(r.Context(), kind)
	s.sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name required")
		return
	}

	if err := s.bridge.SubmitSave(r.Context(), req.Name, req.Description); err != nil {
		if err == auth.ErrNotAuthenticated {
			s.sendError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSimulations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("public") == "1" {
		records, err := s.sims.ListPublic(r.Context())
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.sendJSON(w, map[string]interface{}{"simulations": records})
		return
	}

	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	records, err := s.sims.ListByUser(r.Context(), claims.UserID)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, map[string]interface{}{"simulations": records})
}

// session returns the browsing session for the calling client,
// creating it on first use and dropping sessions no request has
// touched within sessionIdleTTL.
func (s *Server) session(r *http.Request) *browser.Session {
	key := bridge.ClientKey(r.Context())
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, cs := range s.sessions {
		if now.Sub(cs.lastUsed) > sessionIdleTTL {
			delete(s.sessions, k)
		}
	}

	cs, ok := s.sessions[key]
	if !ok {
		cs = &clientSession{browser: browser.NewSession(s.blobs)}
		s.sessions[key] = cs
	}
	cs.lastUsed = now
	return cs.browser
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if auth.GetClaims(r.Context()) == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	return true
}

func (s *Server) handleBrowserOpen(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	entries, err := s.session(r).Open(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, map[string]interface{}{"entries": entries})
}

func (s *Server) handleBrowserExpand(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	folder := r.PathValue("folder")
	entries, err := s.session(r).Expand(r.Context(), folder)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, map[string]interface{}{"entries": entries})
}

func (s *Server) handleBrowserDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	path := r.PathValue("path")
	sess := s.session(r)

	var err error
	if r.URL.Query().Get("recursive") == "1" {
		err = sess.DeleteFolder(r.Context(), path)
	} else {
		err = sess.DeleteFile(r.Context(), path)
	}
	if err != nil {
		s.notifier.Error(fmt.Sprintf("Failed to delete %s", path))
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.notifier.Success(fmt.Sprintf("Deleted %s", path))
	s.sendJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleBrowserContent(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	path := r.PathValue("path")
	if !strings.HasSuffix(path, ".csv") {
		s.sendError(w, http.StatusUnsupportedMediaType, "only .csv files can be viewed")
		return
	}
	content, err := s.session(r).ReadFile(r.Context(), path)
	if err != nil {
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	fmt.Fprint(w, content)
}

func (s *Server) handleBrowserURL(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	path := r.PathValue("path")
	url, err := s.blobs.SignedURL(r.Context(), path, signedURLTTL)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, map[string]string{"url": url})
}

func (s *Server) handleBreadcrumbs(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	s.sendJSON(w, map[string]interface{}{"breadcrumbs": s.session(r).Breadcrumbs()})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuth(w, r) {
		return
	}
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entries, err := s.session(r).Navigate(req.Index)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, map[string]interface{}{"entries": entries})
}

// handleEvents streams notifications over SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(ch)

	logging.Debug("SSE client connected", zap.String("remote_addr", r.RemoteAddr))

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			logging.Debug("SSE client disconnected", zap.String("remote_addr", r.RemoteAddr))
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := notify.Marshal(n)
			if err != nil {
				logging.Error("failed to marshal notification", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", n.Kind)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.engine.Report(req.Status)
	s.sendJSON(w, map[string]bool{"ready": s.engine.Ready()})
}

func (s *Server) handleEngineReady(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]interface{}{
		"ready":  s.engine.Ready(),
		"status": s.engine.Status(),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
		"code":  code,
	})
}
