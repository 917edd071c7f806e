package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netsentinel/internal/metrics"
	"netsentinel/internal/quality"
	"netsentinel/internal/sampler"
	"netsentinel/internal/store"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the monitor over HTTP.
type Server struct {
	listen  string
	store   *store.Store
	sampler *sampler.Sampler
	baseCtx context.Context
}

// NewServer constructs a server over a store and the sampler that feeds it.
func NewServer(listen string, st *store.Store, smp *sampler.Sampler) *Server {
	return &Server{
		listen:  listen,
		store:   st,
		sampler: smp,
		baseCtx: context.Background(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/recording", s.handleRecording)
	mux.HandleFunc("/api/live", s.handleLive)
	mux.HandleFunc("/api/dataset", s.handleDataset)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/{id}", s.handleSession)
	mux.HandleFunc("/api/sessions/{id}/export", s.handleExport)
	mux.HandleFunc("/api/view", s.handleView)
	mux.HandleFunc("/api/scores", s.handleScores)
	mux.HandleFunc("/ws/live", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe runs the HTTP server until ctx ends. Recordings started over
// the API live no longer than ctx.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.baseCtx = ctx
	server := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("api listening on %s", s.listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, StateResponse{
		Running:  snap.Running,
		EpochID:  snap.EpochID,
		View:     snap.View,
		Targets:  snap.Targets,
		Sessions: len(snap.History),
	})
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RecordingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp RecordingResponse
	if req.Running {
		resp.Changed = s.sampler.Start(s.baseCtx)
	} else {
		session, changed := s.sampler.Stop()
		resp.Changed = changed
		if changed {
			resp.Session = &session
		}
	}
	resp.Running = s.store.Running()
	resp.EpochID = s.store.Epoch()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.store.Live())
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, DatasetResponse{View: s.store.View(), Samples: s.store.Dataset()})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		history := s.store.History()
		out := make([]SessionInfo, 0, len(history))
		for _, session := range history {
			out = append(out, sessionInfo(session))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodDelete:
		if err := s.store.ClearHistory(); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	session, ok := s.store.Session(r.PathValue("id"))
	if !ok {
		writeStoreError(w, store.ErrUnknownSession)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	session, ok := s.store.Session(r.PathValue("id"))
	if !ok {
		writeStoreError(w, store.ErrUnknownSession)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+session.ID+`.csv"`)
		if err := metrics.WriteCSV(w, session); err != nil {
			log.Printf("export session=%s failed: %v", session.ID, err)
		}
	case "json":
		w.Header().Set("Content-Disposition", `attachment; filename="`+session.ID+`.json"`)
		writeJSON(w, http.StatusOK, session)
	default:
		writeJSONError(w, http.StatusBadRequest, "format must be csv or json")
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.View())
	case http.MethodPost:
		var req ViewRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.store.SelectView(req.SessionID, req.TargetID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.store.View())
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	samples := s.store.Dataset()
	writeJSON(w, http.StatusOK, ScoresResponse{
		View:    s.store.View(),
		Summary: metrics.Summarize(samples),
		Scores:  quality.Scores(samples),
	})
}

// handleWS streams store events until the client goes away. The subscription
// is taken before the upgrade so a client sees every event after its dial
// returns.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	events, unsubscribe := s.store.Subscribe(256)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRecording):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrUnknownSession), errors.Is(err, store.ErrUnknownTarget):
		writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
