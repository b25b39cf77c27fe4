// Package web implements carve serve: a local HTTP API over the split
// pipeline plus a file watcher that pushes change notifications to the
// browser as server-sent events.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"carve/cli/internal/diff"
	"carve/cli/internal/hunkid"
	"carve/cli/internal/run"
)

// Event is one SSE message.
type Event struct {
	ID   string      `json:"id"`
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// hub fans events out to all connected SSE clients.
type hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// publish sends to every subscriber; a slow client drops events rather than
// blocking the watcher.
func (h *hub) publish(typ string, data interface{}) {
	ev := Event{ID: uuid.NewString(), Type: typ, Data: data}
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Server serves the carve API for one repository.
type Server struct {
	base    run.Options
	hub     *hub
	watcher *Watcher
	// busy guards the repository: only one split may mutate the working tree
	// at a time.
	busy atomic.Bool
}

// NewServer builds a server around the given run options. When debounce is
// positive a recursive watcher is started on the repository root and a
// "changes" event is published after each quiet period.
func NewServer(base run.Options, debounce time.Duration) (*Server, error) {
	s := &Server{base: base, hub: newHub()}
	if debounce > 0 {
		w, err := NewWatcher(base.Repo.Root(), debounce, func() {
			s.hub.publish("changes", nil)
		})
		if err != nil {
			return nil, err
		}
		s.watcher = w
	}
	return s, nil
}

// Close stops the watcher. Connected SSE clients are dropped when their
// request contexts end.
func (s *Server) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/changes", s.handleChanges)
	mux.HandleFunc("/api/hunks", s.handleHunks)
	mux.HandleFunc("/api/plan", s.handlePlan)
	mux.HandleFunc("/api/split", s.handleSplit)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	files, err := s.base.Repo.ChangedFiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

// hunkView is the wire shape for one hunk. ID is a content hash so clients
// can correlate hunks across rescans; the index is only stable within one.
type hunkView struct {
	ID      string `json:"id"`
	File    string `json:"file"`
	Index   int    `json:"hunkIndex"`
	Summary string `json:"summary"`
	Text    string `json:"text"`
}

func (s *Server) handleHunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reg, _, err := run.Collect(r.Context(), s.base)
	if errors.Is(err, run.ErrNoChanges) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"hunks": []hunkView{}})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var views []hunkView
	for _, f := range reg.Files() {
		for i, h := range f.Hunks {
			text := hunkText(h)
			views = append(views, hunkView{
				ID:      hunkid.ID(f.File, text),
				File:    f.File,
				Index:   i,
				Summary: h.Summary,
				Text:    text,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hunks": views})
}

func hunkText(h diff.Hunk) string {
	if h.IsPlaceholder() {
		return ""
	}
	return h.Text()
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	res, err := run.Plan(r.Context(), s.base)
	if errors.Is(err, run.ErrNoChanges) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// splitRequest is the optional POST body for /api/split.
type splitRequest struct {
	DryRun    bool `json:"dryRun"`
	MaxGroups int  `json:"maxGroups"`
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, errors.New("a split is already running"))
		return
	}
	defer s.busy.Store(false)

	opts := s.base
	var req splitRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			if req.DryRun {
				opts.DryRun = true
				opts.Classifier = nil
			}
			if req.MaxGroups > 0 {
				opts.MaxGroups = req.MaxGroups
			}
		}
	}

	res, err := run.Split(r.Context(), opts)
	if errors.Is(err, run.ErrNoChanges) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil && res == nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.hub.publish("split", res.Report)
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
			flusher.Flush()
		}
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
