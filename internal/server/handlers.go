package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/conneroisu/panes/internal/errors"
	"github.com/conneroisu/panes/internal/export"
	"github.com/conneroisu/panes/internal/types"
)

// maxBufferBytes bounds a single PUT /api/buffers/{slot} body.
const maxBufferBytes = 1 << 20

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mutating := s.limiter.Middleware(func(*http.Request) { s.metrics.RateLimited() })

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/buffers", s.handleBuffers)
	mux.Handle("PUT /api/buffers/{slot}", mutating(http.HandlerFunc(s.handlePutBuffer)))
	mux.HandleFunc("GET /api/preview", s.handlePreview)
	mux.HandleFunc("GET /api/export/{file}", s.handleExport)
	mux.HandleFunc("GET /api/console", s.handleConsole)
	mux.Handle("POST /api/commands", mutating(http.HandlerFunc(s.handleCommand)))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.health != nil {
		mux.HandleFunc("GET /health", s.health.HTTPHandler())
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	templ.Handler(page(pageData{
		Sources: export.FromBuffers(snap.Buffers),
		State:   snap.State,
		Version: s.version,
	})).ServeHTTP(w, r)
}

func (s *Server) handleBuffers(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"buffers":    snap.Buffers,
		"memoryOnly": snap.MemoryOnly,
	})
}

func (s *Server) handlePutBuffer(w http.ResponseWriter, r *http.Request) {
	slot, err := types.ParseSlot(r.PathValue("slot"))
	if err != nil {
		s.writeError(w, r, errors.NewValidationError(errors.ErrCodeUnknownSlot, err.Error()))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBufferBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			http.Error(w, "Buffer too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if err := s.session.Edit(slot, string(body)); err != nil {
		s.writeError(w, r, err)
		return
	}
	// The render follows after the debounce delay.
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"slot":  slot,
		"bytes": len(body),
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Opened directly, the document still runs without the host's origin.
	w.Header().Set("Content-Security-Policy", "sandbox allow-scripts allow-modals")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, snap.Document)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if _, err := export.Lookup(name); err != nil {
		http.NotFound(w, r)
		return
	}

	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := export.Export(export.HTTPDownloader{W: w}, name, export.FromBuffers(snap.Buffers)); err != nil {
		s.logger.Warn(r.Context(), err, "Export failed", "file", name)
	}
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"generation": snap.Generation,
		"entries":    consoleLines(snap.Console),
	})
}

type commandRequest struct {
	Name string `json:"name"`
	Arg  string `json:"arg"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64*1024))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, errors.NewValidationError(errors.ErrCodeInvalidArgument, "invalid command body: "+err.Error()))
		return
	}

	state, err := s.session.Command(r.Context(), req.Name, req.Arg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug(context.Background(), "Failed to encode response", "error", err.Error())
	}
}

// writeError maps typed errors to a status code and a JSON body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := errors.ErrCodeInternalError

	var pe *errors.PanesError
	if stderrors.As(err, &pe) {
		code = pe.Code
		switch pe.Type {
		case errors.ErrorTypeValidation:
			status = http.StatusBadRequest
		case errors.ErrorTypeInternal:
			if pe.Code == errors.ErrCodeSessionClosed {
				status = http.StatusServiceUnavailable
			}
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", "path", r.URL.Path)
	}

	message := err.Error()
	if pe != nil {
		message = pe.Message
	}
	s.writeJSON(w, status, map[string]string{"error": message, "code": code})
}
