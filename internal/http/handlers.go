package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"spendlog/internal/log"
	"spendlog/internal/storage"
	"spendlog/internal/view"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports ready once the expense list has been loaded.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if s.ctrl.Ready() {
		checks["expenses"] = "loaded"
	} else {
		checks["expenses"] = "not loaded"
		if m := s.views.Model(); m.LoadError != "" {
			checks["expenses"] = "failed: " + m.LoadError
		}
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	if s.activity != nil {
		if _, err := s.activity.RecentActivity(r.Context(), 1); err != nil {
			checks["journal"] = "failed: " + err.Error()
		} else {
			checks["journal"] = "ok"
		}
	}

	checks["controller"] = s.ctrl.State().String()
	if s.subs != nil {
		checks["websocket_clients"] = s.subs.Clients()
	}
	checks["rate_limiter"] = map[string]interface{}{
		"active_clients": s.rateLimiter.ActiveClients(),
		"security":       s.security.snapshot(),
	}

	writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// handleActivity lists the newest journal entries. ?limit= bounds the
// result; failures counts the failed operations among them.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		http.Error(w, "activity journal disabled", http.StatusNotFound)
		return
	}
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxActivityLimit)
	}

	entries, err := s.activity.RecentActivity(r.Context(), limit)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Reading activity failed", log.FieldError, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "activity unavailable"})
		return
	}
	if entries == nil {
		entries = []storage.Activity{}
	}
	failures := 0
	for _, e := range entries {
		if !e.Success {
			failures++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":  entries,
		"count":    len(entries),
		"failures": failures,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, "index.html", http.StatusOK)
}

// handleTable renders the expense table partial.
func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, "table", http.StatusOK)
}

// handleSummary renders totals, remaining budget and the chart legend.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, "summary", http.StatusOK)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := view.WriteChart(&buf, s.views.Model().Slices); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Chart rendering failed", log.FieldError, err)
		http.Error(w, "chart unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.subs == nil {
		http.Error(w, "live updates disabled", http.StatusNotFound)
		return
	}
	s.subs.ServeHTTP(w, r, s.views.Version())
}

// renderPage executes a template into a buffer so a failing template never
// sends a partial response.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, name string, status int) {
	body, err := s.render(r.Context(), name)
	if err != nil {
		http.Error(w, "rendering failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) render(ctx context.Context, name string) ([]byte, error) {
	logger := log.FromContext(ctx)
	if s.templates == nil {
		logger.ErrorContext(ctx, "Templates not loaded", "template", name)
		return nil, errTemplatesMissing
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, s.views.Model()); err != nil {
		logger.ErrorContext(ctx, "Template execution failed", log.FieldError, err, "template", name)
		return nil, err
	}
	return buf.Bytes(), nil
}
