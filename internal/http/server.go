package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"spendlog/internal/controller"
	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/storage"
	"spendlog/internal/view"
	appweb "spendlog/web"
)

// ExpenseController is the slice of the state controller the handlers use.
type ExpenseController interface {
	Load(ctx context.Context) error
	Add(ctx context.Context, d core.Draft) (core.Expense, error)
	Update(ctx context.Context, id core.ExpenseID, p core.Patch) (core.Expense, bool, error)
	Remove(ctx context.Context, id core.ExpenseID) error
	RemoveSelected(ctx context.Context) (int, error)
	SetBudget(ctx context.Context, raw string) error
	Sort(key core.SortKey) error
	ToggleSelection(id core.ExpenseID, selected bool) bool
	State() controller.State
	Ready() bool
}

// ViewSource provides the latest rendered model.
type ViewSource interface {
	Model() view.Model
	Version() uint64
}

// Subscriptions serves the websocket refresh channel.
type Subscriptions interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request, version uint64)
	Clients() int
}

// ActivityLog reads back the journal of controller operations.
type ActivityLog interface {
	RecentActivity(ctx context.Context, limit int) ([]storage.Activity, error)
}

type Server struct {
	http.Server
	templates   *template.Template
	ctrl        ExpenseController
	views       ViewSource
	subs        Subscriptions
	activity    ActivityLog
	rateLimiter *rateLimiter
	security    *securityMetrics
	logger      *log.Logger
	started     time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, ctrl ExpenseController, views ViewSource, subs Subscriptions, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	mux := http.NewServeMux()

	s := &Server{
		ctrl:        ctrl,
		views:       views,
		subs:        subs,
		rateLimiter: newRateLimiter(defaultRequestsPerMinute),
		security:    &securityMetrics{},
		logger:      logger.WithComponent(log.ComponentHTTP),
		started:     time.Now(),
	}

	// Parse embedded templates at startup.
	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		s.logger.Warn("Failed parsing templates", log.FieldError, err)
	}
	s.templates = t

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			static.ServeHTTP(w, r)
		}))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /activity", s.handleActivity)

	// UI partials
	mux.HandleFunc("GET /ui/table", s.handleTable)
	mux.HandleFunc("GET /ui/summary", s.handleSummary)
	mux.HandleFunc("GET /chart.svg", s.handleChart)

	// Mutations
	mux.HandleFunc("POST /expenses", s.handleCreateExpense)
	mux.HandleFunc("POST /expenses/delete", s.handleDeleteSelected)
	mux.HandleFunc("POST /expenses/{id}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /expenses/{id}", s.handleDeleteExpense)
	mux.HandleFunc("POST /selection", s.handleSelection)
	mux.HandleFunc("POST /budget", s.handleBudget)
	mux.HandleFunc("POST /sort", s.handleSort)
	mux.HandleFunc("POST /reload", s.handleReload)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           log.RequestMiddleware(s.logger, requestID)(s.withSecurityHeaders(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// WithActivity enables GET /activity and the journal readiness check.
func (s *Server) WithActivity(a ActivityLog) *Server {
	s.activity = a
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// ListenAndServe runs the server until Shutdown; a clean shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" && len(id) <= 64 {
		return sanitizeInput(id)
	}
	return generateRequestID()
}

// withSecurityHeaders adds security headers, rate limiting, and request logging to responses
func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := log.FromContext(r.Context())
		clientIP := extractClientIP(r)

		if detectSuspiciousRequest(r, s.security) {
			logger.WarnContext(r.Context(), "Suspicious request",
				log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, clientIP).ToSlice()...)
		}

		// Rate limit mutations only
		if r.Method != http.MethodGet && r.Method != http.MethodHead && !s.rateLimiter.allow(clientIP, s.security) {
			logger.WarnContext(r.Context(), "Rate limit exceeded", log.FieldClientIP, clientIP, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		setSecurityHeaders(w.Header())

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		fields := log.NewFields().
			WithHTTPRequest(r.Method, r.URL.Path, clientIP).
			WithHTTPResponse(rw.statusCode, time.Since(start).Milliseconds())
		switch {
		case rw.statusCode >= 500:
			logger.ErrorContext(r.Context(), "HTTP request completed", fields.ToSlice()...)
		case rw.statusCode >= 400:
			logger.WarnContext(r.Context(), "HTTP request completed", fields.ToSlice()...)
		default:
			logger.DebugContext(r.Context(), "HTTP request completed", fields.ToSlice()...)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
