package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"multikasir/backend/internal/domain"
	"multikasir/backend/internal/logger"
	"multikasir/backend/internal/metrics"
	"multikasir/backend/internal/service"
	"multikasir/backend/internal/store"
)

const maxBodyBytes = 1 << 20

var (
	catalogWriters = []string{domain.RoleSuperAdmin, domain.RoleTenantAdmin, domain.RoleStoreManager, domain.RoleInventoryManager}
	saleWriters    = []string{domain.RoleSuperAdmin, domain.RoleTenantAdmin, domain.RoleStoreManager, domain.RoleCashier}
	saleCancellers = []string{domain.RoleSuperAdmin, domain.RoleTenantAdmin, domain.RoleStoreManager}
	userAdmins     = []string{domain.RoleSuperAdmin, domain.RoleTenantAdmin}
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	metrics       *metrics.Metrics
	logger        *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	startedAt     time.Time
}

func New(svc *service.Service, auth *AuthManager, m *metrics.Metrics, log *zap.Logger, allowedOrigin string) *API {
	if log == nil {
		log = zap.NewNop()
	}
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return &API{
		service:       svc,
		auth:          auth,
		metrics:       m,
		logger:        log,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		startedAt:     time.Now(),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.recoverer)
	r.Use(a.metrics.Middleware)
	r.Use(a.requestLogger)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
			r.Post("/refresh-token", a.handleRefresh)
			r.Post("/logout", a.requireAuth(a.handleLogout))
			r.Get("/me", a.requireAuth(a.handleMe))
		})

		r.Route("/users", func(r chi.Router) {
			r.Post("/", a.requireAuth(a.handleCreateUser, userAdmins...))
			r.Get("/", a.requireAuth(a.handleListUsers))
			r.Get("/{id}", a.requireAuth(a.handleGetUser))
			r.Patch("/{id}", a.requireAuth(a.handleUpdateUser, userAdmins...))
			r.Delete("/{id}", a.requireAuth(a.handleDeleteUser, userAdmins...))
		})

		r.Route("/categories", func(r chi.Router) {
			r.Post("/", a.requireAuth(a.handleCreateCategory, catalogWriters...))
			r.Get("/", a.requireAuth(a.handleListCategories))
			r.Get("/tree", a.requireAuth(a.handleCategoryTree))
			r.Get("/{id}", a.requireAuth(a.handleGetCategory))
			r.Patch("/{id}", a.requireAuth(a.handleUpdateCategory, catalogWriters...))
			r.Delete("/{id}", a.requireAuth(a.handleDeleteCategory, catalogWriters...))
			r.Get("/{id}/path", a.requireAuth(a.handleCategoryPath))
			r.Patch("/{id}/move", a.requireAuth(a.handleMoveCategory, catalogWriters...))
		})

		r.Route("/products", func(r chi.Router) {
			r.Post("/", a.requireAuth(a.handleCreateProduct, catalogWriters...))
			r.Get("/", a.requireAuth(a.handleListProducts))
			r.Get("/search", a.requireAuth(a.handleSearchProducts))
			r.Get("/categories", a.requireAuth(a.handleProductCategories))
			r.Get("/{id}", a.requireAuth(a.handleGetProduct))
			r.Patch("/{id}", a.requireAuth(a.handleUpdateProduct, catalogWriters...))
			r.Delete("/{id}", a.requireAuth(a.handleDeleteProduct, catalogWriters...))
			r.Patch("/{id}/stock", a.requireAuth(a.handleAdjustStock, catalogWriters...))
		})

		r.Route("/sales", func(r chi.Router) {
			r.Post("/", a.requireAuth(a.handleCreateSale, saleWriters...))
			r.Get("/", a.requireAuth(a.handleListSales))
			r.Get("/daily-summary", a.requireAuth(a.handleDailySummary))
			r.Get("/{id}", a.requireAuth(a.handleGetSale))
			r.Patch("/{id}/cancel", a.requireAuth(a.handleCancelSale, saleCancellers...))
		})
	})

	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(r.Context(), token)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(a.startedAt).Round(time.Second).Seconds(),
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLogger := a.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLogger)))
		reqLogger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("panic serving request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				writeError(w, http.StatusInternalServerError, errors.New("panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusFromError maps the store sentinels to HTTP codes. Anything unknown is a 500.
func statusFromError(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrInvalidInput),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrCircularReference),
		errors.Is(err, store.ErrHasChildren),
		errors.Is(err, store.ErrAlreadyCancelled),
		errors.Is(err, store.ErrInvalidState):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. 5xx causes are logged, never returned.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	if status >= 500 {
		logger.FromContext(r.Context(), a.logger).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"statusCode": status,
		"message":    msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
