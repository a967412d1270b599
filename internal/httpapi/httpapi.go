package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	metrics       *metrics.Metrics
	log           zerolog.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

type Option func(*API)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *API) {
		a.log = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	a := &API{
		service:       svc,
		auth:          auth,
		log:           zerolog.Nop(),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With().Str("component", "http").Logger()
	return a
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

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
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
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", a.requireAuth(a.handleLogout))
	mux.HandleFunc("POST /api/v1/auth/password", a.requireAuth(a.handlePasswordChange))

	mux.HandleFunc("GET /api/v1/brands", a.requireAuth(a.handleListBrands))
	mux.HandleFunc("POST /api/v1/brands", a.requireAuth(a.handleCreateBrand))
	mux.HandleFunc("GET /api/v1/categories", a.requireAuth(a.handleCategoryTree))
	mux.HandleFunc("POST /api/v1/categories", a.requireAuth(a.handleCreateCategory))
	mux.HandleFunc("POST /api/v1/styles", a.requireAuth(a.handleCreateStyle))

	mux.HandleFunc("GET /api/v1/skus", a.requireAuth(a.handleListSKUs))
	mux.HandleFunc("POST /api/v1/skus", a.requireAuth(a.handleCreateSKU))
	mux.HandleFunc("GET /api/v1/skus/{id}", a.requireAuth(a.handleGetSKU))
	mux.HandleFunc("PATCH /api/v1/skus/{id}/pricing", a.requireAuth(a.handleSKUPricing))
	mux.HandleFunc("GET /api/v1/skus/{id}/movements", a.requireAuth(a.handleSKUMovements))
	mux.HandleFunc("GET /api/v1/skus/{id}/reconcile", a.requireAuth(a.handleReconcileSKU))

	mux.HandleFunc("POST /api/v1/stock/movements", a.requireAuth(a.handleRecordMovement))
	mux.HandleFunc("POST /api/v1/stock/adjustments", a.requireAuth(a.handleAdjustStock))
	mux.HandleFunc("GET /api/v1/stock/reconcile", a.requireAuth(a.handleReconcileAll))
	mux.HandleFunc("GET /api/v1/reports/low-stock", a.requireAuth(a.handleLowStock))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleFinalizeSale))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale))
	mux.HandleFunc("POST /api/v1/sales/{id}/void", a.requireAuth(a.handleVoidSale))
	mux.HandleFunc("POST /api/v1/returns", a.requireAuth(a.handleProcessReturn))

	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser))
	mux.HandleFunc("POST /api/v1/users/{username}/unlock", a.requireAuth(a.handleUnlockUser))
	mux.HandleFunc("POST /api/v1/users/{username}/active", a.requireAuth(a.handleSetUserActive))
	mux.HandleFunc("GET /api/v1/roles", a.requireAuth(a.handleListRoles))
	mux.HandleFunc("PATCH /api/v1/roles/{name}", a.requireAuth(a.handleUpdateRole))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs))
	mux.HandleFunc("GET /api/v1/settings", a.requireAuth(a.handleGetSettings))
	mux.HandleFunc("PATCH /api/v1/settings", a.requireAuth(a.handleUpdateSettings))

	return a.withMiddleware(mux)
}

type sessionContextKey struct{}

func sessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(Session)
	return session, ok
}

// requireAuth verifies the bearer token and resolves the live account behind
// it. Capability checks happen in the service.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		session, err := a.auth.Parse(r.Context(), token)
		if errors.Is(err, errInvalidToken) {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}

		actor, err := a.service.ResolveActor(r.Context(), session.AccountID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = context.WithValue(ctx, sessionContextKey{}, session)
		next(w, r.WithContext(ctx))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := a.service.Login(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	token, expiresAt, err := a.auth.Issue(account)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		Username:    account.Username,
		FullName:    account.FullName,
		Role:        account.Role,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Logout(r.Context()); err != nil {
		a.writeServiceError(w, err)
		return
	}
	if session, ok := sessionFromContext(r.Context()); ok {
		if err := a.auth.Revoke(r.Context(), session); err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	var req domain.PasswordChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.ChangePassword(r.Context(), req); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := a.service.ListBrands(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"brands": brands})
}

func (a *API) handleCreateBrand(w http.ResponseWriter, r *http.Request) {
	var req domain.BrandCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	brand, err := a.service.CreateBrand(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"brand": brand})
}

func (a *API) handleCategoryTree(w http.ResponseWriter, r *http.Request) {
	tree, err := a.service.CategoryTree(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": tree.Nodes()})
}

func (a *API) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req domain.CategoryCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	category, err := a.service.CreateCategory(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"category": category})
}

func (a *API) handleCreateStyle(w http.ResponseWriter, r *http.Request) {
	var req domain.StyleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	style, err := a.service.CreateStyle(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"style": style})
}

func (a *API) handleListSKUs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.SKUFilter{
		StyleID:    strings.TrimSpace(query.Get("style_id")),
		ActiveOnly: query.Get("active") == "true",
	}
	skus, err := a.service.ListSKUs(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skus": skus})
}

func (a *API) handleCreateSKU(w http.ResponseWriter, r *http.Request) {
	var req domain.SKUCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sku, err := a.service.CreateSKU(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sku": sku})
}

func (a *API) handleGetSKU(w http.ResponseWriter, r *http.Request) {
	sku, err := a.service.GetSKU(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	rules, err := a.service.EffectiveRules(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sku":           sku,
		"profit_margin": sku.ProfitMargin(),
		"low_stock":     domain.IsLowStock(sku, rules.LowStockThreshold),
	})
}

func (a *API) handleSKUPricing(w http.ResponseWriter, r *http.Request) {
	var req domain.SKUPricingRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sku, err := a.service.UpdateSKUPricing(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sku": sku})
}

func (a *API) handleSKUMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := a.service.ListMovements(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleReconcileSKU(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.Reconcile(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reconciliation": result})
}

func (a *API) handleReconcileAll(w http.ResponseWriter, r *http.Request) {
	results, err := a.service.ReconcileAll(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	inconsistent := 0
	for _, result := range results {
		if !result.Consistent {
			inconsistent++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reconciliations": results, "inconsistent": inconsistent})
}

func (a *API) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	movement, err := a.service.RecordMovement(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.AdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	adjustment, err := a.service.AdjustStockBatch(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"adjustment": adjustment})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.LowStockReport(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) handleFinalizeSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.FinalizeSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.VoidSale(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	ret, err := a.service.ProcessReturn(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"return": ret})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.service.ListAccounts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": accounts})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := a.service.CreateAccount(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": account})
}

func (a *API) handleUnlockUser(w http.ResponseWriter, r *http.Request) {
	account, err := a.service.UnlockAccount(r.Context(), r.PathValue("username"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": account})
}

func (a *API) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := a.service.SetAccountActive(r.Context(), r.PathValue("username"), req.Active)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": account})
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.service.ListRoles(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req domain.RoleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	role, err := a.service.UpdateRoleCapabilities(r.Context(), domain.RoleName(r.PathValue("name")), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.service.GetSettings(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := a.service.UpdateSettings(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.AuditFilter{
		Action:     domain.AuditAction(strings.TrimSpace(query.Get("action"))),
		EntityType: strings.TrimSpace(query.Get("entity_type")),
		EntityID:   strings.TrimSpace(query.Get("entity_id")),
		Limit:      parsePositiveLimit(query.Get("limit"), 100, 1000),
	}
	var err error
	if filter.From, err = parseTimeParam(query.Get("from")); err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("from must be an RFC3339 timestamp"))
		return
	}
	if filter.To, err = parseTimeParam(query.Get("to")); err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("to must be an RFC3339 timestamp"))
		return
	}

	logs, err := a.service.ListAuditLogs(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		r = r.WithContext(service.WithRequestMeta(r.Context(), clientKey(r), r.UserAgent()))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)

		a.metrics.Request(r.Method, strconv.Itoa(rec.status))
		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(startedAt)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case domain.IsBusinessRule(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log only.
	msg := err.Error()
	if status >= 500 {
		a.log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
