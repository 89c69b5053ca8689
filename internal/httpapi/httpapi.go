package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"caixapos/backend/internal/domain"
	"caixapos/backend/internal/metrics"
	"caixapos/backend/internal/service"
	"caixapos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	metrics       *metrics.Metrics
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, m *metrics.Metrics, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		metrics:       m,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
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
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.withMiddleware)
	r.Use(a.observe)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(writeMethodNotAllowed)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth("cashier", "admin"))

			r.Get("/products", a.handleListProducts)

			r.Post("/sales", a.handleCommitSale)
			r.Get("/sales", a.handleListSales)
			r.Get("/sales/daily-summary", a.handleDailySummary)
			r.Post("/sales/hold", a.handleHoldSale)
			r.Get("/sales/hold/{holdID}", a.handleRetrieveHold)
			r.Delete("/sales/hold/{holdID}", a.handleDiscardHold)
			r.Get("/sales/{saleID}", a.handleGetSale)
			r.Get("/sales/{saleID}/receipt", a.handleReceipt)
			r.Post("/sales/{saleID}/cancel", a.handleCancelSale)

			r.Get("/stock/movements", a.handleListStockMovements)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth("admin"))

			r.Post("/products", a.handleCreateProduct)
			r.Post("/stock/movements", a.handleRecordStockMovement)
			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/users/cashiers", a.handleListCashiers)
			r.Post("/users/cashiers", a.handleCreateCashier)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

// actorUserID returns the app_users id of the token holder. A user_id sent in
// the request body is never trusted.
func actorUserID(r *http.Request) *int64 {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok || actor.ID <= 0 {
		return nil
	}
	id := actor.ID
	return &id
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
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleCommitSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validateSaleRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.UserID = actorUserID(r)

	result, err := a.service.CommitSale(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.SaleFilter{
		Status: domain.SaleStatus(strings.TrimSpace(query.Get("status"))),
		Page:   parsePositiveLimit(query.Get("page"), 1, 0),
		Limit:  parsePositiveLimit(query.Get("limit"), 20, 100),
	}

	var err error
	if filter.StartDate, err = parseDateParam(query.Get("start_date"), false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.EndDate, err = parseDateParam(query.Get("end_date"), true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.DailySummary(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := saleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	detail, err := a.service.GetSale(r.Context(), saleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	saleID, err := saleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := a.service.Receipt(r.Context(), saleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(receiptToPrintableHTML(receipt)))
}

// handleCancelSale lets admins cancel directly; cashiers must present the
// manager PIN.
func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	saleID, err := saleIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req domain.CancelSaleRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	actor, _ := service.ActorFromContext(r.Context())
	if actor.Role != "admin" {
		if !a.pinLimiter.Allow("pin:cancel:" + clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
			writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
			return
		}
	}

	sale, err := a.service.CancelSale(r.Context(), saleID, req.Reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleHoldSale(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	held, err := a.service.HoldSale(r.Context(), payload)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"hold": held})
}

func (a *API) handleRetrieveHold(w http.ResponseWriter, r *http.Request) {
	held, err := a.service.RetrieveHold(r.Context(), chi.URLParam(r, "holdID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hold": held})
}

func (a *API) handleDiscardHold(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DiscardHold(r.Context(), chi.URLParam(r, "holdID")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListStockMovements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.StockMovementFilter{
		Type:  domain.MovementType(strings.TrimSpace(query.Get("type"))),
		Page:  parsePositiveLimit(query.Get("page"), 1, 0),
		Limit: parsePositiveLimit(query.Get("limit"), 20, 100),
	}
	if raw := strings.TrimSpace(query.Get("product_id")); raw != "" {
		productID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || productID < 1 {
			writeError(w, http.StatusBadRequest, errors.New("product_id must be a positive integer"))
			return
		}
		filter.ProductID = &productID
	}

	resp, err := a.service.ListStockMovements(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRecordStockMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.StockMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.UserID = actorUserID(r)

	movement, err := a.service.RecordStockMovement(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// observe logs each request and records it under its route pattern so that
// path parameters do not explode label cardinality.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(startedAt)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.metrics.ObserveRequest(route, strconv.Itoa(status), float64(elapsed.Microseconds())/1000)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, status, elapsed)
	})
}

func validateSaleRequest(req domain.CreateSaleRequest) error {
	if len(req.Items) == 0 {
		return errors.New("sale must contain at least one item")
	}
	if !req.PaymentMethod.Valid() {
		return fmt.Errorf("unsupported payment method %q", req.PaymentMethod)
	}
	if req.DiscountAmount.IsNegative() {
		return errors.New("discount_amount must not be negative")
	}
	if req.CashReceived != nil && req.CashReceived.IsNegative() {
		return errors.New("cash_received must not be negative")
	}
	for i, line := range req.Items {
		if !line.Quantity.IsPositive() {
			return fmt.Errorf("items[%d]: quantity must be positive", i)
		}
		if line.UnitPrice.IsNegative() {
			return fmt.Errorf("items[%d]: unit_price must not be negative", i)
		}
		if line.DiscountAmount.IsNegative() || line.DiscountPercent.IsNegative() || line.DiscountPercent.GreaterThan(hundred) {
			return fmt.Errorf("items[%d]: discount out of range", i)
		}
		if line.TaxRate != nil && line.TaxRate.IsNegative() {
			return fmt.Errorf("items[%d]: tax_rate must not be negative", i)
		}
		if line.ProductID != nil && *line.ProductID < 1 {
			return fmt.Errorf("items[%d]: product_id must be positive", i)
		}
	}
	return nil
}

func saleIDParam(r *http.Request) (int64, error) {
	saleID, err := strconv.ParseInt(chi.URLParam(r, "saleID"), 10, 64)
	if err != nil || saleID < 1 {
		return 0, errors.New("sale id must be a positive integer")
	}
	return saleID, nil
}

// parseDateParam reads YYYY-MM-DD. An end date is moved to the last instant of
// its day so the range stays inclusive.
func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
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

func writeMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeStoreError maps storage and service sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInsufficientStock):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies are masked; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
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
