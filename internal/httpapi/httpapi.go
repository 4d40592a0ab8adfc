package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/export"
	"sellerledger/backend/internal/metrics"
	"sellerledger/backend/internal/service"
	"sellerledger/backend/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Options struct {
	AllowedOrigin      string
	LoginRatePerMinute int
	Metrics            *metrics.Metrics
	Logger             *zap.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *clientLimiter
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LoginRatePerMinute < 1 {
		opts.LoginRatePerMinute = 5
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newClientLimiter(opts.LoginRatePerMinute, time.Minute),
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}
}

// clientLimiter keeps one token bucket per client address. A bucket idle for
// a full window has refilled completely, so such entries are dropped.
type clientLimiter struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	clients   map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(max int, window time.Duration) *clientLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &clientLimiter{
		every:   rate.Every(window / time.Duration(max)),
		burst:   max,
		idle:    window,
		now:     time.Now,
		clients: make(map[string]*clientBucket),
	}
}

func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	bucket, ok := l.clients[key]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.clients[key] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

// sweep runs at most once per idle window. Callers hold mu.
func (l *clientLimiter) sweep(now time.Time) {
	for key, bucket := range l.clients {
		if now.Sub(bucket.lastSeen) >= l.idle {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
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

const (
	admin  = domain.RoleAdmin
	seller = domain.RoleSeller
	rail   = domain.RoleRail
	system = domain.RoleSystem
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/tokens", a.requireAuth(a.handleIssueToken, admin))

	mux.HandleFunc("GET /api/v1/commission-tiers", a.requireAuth(a.handleListTiers, admin, seller))
	mux.HandleFunc("POST /api/v1/commission-tiers", a.requireAuth(a.handleCreateTier, admin))
	mux.HandleFunc("GET /api/v1/commission-tiers/resolve", a.requireAuth(a.handleResolveTier, admin))
	mux.HandleFunc("GET /api/v1/commission-tiers/{id}", a.requireAuth(a.handleGetTier, admin, seller))
	mux.HandleFunc("PUT /api/v1/commission-tiers/{id}", a.requireAuth(a.handleUpdateTier, admin))
	mux.HandleFunc("DELETE /api/v1/commission-tiers/{id}", a.requireAuth(a.handleDeleteTier, admin))

	mux.HandleFunc("POST /api/v1/events/order-settled", a.requireAuth(a.handleOrderSettled, admin, system))

	mux.HandleFunc("GET /api/v1/commissions", a.requireAuth(a.handleListCommissions, admin, seller))
	mux.HandleFunc("POST /api/v1/commissions/bulk-approve", a.requireAuth(a.handleBulkApprove, admin, system))
	mux.HandleFunc("GET /api/v1/commissions/{id}", a.requireAuth(a.handleGetCommission, admin, seller))
	mux.HandleFunc("POST /api/v1/commissions/{id}/approve", a.requireAuth(a.handleApprove, admin, system))
	mux.HandleFunc("POST /api/v1/commissions/{id}/cancel", a.requireAuth(a.handleCancel, admin))

	mux.HandleFunc("GET /api/v1/payouts", a.requireAuth(a.handleListPayouts, admin, seller, rail))
	mux.HandleFunc("POST /api/v1/payouts", a.requireAuth(a.handleRequestPayout, admin, seller))
	mux.HandleFunc("GET /api/v1/payouts/{id}", a.requireAuth(a.handleGetPayout, admin, seller, rail))
	mux.HandleFunc("POST /api/v1/payouts/{id}/process", a.requireAuth(a.handleProcessPayout, admin, rail))
	mux.HandleFunc("POST /api/v1/payouts/{id}/complete", a.requireAuth(a.handleCompletePayout, admin, rail))
	mux.HandleFunc("POST /api/v1/payouts/{id}/fail", a.requireAuth(a.handleFailPayout, admin, rail))

	mux.HandleFunc("PUT /api/v1/sellers/{id}", a.requireAuth(a.handleUpsertSeller, admin, system))
	mux.HandleFunc("GET /api/v1/sellers/{id}/settings", a.requireAuth(a.handleGetSettings, admin, seller))
	mux.HandleFunc("PUT /api/v1/sellers/{id}/settings", a.requireAuth(a.handleUpdateSettings, admin, seller))
	mux.HandleFunc("GET /api/v1/sellers/{id}/balance", a.requireAuth(a.handleBalance, admin, seller))
	mux.HandleFunc("GET /api/v1/sellers/{id}/reconciliation", a.requireAuth(a.handleReconcile, admin))
	mux.HandleFunc("GET /api/v1/sellers/{id}/reports/monthly", a.requireAuth(a.handleMonthlyReport, admin, seller))

	mux.HandleFunc("GET /api/v1/reports/commissions", a.requireAuth(a.handleCommissionStats, admin, seller))
	mux.HandleFunc("GET /api/v1/reports/sellers", a.requireAuth(a.handleSellerTotals, admin))
	mux.HandleFunc("GET /api/v1/reports/payouts", a.requireAuth(a.handlePayoutStats, admin, seller))

	var h http.Handler = mux
	if a.metrics != nil {
		h = a.metrics.Middleware(mux)
	}
	return a.withMiddleware(h)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Issue(req.Subject, req.Role, time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	a.logger.Info("token issued", zap.String("by", actor.Subject), zap.String("subject", req.Subject), zap.String("role", req.Role))
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListTiers(w http.ResponseWriter, r *http.Request) {
	includeInactive := cast.ToBool(r.URL.Query().Get("include_inactive"))
	tiers, err := a.service.ListTiers(r.Context(), includeInactive)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

func (a *API) handleCreateTier(w http.ResponseWriter, r *http.Request) {
	var req domain.TierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := a.service.CreateTier(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tier": t})
}

func (a *API) handleResolveTier(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sales, err := decimal.NewFromString(strings.TrimSpace(q.Get("total_sales")))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("total_sales must be a decimal"))
		return
	}
	t, ok, err := a.service.ResolveTier(r.Context(), q.Get("seller_id"), sales)
	if err != nil {
		a.fail(w, err)
		return
	}
	if !ok {
		cfg := a.service.Config()
		writeJSON(w, http.StatusOK, map[string]any{
			"tier":              nil,
			"commission_rate":   cfg.DefaultCommissionRate,
			"platform_fee_rate": cfg.DefaultPlatformFeeRate,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tier":              t,
		"commission_rate":   t.CommissionRate,
		"platform_fee_rate": t.PlatformFeeRate,
	})
}

func (a *API) handleGetTier(w http.ResponseWriter, r *http.Request) {
	t, err := a.service.GetTier(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": t})
}

func (a *API) handleUpdateTier(w http.ResponseWriter, r *http.Request) {
	var req domain.TierUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := a.service.UpdateTier(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": t})
}

func (a *API) handleDeleteTier(w http.ResponseWriter, r *http.Request) {
	t, err := a.service.DeleteTier(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": t})
}

func (a *API) handleOrderSettled(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderSettledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.RecordCommission(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleListCommissions(w http.ResponseWriter, r *http.Request) {
	filter, err := commissionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	commissions, err := a.service.ListCommissions(r.Context(), filter)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commissions": commissions})
}

func (a *API) handleGetCommission(w http.ResponseWriter, r *http.Request) {
	c, err := a.service.GetCommission(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commission": c})
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	c, err := a.service.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commission": c})
}

type bulkApproveRequest struct {
	CommissionIDs []string `json:"commission_ids"`
}

func (a *API) handleBulkApprove(w http.ResponseWriter, r *http.Request) {
	var req bulkApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	approved, err := a.service.ApproveMany(r.Context(), req.CommissionIDs)
	resp := map[string]any{"approved": approved}
	if err != nil {
		resp["errors"] = strings.Split(err.Error(), "\n")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelCommissionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := a.service.Cancel(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commission": c})
}

func (a *API) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payouts, err := a.service.ListPayouts(r.Context(), domain.PayoutFilter{
		SellerID: strings.TrimSpace(q.Get("seller_id")),
		Status:   strings.TrimSpace(q.Get("status")),
		Limit:    parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}

func (a *API) handleRequestPayout(w http.ResponseWriter, r *http.Request) {
	var req domain.PayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if actor, ok := service.ActorFromContext(r.Context()); ok && actor.Role == domain.RoleSeller && req.SellerID == "" {
		req.SellerID = actor.Subject
	}
	p, err := a.service.RequestPayout(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payout": p})
}

func (a *API) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	p, err := a.service.GetPayout(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payout": p})
}

func (a *API) handleProcessPayout(w http.ResponseWriter, r *http.Request) {
	var req domain.PayoutProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := a.service.Process(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payout": p})
}

func (a *API) handleCompletePayout(w http.ResponseWriter, r *http.Request) {
	p, err := a.service.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payout": p})
}

func (a *API) handleFailPayout(w http.ResponseWriter, r *http.Request) {
	var req domain.PayoutFailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := a.service.Fail(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payout": p})
}

func (a *API) handleUpsertSeller(w http.ResponseWriter, r *http.Request) {
	var req domain.SellerUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := a.service.UpsertSeller(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seller": s})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := a.service.GetSettings(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": s})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := a.service.UpdateSettings(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": s})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.BalanceSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := a.service.Reconcile(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year := time.Now().UTC().Year()
	if raw := strings.TrimSpace(q.Get("year")); raw != "" {
		parsed, err := cast.ToIntE(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("year must be an integer"))
			return
		}
		year = parsed
	}

	sellerID := r.PathValue("id")
	report, err := a.service.MonthlyBreakdown(r.Context(), sellerID, year)
	if err != nil {
		a.fail(w, err)
		return
	}

	if strings.EqualFold(q.Get("format"), "xlsx") {
		data, err := export.MonthlyBreakdownXLSX(report)
		if err != nil {
			a.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"monthly-%s-%d.xlsx\"", sellerID, year))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCommissionStats(w http.ResponseWriter, r *http.Request) {
	filter, err := commissionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := a.service.CommissionStats(r.Context(), filter)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleSellerTotals(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	totals, err := a.service.SellerTotals(r.Context(), from, to)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sellers": totals})
}

func (a *API) handlePayoutStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.PayoutStats(r.Context(), strings.TrimSpace(r.URL.Query().Get("seller_id")))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"by_status": stats})
}

func commissionFilter(r *http.Request) (domain.CommissionFilter, error) {
	q := r.URL.Query()
	from, to, err := dateRange(r)
	if err != nil {
		return domain.CommissionFilter{}, err
	}
	return domain.CommissionFilter{
		SellerID: strings.TrimSpace(q.Get("seller_id")),
		Status:   strings.TrimSpace(q.Get("status")),
		From:     from,
		To:       to,
		Limit:    parsePositiveLimit(q.Get("limit"), 100, 500),
	}, nil
}

// dateRange reads from/to as RFC3339 timestamps or plain dates. A plain "to"
// date is inclusive of the whole day.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	var from, to time.Time
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := cast.ToTimeE(raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %q", raw)
		}
		from = t.UTC()
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := cast.ToTimeE(raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %q", raw)
		}
		to = t.UTC()
		if len(raw) == len("2006-01-02") {
			to = to.AddDate(0, 0, 1)
		}
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(startedAt)))
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

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := cast.ToIntE(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps ledger error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrBusinessRule), errors.Is(err, store.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("internal error", zap.Error(err))
		writeJSON(w, status, map[string]any{"error": "internal server error"})
		return
	}
	body := map[string]any{"error": err.Error()}
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		body["error"] = svcErr.Message
		body["code"] = svcErr.Code
		body["retryable"] = svcErr.Retryable
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
