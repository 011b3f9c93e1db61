package handler

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"dice-game-bot/internal/metrics"
	"dice-game-bot/internal/model"
	"dice-game-bot/internal/service"
)

//go:embed static/dice_game.html
var gamePage []byte

const (
	healthTimeout = 2 * time.Second
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	errMissingID = errors.New("missing identifier")
	errInvalidID = errors.New("invalid identifier")
)

// RoundPlayer plays one round for an account.
type RoundPlayer interface {
	PlayRound(ctx context.Context, accountID int64) (*service.RoundResult, error)
}

// Resolver maps an inbound identifier to an account id.
type Resolver interface {
	Resolve(ctx context.Context, id service.Identifier) (int64, error)
}

// HistoryReader reads and exports round history.
type HistoryReader interface {
	List(ctx context.Context, accountID int64, limit int) ([]*model.HistoryEntry, error)
	ExportXLSX(ctx context.Context, accountID int64, w io.Writer) error
}

// PlayableFinder finds the account the landing page sends players to.
type PlayableFinder interface {
	FirstPlayable(ctx context.Context) (*model.Account, error)
}

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// WebDeps holds the collaborators of the web handler.
// Gatherer, Metrics and Health may be nil.
type WebDeps struct {
	Rounds   RoundPlayer
	Identity Resolver
	History  HistoryReader
	Accounts PlayableFinder
	Health   HealthChecker
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics

	// RateLimit is requests per second per client IP on /api; zero disables it.
	RateLimit    float64
	RateBurst    int
	ExposeErrors bool
}

// WebHandler serves the dice game page and its JSON API.
type WebHandler struct {
	deps    WebDeps
	limiter *IPRateLimiter
}

// NewWebHandler creates a new WebHandler.
func NewWebHandler(deps WebDeps) *WebHandler {
	h := &WebHandler{deps: deps}
	if deps.RateLimit > 0 {
		burst := max(deps.RateBurst, 1)
		h.limiter = NewIPRateLimiter(rate.Limit(deps.RateLimit), burst)
	}
	return h
}

// Routes builds the router.
func (h *WebHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(h.logAccess))
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleIndex)
	r.Get("/dice_game", h.handleGamePage)
	r.Get("/healthz", h.handleHealth)
	if h.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Get("/play_game", h.handlePlayGame)
		r.Get("/history", h.handleHistory)
		r.Get("/history/export", h.handleHistoryExport)
	})

	return r
}

func (h *WebHandler) logAccess(r *http.Request, status, size int, duration time.Duration) {
	route := "unmatched"
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}
	h.deps.Metrics.ObserveHTTP(route, strconv.Itoa(status))

	hlog.FromRequest(r).Info().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("route", route).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("HTTP request")
}

// handleIndex redirects to the game page of the oldest playable account.
func (h *WebHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	acc, err := h.deps.Accounts.FirstPlayable(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, msgNoPlayableAccount, http.StatusBadRequest)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to find playable account")
		http.Error(w, msgServerError, http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/dice_game?user_id=%d", acc.AccountID), http.StatusFound)
}

func (h *WebHandler) handleGamePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(gamePage)
}

func (h *WebHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.deps.Health.HealthCheck(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type playResponse struct {
	UserScore   int    `json:"user_score"`
	BotScore    int    `json:"bot_score"`
	Message     string `json:"message"`
	TotalPoints int64  `json:"total_points"`
}

// handlePlayGame serves GET /api/play_game?user_id=<int> or ?telegram_id=<int>.
func (h *WebHandler) handlePlayGame(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.resolve(w, r)
	if !ok {
		return
	}

	res, err := h.deps.Rounds.PlayRound(r.Context(), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, playResponse{
		UserScore:   res.UserScore,
		BotScore:    res.BotScore,
		Message:     res.Message(),
		TotalPoints: res.TotalPoints,
	})
}

type historyItem struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UserScore    int       `json:"user_score"`
	BotScore     int       `json:"bot_score"`
	Result       string    `json:"result"`
	PointsChange int64     `json:"points_change"`
}

type historyResponse struct {
	AccountID int64         `json:"account_id"`
	Entries   []historyItem `json:"entries"`
}

func (h *WebHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit 参数无效"})
			return
		}
		limit = v
	}

	accountID, ok := h.resolve(w, r)
	if !ok {
		return
	}

	entries, err := h.deps.History.List(r.Context(), accountID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := historyResponse{AccountID: accountID, Entries: make([]historyItem, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, historyItem{
			ID:           e.ID,
			CreatedAt:    e.CreatedAt,
			UserScore:    e.UserScore,
			BotScore:     e.BotScore,
			Result:       string(e.Result),
			PointsChange: e.PointsChange,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *WebHandler) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.deps.History.ExportXLSX(r.Context(), accountID, &buf); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="history_%d.xlsx"`, accountID))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

// resolve parses the identifier and maps it to an account id, writing the
// error response itself when that fails.
func (h *WebHandler) resolve(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseIdentifier(r)
	if err != nil {
		msg := msgInvalidID
		if errors.Is(err, errMissingID) {
			msg = msgMissingID
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return 0, false
	}

	accountID, err := h.deps.Identity.Resolve(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return 0, false
	}
	return accountID, true
}

// parseIdentifier reads user_id, or telegram_id when user_id is absent.
func parseIdentifier(r *http.Request) (service.Identifier, error) {
	q := r.URL.Query()

	if raw := q.Get("user_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return service.Identifier{}, errInvalidID
		}
		return service.AccountIdentifier(v), nil
	}
	if raw := q.Get("telegram_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return service.Identifier{}, errInvalidID
		}
		return service.ExternalIdentifier(v), nil
	}
	return service.Identifier{}, errMissingID
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps a service error to a status code:
// unknown identifiers are 400, game-state outcomes 200 and the rest 500.
func (h *WebHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotRegistered),
		errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrUnbound):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: outcomeMessage(err)})
	case service.IsEligibilityOutcome(err):
		writeJSON(w, http.StatusOK, errorResponse{Error: outcomeMessage(err)})
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		resp := errorResponse{Error: msgServerError}
		if h.deps.ExposeErrors {
			resp.Detail = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}
