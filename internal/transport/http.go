// Package transport provides HTTP API handlers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/dexkit/internal/dex"
	"github.com/gateway-fm/dexkit/internal/sender"
	"github.com/gateway-fm/dexkit/internal/storage"
	"github.com/gateway-fm/dexkit/internal/wallet"
	"github.com/gateway-fm/dexkit/pkg/types"
)

const (
	maxBodyBytes       = 1 << 16
	defaultHistoryPage = 50
	maxHistoryPage     = 500
)

// DexAPI defines the wallet session the handlers drive.
type DexAPI interface {
	Status() types.Status
	Connect(ctx context.Context) (*types.ConnectResult, error)
	Approve(ctx context.Context, req types.ApproveRequest) (*types.ActionResult, error)
	Buy(ctx context.Context, req types.BuyRequest) (*types.ActionResult, error)
	Sell(ctx context.Context, req types.SellRequest) (*types.ActionResult, error)
	Swap(ctx context.Context, req types.SwapRequest) (*types.ActionResult, error)
	GetTokenBalances(ctx context.Context, tokens []string) ([]types.TokenBalance, error)
	GetPoolInfo(ctx context.Context, pairs []string) ([]types.PoolInfo, error)
	GetPosition(ctx context.Context, tokenA, tokenB string) (*types.Position, error)
	Quote(ctx context.Context, tokenIn, tokenOut, amount string) (*types.Quote, error)
	Log() *dex.DebugLog
}

var _ DexAPI = (*dex.Service)(nil)

// HistoryStore is the read side of the transaction log.
type HistoryStore interface {
	ListTxLogs(ctx context.Context, limit, offset int) (*storage.PaginatedTxLogs, error)
	GetTxLogByHash(ctx context.Context, txHash string) (*storage.TxLogEntry, error)
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
}

// ServerConfig for creating a Server.
type ServerConfig struct {
	API     DexAPI
	History HistoryStore // nil disables the history routes
	Health  HealthChecker
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer           prometheus.Gatherer
	CORSAllowedOrigins string // comma-separated, "*" or empty allows all
	Logger             *slog.Logger
}

// Server handles HTTP requests for the DEX session.
type Server struct {
	api       DexAPI
	history   HistoryStore
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	// CORS configuration
	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		api:       cfg.API,
		history:   cfg.History,
		health:    cfg.Health,
		gatherer:  cfg.Gatherer,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  NewWebSocketServer(cfg.API.Log(), logger),
	}

	origins := strings.TrimSpace(cfg.CORSAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.corsAllowedOrigins = append(s.corsAllowedOrigins, o)
			}
		}
	}
	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/connect", s.corsMiddleware(s.handleConnect))
	mux.HandleFunc("/v1/approve", s.corsMiddleware(s.handleApprove))
	mux.HandleFunc("/v1/buy", s.corsMiddleware(s.handleBuy))
	mux.HandleFunc("/v1/sell", s.corsMiddleware(s.handleSell))
	mux.HandleFunc("/v1/swap", s.corsMiddleware(s.handleSwap))
	mux.HandleFunc("/v1/balances", s.corsMiddleware(s.handleBalances))
	mux.HandleFunc("/v1/pools", s.corsMiddleware(s.handlePools))
	mux.HandleFunc("/v1/position", s.corsMiddleware(s.handlePosition))
	mux.HandleFunc("/v1/quote", s.corsMiddleware(s.handleQuote))
	mux.HandleFunc("/v1/log", s.corsMiddleware(s.handleLog))
	mux.HandleFunc("/v1/history", s.corsMiddleware(s.handleHistory))
	mux.HandleFunc("/v1/history/", s.corsMiddleware(s.handleHistoryDetail))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// Close disconnects websocket clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, types.ErrorResponse{Error: message})
}

// writeActionError maps a session error to a status code.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	s.writeJSONError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case dex.IsUserError(err):
		return http.StatusBadRequest
	case errors.Is(err, dex.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, dex.ErrNotConnected),
		errors.Is(err, dex.ErrNoSigner),
		errors.Is(err, dex.ErrNoFactory),
		errors.Is(err, wallet.ErrWrongNetwork),
		errors.Is(err, wallet.ErrNoAccount),
		errors.Is(err, wallet.ErrAccountNotExposed):
		return http.StatusPreconditionFailed
	case errors.Is(err, dex.ErrNoLiquidity),
		errors.Is(err, dex.ErrNoPair),
		errors.Is(err, sender.ErrTxReverted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sender.ErrReceiptTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// splitList splits a comma-separated query parameter.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.api.Status())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	res, err := s.api.Connect(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req types.ApproveRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeAction(w)(s.api.Approve(r.Context(), req))
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req types.BuyRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeAction(w)(s.api.Buy(r.Context(), req))
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req types.SellRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeAction(w)(s.api.Sell(r.Context(), req))
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req types.SwapRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.writeAction(w)(s.api.Swap(r.Context(), req))
}

func (s *Server) writeAction(w http.ResponseWriter) func(*types.ActionResult, error) {
	return func(res *types.ActionResult, err error) {
		if err != nil {
			s.writeActionError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	rows, err := s.api.GetTokenBalances(r.Context(), splitList(r.URL.Query().Get("tokens")))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"balances": rows})
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	rows, err := s.api.GetPoolInfo(r.Context(), splitList(r.URL.Query().Get("pairs")))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pools": rows})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	pos, err := s.api.GetPosition(r.Context(), q.Get("tokenA"), q.Get("tokenB"))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	quote, err := s.api.Quote(r.Context(), q.Get("tokenIn"), q.Get("tokenOut"), q.Get("amount"))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

// handleLog returns the debug log (GET) or clears it (DELETE).
// GET accepts since=<seq> to return only newer lines.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var since int64
		if v := r.URL.Query().Get("since"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				s.writeJSONError(w, "since must be a non-negative integer", http.StatusBadRequest)
				return
			}
			since = n
		}
		lines := s.api.Log().Lines()
		out := make([]types.LogLine, 0, len(lines))
		for _, l := range lines {
			if l.Seq > since {
				out = append(out, l)
			}
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"lines": out})
	case http.MethodDelete:
		s.api.Log().Clear()
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHistory returns paginated transaction logs.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "History storage is disabled", http.StatusNotFound)
		return
	}

	limit, offset, err := pagination(r)
	if err != nil {
		s.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := s.history.ListTxLogs(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func pagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultHistoryPage
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
	}
	if limit > maxHistoryPage {
		limit = maxHistoryPage
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// handleHistoryDetail returns one transaction log by hash.
func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "History storage is disabled", http.StatusNotFound)
		return
	}
	hash := strings.TrimPrefix(r.URL.Path, "/v1/history/")
	if hash == "" || strings.Contains(hash, "/") {
		s.writeJSONError(w, "Missing transaction hash", http.StatusBadRequest)
		return
	}

	entry, err := s.history.GetTxLogByHash(r.Context(), hash)
	if err != nil {
		s.writeJSONError(w, "Failed to get transaction: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		s.writeJSONError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	ready := true

	if s.health != nil {
		start := time.Now()
		err := s.health.CheckRPC(r.Context())
		check := ReadinessCheck{Name: "rpc", Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			ready = false
		}
		checks = append(checks, check)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}

// BlockNumberer is the part of rpc.Client RPCHealth needs.
type BlockNumberer interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
}

// RPCHealth reports the node healthy when it answers eth_blockNumber.
type RPCHealth struct {
	Client  BlockNumberer
	Timeout time.Duration
}

// CheckRPC implements HealthChecker.
func (h RPCHealth) CheckRPC(ctx context.Context) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := h.Client.GetBlockNumber(ctx)
	return err
}
