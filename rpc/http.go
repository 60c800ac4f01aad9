package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nftmarket/indexer"
	"nftmarket/native/market"
	"nftmarket/observability"
	"nftmarket/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codeMarketValidation    = -32030
	codeMarketAuthorization = -32031
	codeMarketState         = -32032
	codeMarketFunds         = -32033
	codeMarketTransfer      = -32034
	codeMarketPaused        = -32035
)

// Bank exposes the account balances and funding purses served by the bank_*
// methods.
type Bank interface {
	Balance(addr [20]byte) (*uint256.Int, error)
	CreatePurse(owner [20]byte) ([32]byte, error)
	PurseOwner(id [32]byte) ([20]byte, error)
	PurseBalance(id [32]byte) (*uint256.Int, error)
	AccountToPurse(from [20]byte, to [32]byte, amount *uint256.Int) error
}

// Collectibles is the asset contract surface behind the collectible_* methods.
type Collectibles interface {
	Mint(contract [20]byte, assetID string, owner [20]byte) error
	OwnerOf(contract [20]byte, assetID string) ([20]byte, error)
	SetApprovalForAll(contract, owner, operator [20]byte, approved bool) error
}

// EventArchive serves the market_events query.
type EventArchive interface {
	Recent(ctx context.Context, assetID string, limit int) ([]indexer.EventRecord, error)
}

// ServerConfig carries the transport knobs of the RPC server.
type ServerConfig struct {
	AuthToken          string
	RateLimitPerMinute int
	RateLimitBurst     int
}

type methodHandler func(r *http.Request, req *RPCRequest) (interface{}, *RPCError)

type method struct {
	handler  methodHandler
	mutating bool
}

type Server struct {
	engine       *market.Engine
	bank         Bank
	collectibles Collectibles
	archive      EventArchive

	authToken string
	limiter   *rateLimiter
	metrics   interface {
		Observe(method string, code int, duration time.Duration)
		RecordThrottle(reason string)
	}
	logger  *slog.Logger
	tracer  trace.Tracer
	methods map[string]method
	hub     *EventHub

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer wires the dispatcher over the market engine. bank and archive are
// optional; the methods backed by them report an error when absent.
func NewServer(engine *market.Engine, bank Bank, archive EventArchive, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:    engine,
		bank:      bank,
		archive:   archive,
		authToken: strings.TrimSpace(cfg.AuthToken),
		limiter:   newRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		metrics:   observability.ModuleMetrics(),
		logger:    logger.With(slog.String("component", "rpc")),
		tracer:    otel.Tracer("nftmarket/rpc"),
	}
	s.methods = s.registerMethods()
	return s
}

// Router returns the HTTP surface: the JSON-RPC endpoint plus health and
// metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.traceRequests)
	r.Post("/rpc", s.handle)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws/events", s.handleEventsWS)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Serve accepts connections on the listener until Shutdown is called. Body
// and write deadlines are left to the handlers so event streams stay open.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("JSON-RPC server listening", slog.String("address", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a running server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "ok"
	if _, err := s.engine.Params(); err != nil {
		status = "uninitialised"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, requestID)
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	result, rpcErr := s.dispatch(r, req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		writeError(w, rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		writeResult(w, req.ID, result)
	}
	s.metrics.Observe(req.Method, code, time.Since(start))

	attrs := []any{
		slog.String("method", req.Method),
		slog.String("requestid", requestID),
		logging.MaskField("client", s.clientSource(r)),
		slog.Int("code", code),
		slog.Duration("duration", time.Since(start)),
	}
	if rpcErr != nil {
		s.logger.Warn("rpc request failed", append(attrs, slog.String("error", rpcErr.Message))...)
		return
	}
	s.logger.Debug("rpc request served", attrs...)
}

func (s *Server) dispatch(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	m, ok := s.methods[req.Method]
	if !ok {
		return nil, &RPCError{status: http.StatusNotFound, Code: codeMethodNotFound, Message: "method not found", Data: req.Method}
	}
	if m.mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			authErr.status = http.StatusUnauthorized
			s.logger.Warn("rpc authentication rejected",
				slog.String("method", req.Method),
				slog.String("reason", authErr.Message),
				logging.MaskField("client", s.clientSource(r)),
				logging.MaskField("authorization", r.Header.Get("Authorization")))
			return nil, authErr
		}
		if !s.limiter.allow(s.clientSource(r)) {
			s.metrics.RecordThrottle("rate_limit")
			return nil, &RPCError{status: http.StatusTooManyRequests, Code: codeRateLimited, Message: "rate limit exceeded"}
		}
	}
	return m.handler(r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// clientSource identifies the caller for rate limiting. Forwarding headers are
// not trusted.
func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// marketError maps an engine error onto a JSON-RPC error by taxonomy kind.
func marketError(err error) *RPCError {
	if err == nil {
		return nil
	}
	kind := market.ErrorKind(err)
	out := &RPCError{Message: kind, Data: err.Error()}
	switch kind {
	case "validation":
		out.status, out.Code = http.StatusBadRequest, codeMarketValidation
	case "authorization":
		out.status, out.Code = http.StatusForbidden, codeMarketAuthorization
	case "state":
		out.status, out.Code = http.StatusConflict, codeMarketState
	case "funds":
		out.status, out.Code = http.StatusConflict, codeMarketFunds
	case "transfer":
		out.status, out.Code = http.StatusBadGateway, codeMarketTransfer
	case "paused":
		out.status, out.Code = http.StatusServiceUnavailable, codeMarketPaused
	default:
		out.status, out.Code, out.Message = http.StatusInternalServerError, codeServerError, "internal_error"
	}
	return out
}

func invalidParams(err error) *RPCError {
	return &RPCError{status: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid_params", Data: err.Error()}
}

func serverError(message string, err error) *RPCError {
	out := &RPCError{status: http.StatusInternalServerError, Code: codeServerError, Message: message}
	if err != nil {
		out.Data = err.Error()
	}
	return out
}
