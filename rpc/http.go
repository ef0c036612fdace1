package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tenderd/native/auction"
	"tenderd/observability"
)

const (
	jsonRPCVersion       = "2.0"
	maxRequestBytes      = 1 << 20 // 1 MiB
	rateLimitWindow      = time.Minute
	maxTxPerWindow       = 30
	rateLimiterIdleLimit = 10 * time.Minute
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

// Server exposes the auction engine over JSON-RPC 2.0. Mutating methods
// require the bearer token from TENDERD_RPC_TOKEN and are rate limited per
// source address.
type Server struct {
	engine *auction.Engine

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	lastSweep    time.Time
	authToken    string
	nowFn        func() time.Time
}

// NewServer constructs an RPC server around the supplied engine.
func NewServer(engine *auction.Engine) *Server {
	token := strings.TrimSpace(os.Getenv("TENDERD_RPC_TOKEN"))
	return &Server{
		engine:       engine,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    token,
		nowFn:        time.Now,
	}
}

// Start blocks serving the JSON-RPC endpoint and the Prometheus metrics
// handler on addr.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// Handler returns the RPC endpoint handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
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

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

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

	started := s.now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(rec, r, req)
	observability.ModuleMetrics().Observe("auction", req.Method, rec.status, s.now().Sub(started))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "auction_commitOffer":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleCommitOffer(w, r, req)
	case "auction_revealOffer":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleRevealOffer(w, r, req)
	case "auction_acceptOffer":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleAcceptOffer(w, r, req)
	case "auction_emergencyUnlock":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleEmergencyUnlock(w, r, req)
	case "auction_refundDeposit":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleRefundDeposit(w, r, req)
	case "auction_handleNoValidOffers":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleNoValidOffers(w, r, req)
	case "auction_updateGracePeriod":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleUpdateGracePeriod(w, r, req)
	case "auction_resetContract":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleResetContract(w, r, req)
	case "auction_startContract":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleStartContract(w, r, req)
	case "auction_approveState":
		if !s.allowMutation(w, r, req) {
			return
		}
		s.handleApproveState(w, r, req)
	case "auction_getAuction":
		s.handleGetAuction(w, r, req)
	case "auction_getCommitment":
		s.handleGetCommitment(w, r, req)
	case "auction_getRevealedOffer":
		s.handleGetRevealedOffer(w, r, req)
	case "auction_getDeposit":
		s.handleGetDeposit(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
	}
}

func (s *Server) allowMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	if !s.allowSource(clientSource(r), s.now()) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return false
	}
	return true
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

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLimiters(now)

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	limiter.lastSeen = now
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= maxTxPerWindow {
		return false
	}
	limiter.count++
	return true
}

// sweepLimiters drops limiter entries that have been idle past
// rateLimiterIdleLimit so the per-source map stays bounded. Callers must hold
// s.mu. Sweeps run at most once per window.
func (s *Server) sweepLimiters(now time.Time) {
	if now.Sub(s.lastSweep) < rateLimitWindow {
		return
	}
	s.lastSweep = now
	for source, limiter := range s.rateLimiters {
		if now.Sub(limiter.lastSeen) >= rateLimiterIdleLimit {
			delete(s.rateLimiters, source)
		}
	}
}

func (s *Server) now() time.Time {
	if s == nil || s.nowFn == nil {
		return time.Now()
	}
	return s.nowFn()
}

func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
