package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"custodychain/config"
	"custodychain/core"
	"custodychain/core/events"
	"custodychain/observability"
	"custodychain/services/indexer"
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
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeForbidden      = -32002
	codeRejected       = -32003
	codeNotFound       = -32004
	codeUnavailable    = -32005
	codeNonceMismatch  = -32010
	codeRateLimited    = -32020
)

// Options wires the server to the ledger and its optional collaborators.
type Options struct {
	Processor *core.Processor
	Fanout    *events.Fanout
	Indexer   *indexer.Indexer
	RPC       config.RPC
	Auth      config.Auth
	JWTSecret string
	Logger    *slog.Logger
}

// Server exposes the ledger over JSON-RPC 2.0 and streams published events
// over a websocket.
type Server struct {
	proc    *core.Processor
	fanout  *events.Fanout
	indexer *indexer.Indexer
	cfg     config.RPC
	auth    *authenticator
	limiter *clientLimiter
	logger  *slog.Logger
	maxBody int64
}

func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, errors.New("rpc: processor required")
	}
	if opts.Auth.Enabled && strings.TrimSpace(opts.JWTSecret) == "" {
		return nil, errors.New("rpc: auth enabled without a JWT secret")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.RPC.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = maxRequestBytes
	}
	return &Server{
		proc:    opts.Processor,
		fanout:  opts.Fanout,
		indexer: opts.Indexer,
		cfg:     opts.RPC,
		auth:    newAuthenticator(opts.Auth, opts.JWTSecret),
		limiter: newClientLimiter(opts.RPC.RateLimitPerSecond, opts.RPC.RateLimitBurst, opts.RPC.TrustedProxies),
		logger:  logger.With(slog.String("component", "rpc")),
		maxBody: maxBody,
	}, nil
}

// Handler returns the HTTP routes served by the node.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.rateLimit).Get("/ws/events", s.handleEventsWS)
	r.With(s.rateLimit).Post("/", s.handle)
	return otelhttp.NewHandler(r, "custody.rpc")
}

// Serve runs the HTTP server on ln until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	readHeader, read, write, idle := s.cfg.Timeouts()
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       read,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc shutdown: %w", err)
		}
		return nil
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id,omitempty"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
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
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: nullID(id), Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: nullID(id), Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func nullID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// httpStatus maps an error code onto the HTTP status of the response.
// Rejected calls were journaled and are reported with 200.
func httpStatus(code int) int {
	switch code {
	case codeParseError, codeInvalidRequest, codeInvalidParams:
		return http.StatusBadRequest
	case codeMethodNotFound, codeNotFound:
		return http.StatusNotFound
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeForbidden:
		return http.StatusForbidden
	case codeRejected:
		return http.StatusOK
	case codeNonceMismatch:
		return http.StatusConflict
	case codeRateLimited:
		return http.StatusTooManyRequests
	case codeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type requestIDKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := s.limiter.clientIP(r)
		if !s.limiter.allow(client) {
			observability.RPC().RecordThrottle("rate_limit")
			s.logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("client", client),
				slog.String("request_id", requestIDFrom(r.Context())))
			w.Header().Set("Content-Type", "application/json")
			writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handle decodes a JSON-RPC request and routes it to its method handler.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	reader := http.MaxBytesReader(w, r.Body, s.maxBody)
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
			message = fmt.Sprintf("request body exceeds %d bytes", s.maxBody)
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
		writeError(w, httpStatus(rpcErr.Code), req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		writeResult(w, req.ID, result)
	}
	elapsed := time.Since(started)
	observability.RPC().Observe(req.Method, code, elapsed)
	s.logger.DebugContext(r.Context(), "rpc request",
		slog.String("request_id", requestIDFrom(r.Context())),
		slog.String("method", req.Method),
		slog.Int("code", code),
		slog.Duration("duration", elapsed))
}

func (s *Server) dispatch(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	switch req.Method {
	case "custody_sendCall":
		return s.handleSendCall(r, req)
	case "escrow_get":
		return s.handleEscrowGet(r, req)
	case "auction_get":
		return s.handleAuctionGet(r, req)
	case "auction_bidder":
		return s.handleAuctionBidder(r, req)
	case "ledger_getBalance":
		return s.handleGetBalance(r, req)
	case "ledger_getNonce":
		return s.handleGetNonce(r, req)
	case "ledger_time":
		return s.handleTime(r, req)
	case "ledger_getReceipt":
		return s.handleGetReceipt(r, req)
	case "ledger_pausedModules":
		return s.handlePausedModules(r, req)
	case "events_list":
		return s.handleEventsList(r, req)
	case "events_query":
		return s.handleEventsQuery(r, req)
	case "ledger_advanceTime":
		if authErr := s.requireAdmin(r); authErr != nil {
			return nil, authErr
		}
		return s.handleAdvanceTime(r, req)
	case "module_setPaused":
		if authErr := s.requireAdmin(r); authErr != nil {
			return nil, authErr
		}
		return s.handleSetPaused(r, req)
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %s not found", req.Method)}
	}
}

func (s *Server) requireAdmin(r *http.Request) *RPCError {
	authErr := s.auth.authorize(r, AdminScope)
	if authErr != nil {
		observability.RPC().RecordThrottle("unauthorized")
	}
	return authErr
}
