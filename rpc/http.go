package rpc

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"tokenswap/native/bank"
	"tokenswap/native/swap"
	"tokenswap/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

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

// Server serves the swap module's JSON-RPC surface. Mutating methods carry a
// caller identity and attached funds; the server performs the deposit against
// the ledger and invokes the engine, which settles planned transfers through
// the server's ledger hook before committing state. Mutating calls are
// admitted one at a time so the deposit, engine call, and settlement form a
// single serial unit.
type Server struct {
	mu      sync.Mutex
	engine  *swap.Engine
	ledger  *bank.Ledger
	vault   string
	logger  *slog.Logger
	metrics *metrics.SwapMetrics
}

// NewServer wires the RPC surface to the engine and ledger. The vault account
// holds every deposit made to the module.
func NewServer(engine *swap.Engine, ledger *bank.Ledger, vault string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  engine,
		ledger:  ledger,
		vault:   vault,
		logger:  logger,
		metrics: metrics.Swap(),
	}
	engine.SetSettlement(s.settle)
	return s
}

// Handler returns the http handler serving the JSON-RPC endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

// Start begins serving on addr and blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}

	s.metrics.ObserveRequest(req.Method)
	switch req.Method {
	case "swap_initiate":
		s.handleInitiate(w, &req)
	case "swap_accept":
		s.handleAccept(w, &req)
	case "swap_execute":
		s.handleExecute(w, &req)
	case "swap_cancel":
		s.handleCancel(w, &req)
	case "swap_getAgreement":
		s.handleGetAgreement(w, &req)
	case "swap_listByInitiator":
		s.handleListByInitiator(w, &req)
	case "swap_listByCounterparty":
		s.handleListByCounterparty(w, &req)
	case "swap_listByStatus":
		s.handleListByStatus(w, &req)
	case "swap_counts":
		s.handleCounts(w, &req)
	case "bank_balance":
		s.handleBankBalance(w, &req)
	case "bank_mint":
		s.handleBankMint(w, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
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

func (s *Server) decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}
