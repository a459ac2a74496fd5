package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	nativecommon "cdpengine/native/common"
	"cdpengine/observability"
)

const moduleLabel = "cdp"

// ServerConfig bundles the RPC surface configuration.
type ServerConfig struct {
	Auth      AuthConfig
	RateLimit RateLimit
	Quota     nativecommon.Quota
}

// Server exposes the vault engine over a single JSON-RPC endpoint plus the
// operational health and metrics routes.
type Server struct {
	module *Module
	auth   *Authenticator
	limits *RateLimiter
	logger *slog.Logger

	quota   nativecommon.Quota
	quotaMu sync.Mutex
	usage   map[string]nativecommon.QuotaNow
	now     func() time.Time

	switchboard *nativecommon.Switchboard
}

// NewServer wires the module behind the middleware stack. The switchboard may
// be nil when runtime module pausing is not needed.
func NewServer(cfg ServerConfig, module *Module, switchboard *nativecommon.Switchboard, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		module:      module,
		auth:        NewAuthenticator(cfg.Auth, logger),
		limits:      NewRateLimiter(cfg.RateLimit),
		logger:      logger,
		quota:       cfg.Quota,
		usage:       make(map[string]nativecommon.QuotaNow),
		now:         time.Now,
		switchboard: switchboard,
	}
}

// Handler builds the chi router for the service.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(s.limits.Middleware)
	r.Use(s.auth.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc", s.handleRPC)
	return r
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcErrorBody struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
}

var adminMethods = map[string]bool{
	"cdp_withdrawRevenue":    true,
	"cdp_registerCollateral": true,
	"cdp_pauseCollateral":    true,
	"cdp_unpauseCollateral":  true,
	"cdp_halt":               true,
	"cdp_resume":             true,
	"cdp_setModulePaused":    true,
	"cdp_setCooldownPeriod":  true,
	"cdp_setAprMarkup":       true,
	"cdp_setLiquidationFee":  true,
}

var mutatingMethods = map[string]bool{
	"cdp_deposit":       true,
	"cdp_depositNative": true,
	"cdp_redeem":        true,
	"cdp_borrow":        true,
	"cdp_repay":         true,
	"cdp_liquidate":     true,
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	started := s.now()
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, json.RawMessage("null"), "unknown", started,
			&ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "malformed request"})
		return
	}
	if req.ID == nil {
		req.ID = json.RawMessage("null")
	}

	if adminMethods[req.Method] && !s.auth.RequireScope(r.Context(), ScopeAdmin) {
		s.writeError(w, r, req.ID, req.Method, started,
			&ModuleError{HTTPStatus: http.StatusForbidden, Code: codeUnauthorized, Message: "admin scope required"})
		return
	}
	if mutatingMethods[req.Method] {
		if err := s.checkQuota(clientID(r)); err != nil {
			observability.ModuleMetrics().RecordThrottle(moduleLabel, "quota_exceeded")
			s.writeError(w, r, req.ID, req.Method, started, wrapEngineError(err))
			return
		}
	}

	result, merr := s.dispatch(r, req.Method, req.Params)
	if merr != nil {
		s.writeError(w, r, req.ID, req.Method, started, merr)
		return
	}

	observability.ModuleMetrics().Observe(moduleLabel, req.Method, http.StatusOK, s.now().Sub(started))
	s.logger.Info("rpc call",
		"module", moduleLabel,
		"method", req.Method,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) dispatch(r *http.Request, method string, raw json.RawMessage) (interface{}, *ModuleError) {
	ctx := r.Context()
	switch method {
	case "cdp_deposit":
		var params txParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.Deposit(ctx, params)
	case "cdp_depositNative":
		var params txParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.DepositNative(ctx, params)
	case "cdp_redeem":
		var params txParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.Redeem(ctx, params)
	case "cdp_borrow":
		var params txParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.Borrow(ctx, params)
	case "cdp_repay":
		var params txParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.Repay(ctx, params)
	case "cdp_liquidate":
		var params liquidateParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.Liquidate(ctx, params)
	case "cdp_healthFactor":
		var params accountParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.HealthFactor(ctx, params)
	case "cdp_debtOwed":
		var params accountParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.DebtOwed(ctx, params)
	case "cdp_account":
		var params accountParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.Account(ctx, params)
	case "cdp_isLiquidatable":
		var params accountParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.IsLiquidatable(ctx, params)
	case "cdp_pool":
		return s.module.Pool(ctx)
	case "cdp_assets":
		return s.module.Assets(ctx)
	case "cdp_params":
		return s.module.Params(ctx)
	case "cdp_suggestedMarkup":
		return s.module.SuggestedMarkup(ctx)
	case "cdp_revenue":
		return s.module.Revenue(ctx)
	case "cdp_withdrawRevenue":
		var params revenueWithdrawParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.WithdrawRevenue(ctx, params)
	case "cdp_registerCollateral":
		var params registerParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.RegisterCollateral(ctx, params)
	case "cdp_pauseCollateral":
		var params tokenParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.PauseCollateral(ctx, params)
	case "cdp_unpauseCollateral":
		var params tokenParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.UnpauseCollateral(ctx, params)
	case "cdp_halt":
		return s.module.Halt(ctx)
	case "cdp_resume":
		return s.module.Resume(ctx)
	case "cdp_setModulePaused":
		var params struct {
			Paused bool `json:"paused"`
		}
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		if s.switchboard == nil {
			return nil, moduleUnavailable()
		}
		s.switchboard.SetPaused(moduleLabel, params.Paused)
		observability.Engine().SetPause(params.Paused)
		return map[string]bool{"paused": params.Paused}, nil
	case "cdp_setCooldownPeriod":
		var params settingParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.SetCooldownPeriod(ctx, params)
	case "cdp_setAprMarkup":
		var params settingParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.SetAprMarkup(ctx, params)
	case "cdp_setLiquidationFee":
		var params settingParams
		if merr := decodeParams(raw, &params); merr != nil {
			return nil, merr
		}
		return s.module.SetLiquidationFee(ctx, params)
	}
	return nil, &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeInvalidParams, Message: "unknown method"}
}

func decodeParams(raw json.RawMessage, out interface{}) *ModuleError {
	if len(raw) == 0 {
		return invalidParams("params required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidParams("malformed params")
	}
	return nil
}

// checkQuota enforces the per-client request budget for mutating methods.
func (s *Server) checkQuota(client string) error {
	if s.quota.MaxRequestsPerMin == 0 && s.quota.MaxVolumePerEpoch == 0 {
		return nil
	}
	epochSeconds := uint64(s.quota.EpochSeconds)
	if epochSeconds == 0 {
		epochSeconds = 60
	}
	epoch := uint64(s.now().Unix()) / epochSeconds
	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	next, err := nativecommon.CheckQuota(s.quota, epoch, s.usage[client], 1, 0)
	if err != nil {
		return err
	}
	s.usage[client] = next
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, id json.RawMessage, method string, started time.Time, merr *ModuleError) {
	observability.ModuleMetrics().Observe(moduleLabel, method, merr.HTTPStatus, s.now().Sub(started))
	s.logger.Warn("rpc call failed",
		"module", moduleLabel,
		"method", method,
		"error", merr.Message,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeJSON(w, merr.HTTPStatus, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcErrorBody{Code: merr.Code, Message: merr.Message, Data: merr.Data},
	})
}

func writeJSON(w http.ResponseWriter, status int, body rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
