// Package server exposes the lending engine over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendledger/native/lending"
	"lendledger/observability"
	"lendledger/services/lendingd/config"
	"lendledger/services/lendingd/journal"
)

// PriceFeed accepts operator price updates in base currency units.
type PriceFeed interface {
	SetPrice(asset common.Address, price *big.Int) error
}

// Custody is the underlying asset bank. Mint credits operator test funds.
type Custody interface {
	BalanceOf(asset, holder common.Address) *big.Int
	Mint(asset, to common.Address, amount *big.Int) error
	MintNFT(asset, to common.Address, tokenID *big.Int) error
}

// EventLog lists journaled engine events.
type EventLog interface {
	List(ctx context.Context, filter journal.Filter) ([]journal.Entry, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine    *lending.Engine
	Prices    PriceFeed
	Custody   Custody
	Events    EventLog
	Auth      config.AuthConfig
	RateLimit config.RateLimitConfig
	Logger    *slog.Logger
	// Metrics exposes the prometheus handler on /metrics when set.
	Metrics bool
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	engine  *lending.Engine
	prices  PriceFeed
	custody Custody
	events  EventLog
	logger  *slog.Logger

	router http.Handler
}

// New constructs the router with authentication, rate limiting and
// instrumentation.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:  cfg.Engine,
		prices:  cfg.Prices,
		custody: cfg.Custody,
		events:  cfg.Events,
		logger:  logger.With("component", "api"),
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router wrapped in tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "lendingd")
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)
	if !cfg.RateLimit.Disabled {
		r.Use(newRateLimiter(cfg.RateLimit).middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(api chi.Router) {
		api.Get("/reserves", s.listReserves)
		api.Get("/reserves/{asset}", s.getReserve)
		api.Get("/accounts/{user}", s.getAccount)
		api.Get("/auctions/{asset}/{tokenId}", s.getAuction)
		api.Get("/events", s.listEvents)
		api.Get("/balances/{asset}/{holder}", s.getBalance)

		api.Group(func(protected chi.Router) {
			protected.Use(newAuthenticator(cfg.Auth, s.logger).middleware)
			protected.Post("/supply", s.supply)
			protected.Post("/withdraw", s.withdraw)
			protected.Post("/borrow", s.borrow)
			protected.Post("/repay", s.repay)
			protected.Post("/collateral", s.setCollateral)
			protected.Post("/transfer", s.transfer)
			protected.Post("/liquidate", s.liquidate)
			protected.Post("/auctions/start", s.startAuction)
			protected.Post("/auctions/liquidate", s.liquidateAuction)
			protected.Post("/treasury/mint", s.mintToTreasury)
			protected.Post("/oracle/prices", s.setPrices)
			protected.Post("/bank/mint", s.mint)
		})
	})
	return r
}

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestID propagates or assigns a uuid request id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
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

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		done := observability.API().Begin()
		defer done()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		observability.API().Observe(route, r.Method, status, elapsed)
		s.logger.Debug("request served",
			"request_id", requestIDFrom(r.Context()),
			"route", route,
			"status", status,
			"client", clientID(r),
			"duration", elapsed)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// fail writes the engine error with its mapped status. Internal errors are
// logged and hidden from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		principal, _ := principalFrom(r.Context())
		s.logger.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"principal", principal,
			"route", r.URL.Path,
			"error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
