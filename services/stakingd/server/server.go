package server

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "stakeledger/native/common"
	"stakeledger/native/stakerewards"
	"stakeledger/observability"
	"stakeledger/services/stakingd/journal"
)

const moduleName = "stakingd"

// Ledger is the staking reward engine surface served over HTTP.
type Ledger interface {
	Config() stakerewards.Config
	Stake(staker common.Address, amount *big.Int, now time.Time) (*stakerewards.Position, error)
	Withdraw(staker common.Address, amount *big.Int, now time.Time) (*stakerewards.Position, error)
	Harvest(staker common.Address, now time.Time) (*big.Int, error)
	Compound(staker common.Address, now time.Time) (*big.Int, error)
	Fund(funder common.Address, amount *big.Int, now time.Time) error
	SetPeriodDuration(duration time.Duration, now time.Time) error
	Position(staker common.Address) (*stakerewards.Position, error)
	Pending(staker common.Address, now time.Time) (*big.Int, error)
	Global() (*stakerewards.GlobalState, error)
	Audit() (*stakerewards.Audit, error)
}

// EventLog lists journaled ledger events.
type EventLog interface {
	List(ctx context.Context, limit int, eventType string) ([]journal.EventRecord, error)
}

// BalanceReader exposes custody balances for account queries.
type BalanceReader interface {
	Balance(asset string, addr common.Address) (*big.Int, error)
}

// PositionLister enumerates every stored position.
type PositionLister interface {
	Positions() ([]*stakerewards.Position, error)
}

// Options configures optional collaborators of the server.
type Options struct {
	Auth      AuthConfig
	RateLimit RateLimit
	Pauses    *nativecommon.Pauses
	Balances  BalanceReader
	Positions PositionLister
	Logger    *slog.Logger
	Now       func() time.Time
}

type Server struct {
	ledger   Ledger
	events   EventLog
	balances BalanceReader
	lister   PositionLister
	pauses   *nativecommon.Pauses
	auth     *Authenticator
	limiter  *RateLimiter
	logger   *slog.Logger
	now      func() time.Time
	router   chi.Router
}

// New assembles the HTTP API around the ledger.
func New(ledger Ledger, events EventLog, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	auth := NewAuthenticator(opts.Auth, logger)
	auth.now = now
	limiter := NewRateLimiter(opts.RateLimit)
	limiter.clockNow = now

	s := &Server{
		ledger:   ledger,
		events:   events,
		balances: opts.Balances,
		lister:   opts.Positions,
		pauses:   opts.Pauses,
		auth:     auth,
		limiter:  limiter,
		logger:   logger,
		now:      now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ledger", s.handleLedger)
		r.Get("/positions/{address}", s.handlePosition)
		r.Get("/events", s.handleEvents)
		if s.lister != nil {
			r.Get("/positions", s.handlePositions)
		}
		if s.balances != nil {
			r.Get("/accounts/{address}", s.handleAccount)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)

			staker := r.With(s.auth.Middleware(ScopeStake), s.requireSubject)
			staker.Post("/positions/{address}/stake", s.handleStake)
			staker.Post("/positions/{address}/withdraw", s.handleWithdraw)
			staker.Post("/positions/{address}/harvest", s.handleHarvest)
			staker.Post("/positions/{address}/compound", s.handleCompound)

			r.With(s.auth.Middleware(ScopeFund)).Post("/rewards/fund", s.handleFund)
			r.With(s.auth.Middleware(ScopeAdmin)).Put("/rewards/period", s.handlePeriod)
			if s.pauses != nil {
				r.With(s.auth.Middleware(ScopeAdmin)).Put("/admin/pause", s.handlePause)
			}
		})
	})
	return r
}

// Handler returns the traced HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, moduleName)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		op := observability.OperationForRoute(r.Method, route)
		observability.API().Observe(op, status, elapsed)
		s.logger.Debug("request served",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.String("op", op),
			slog.Int("status", status),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.Duration("elapsed", elapsed))
	})
}

// requireSubject restricts staker routes to the token subject's own address.
func (s *Server) requireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := parseAddress(chi.URLParam(r, "address"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		subject := subjectFromContext(r.Context())
		if !common.IsHexAddress(subject) || common.HexToAddress(subject) != addr {
			writeError(w, http.StatusForbidden, "token subject does not own position")
			return
		}
		next.ServeHTTP(w, r)
	})
}
