// Package api exposes the vault over HTTP with gin.
package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/vault/internal/auth"
	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/notify"
	"github.com/vadiminshakov/vault/internal/storage/eventlog"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const (
	shutdownTimeout = 5 * time.Second

	DefaultCertCache = "cert-cache"
	acmeAddr         = ":80"
)

// Vault is the operation surface served over HTTP.
type Vault interface {
	AssetA() domain.Asset
	AssetB() domain.Asset
	Admin() domain.Identity
	MatchingEngine() domain.Identity
	SetMatchingEngine(ctx context.Context, caller, engine domain.Identity) error
	Deposit(ctx context.Context, caller, user domain.Identity, asset domain.Asset, amount decimal.Decimal) error
	Withdraw(ctx context.Context, caller, user domain.Identity, asset domain.Asset, amount decimal.Decimal) error
	GetBalance(user domain.Identity, asset domain.Asset) (decimal.Decimal, error)
	SettleTrade(ctx context.Context, caller domain.Identity, in domain.SettlementInstruction) (domain.SettlementResult, error)
	GetSettlement(id domain.TradeID) (domain.SettlementRecord, bool, error)
	GetTradeHistory(user domain.Identity, limit int) ([]domain.SettlementRecord, error)
}

// Verifier authenticates signed requests.
type Verifier interface {
	Verify(req auth.Request, creds auth.Credentials) (domain.Identity, error)
}

type eventReader interface {
	EventsAfter(index uint64) ([]eventlog.Record, error)
}

// Option configures a Server.
type Option func(*Server)

// WithEventStream enables GET /v1/events/stream over the event journal.
// wakeup may be nil, in which case the journal is polled only.
func WithEventStream(events eventReader, wakeup *notify.Broadcaster) Option {
	return func(s *Server) {
		s.events = events
		s.wakeup = wakeup
	}
}

// WithCORS allows browser calls from origins. "*" allows any origin.
func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// Server serves the vault API.
type Server struct {
	addr     string
	vault    Vault
	verifier Verifier
	events   eventReader
	wakeup   *notify.Broadcaster
	logger   *zap.Logger
	router   *gin.Engine

	corsOrigins []string
}

// NewServer builds the router.
func NewServer(addr string, v Vault, verifier Verifier, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:     addr,
		vault:    v,
		verifier: verifier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(ginzap.RecoveryWithZap(s.logger, true), requestLogger(s.logger), metricsMiddleware())
	if len(s.corsOrigins) > 0 {
		r.Use(cors.New(corsConfig(s.corsOrigins)))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/assets", s.handleAssets)
	v1.GET("/balances/:user/:asset", s.handleBalance)
	v1.GET("/settlements/:trade_id", s.handleGetSettlement)
	v1.GET("/users/:user/trades", s.handleTradeHistory)
	v1.GET("/events/stream", s.handleEventStream)

	signed := v1.Group("", authMiddleware(s.verifier))
	signed.PUT("/admin/matching-engine", s.handleSetMatchingEngine)
	signed.POST("/deposits", s.handleDeposit)
	signed.POST("/withdrawals", s.handleWithdraw)
	signed.POST("/settlements", s.handleSettle)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Last-Event-ID",
			auth.HeaderAddress, auth.HeaderTimestamp, auth.HeaderSignature,
		},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// Start runs the HTTP server and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api server")
	}
	return nil
}

// StartWithAutoTLS serves HTTPS with certificates obtained via ACME for domains.
// A plain HTTP listener on :80 answers HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = DefaultCertCache
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	acmeSrv := &http.Server{
		Addr:              acmeAddr,
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpsSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := acmeSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := acmeSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme server", zap.Error(err))
		}
	}()

	s.logger.Info("api listening with TLS", zap.String("addr", s.addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api tls server")
	}
	return nil
}
