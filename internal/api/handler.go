// Package api exposes the ledger, positions and market data over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"papertrade-core/internal/events"
	"papertrade-core/internal/ledger"
	"papertrade-core/internal/market"
	"papertrade-core/internal/monitor"
	"papertrade-core/internal/position"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/logger"
)

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	DB        *db.Database
	Market    *market.Gateway
	Ledger    *ledger.Engine
	Positions *position.Aggregator
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	Logger    *zap.Logger
}

// Options tunes auth and middleware.
type Options struct {
	JWTSecret      string
	TokenTTL       time.Duration
	InitialCash    decimal.Decimal
	RequestTimeout time.Duration
	CORSOrigin     string
	// Per-IP limits; zero means 20 req/s with a burst of 50.
	RateLimit rate.Limit
	RateBurst int
}

// Server wires HTTP endpoints around the core services.
type Server struct {
	Router    *gin.Engine
	DB        *db.Database
	Market    *market.Gateway
	Ledger    *ledger.Engine
	Positions *position.Aggregator
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics

	log  *zap.Logger
	opts Options
}

func NewServer(deps Deps, opts Options) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 72 * time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	log := logger.OrNop(deps.Logger)

	r := gin.New()

	limiter := newIPLimiter(opts.RateLimit, opts.RateBurst)

	// Middleware stack (order matters!)
	r.Use(RecoveryMiddleware(log))                // Panic recovery (first)
	r.Use(RequestIDMiddleware())                  // Request ID tracking
	r.Use(RequestLogger(log, deps.Metrics))       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(limiter))           // Rate limiting
	r.Use(TimeoutMiddleware(opts.RequestTimeout)) // Request timeout
	r.Use(CORSMiddleware(opts.CORSOrigin))        // CORS (last before routes)

	s := &Server{
		Router:    r,
		DB:        deps.DB,
		Market:    deps.Market,
		Ledger:    deps.Ledger,
		Positions: deps.Positions,
		Bus:       deps.Bus,
		Metrics:   deps.Metrics,
		log:       log,
		opts:      opts,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/assets", s.listAssets)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		mkt := api.Group("/market")
		{
			mkt.GET("/prices", s.getPrices)
			mkt.GET("/forex", s.getForex)
			mkt.GET("/klines", s.getKlines)
			mkt.GET("/ohlc", s.getOHLC)
			mkt.GET("/range", s.getRange)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.opts.JWTSecret))
		{
			protected.GET("/account", s.getAccount)
			protected.GET("/trades", s.listTrades)
			protected.POST("/trades/open", s.openTrade)
			protected.POST("/trades/:id/close", s.closeTrade)
			protected.GET("/positions", s.getPositions)
			protected.GET("/metrics", s.getMetrics)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
