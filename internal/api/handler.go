package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"options-engine/internal/engine"
	"options-engine/internal/events"
)

// Server wires HTTP endpoints around the engine and its event bus.
type Server struct {
	Router *gin.Engine
	Engine engine.Service
	Bus    *events.Bus
}

// Options tune the middleware stack.
type Options struct {
	RequestTimeout time.Duration
	// RatePerSecond and Burst bound requests per client IP.
	RatePerSecond float64
	Burst         int
}

func NewServer(svc engine.Service, bus *events.Bus, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 50
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(newIPLimiter(opts.RatePerSecond, opts.Burst, 5*time.Minute)))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, Engine: svc, Bus: bus}
	s.routes(opts.RequestTimeout)
	return s
}

func (s *Server) routes(timeout time.Duration) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	// The stream outlives any request timeout.
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(timeout))
	{
		api.GET("/watchlist", s.listWatchlist)
		api.POST("/watchlist", s.addWatchlist)
		api.DELETE("/watchlist/:id", s.removeWatchlist)
		api.POST("/watchlist/:id/start", s.startMonitoring)

		api.GET("/symbols", s.listSymbols)
		api.DELETE("/symbols/:id", s.stopMonitoring)
		api.POST("/symbols/:id/move-strike", s.moveStrike)
		api.GET("/symbols/:symbol/modifications", s.listModifications)

		api.POST("/hma/refresh", s.refreshHMA)

		api.POST("/orders/:id/cancel", s.cancelOrder)
		// Broker postback.
		api.POST("/orders/:id/update", s.orderUpdate)

		api.GET("/positions", s.listPositions)
		api.POST("/positions/:id/exit", s.exitPosition)

		api.GET("/trades", s.listTrades)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"system": s.Engine.GetSystemStatus(c.Request.Context()),
	})
}

// Handler exposes the router for an http.Server.
func (s *Server) Handler() http.Handler { return s.Router }
