package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"options-engine/internal/engine"
	"options-engine/internal/gateway"
	"options-engine/internal/lifecycle"
	"options-engine/internal/model"
	"options-engine/internal/order"
	"options-engine/pkg/db"
)

type refreshHMARequest struct {
	Symbol string `json:"symbol"`
}

type listTradesQuery struct {
	Limit int `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// fail maps an engine error onto an HTTP status.
func fail(c *gin.Context, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, order.ErrUnknownOrder):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrAlreadyMonitored), errors.Is(err, db.ErrDuplicateSymbol),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		respondError(c, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, lifecycle.ErrPreconditionFailed):
		respondError(c, http.StatusUnprocessableEntity, "PRECONDITION_FAILED", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	case errors.Is(err, engine.ErrStopped), errors.Is(err, gateway.ErrGatewayUnhealthy):
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("api: request failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

// --- Watchlist ---

func (s *Server) listWatchlist(c *gin.Context) {
	list, err := s.Engine.ListWatchlist(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) addWatchlist(c *gin.Context) {
	var cfg model.SymbolConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	created, err := s.Engine.AddSymbol(c.Request.Context(), cfg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) removeWatchlist(c *gin.Context) {
	if err := s.Engine.RemoveSymbol(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) startMonitoring(c *gin.Context) {
	sym, err := s.Engine.StartMonitoring(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sym)
}

// --- Monitored symbols ---

func (s *Server) listSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Symbols(c.Request.Context()))
}

func (s *Server) stopMonitoring(c *gin.Context) {
	if err := s.Engine.StopMonitoring(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) moveStrike(c *gin.Context) {
	sym, err := s.Engine.ForceEntryWindow(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sym)
}

func (s *Server) listModifications(c *gin.Context) {
	mods, err := s.Engine.Modifications(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, mods)
}

func (s *Server) refreshHMA(c *gin.Context) {
	var req refreshHMARequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	if req.Symbol == "" {
		req.Symbol = c.Query("symbol")
	}
	report, err := s.Engine.RefreshHMA(c.Request.Context(), strings.TrimSpace(req.Symbol))
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

// --- Orders ---

func (s *Server) cancelOrder(c *gin.Context) {
	if err := s.Engine.CancelOrder(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancel requested"})
}

func (s *Server) orderUpdate(c *gin.Context) {
	var u model.OrderUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	id := c.Param("id")
	if u.OrderID != "" && u.OrderID != id {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "orderId does not match path")
		return
	}
	u.OrderID = id
	if err := s.Engine.HandleOrderUpdate(c.Request.Context(), u); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "applied"})
}

// --- Positions and trades ---

func (s *Server) listPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Positions(c.Request.Context()))
}

func (s *Server) exitPosition(c *gin.Context) {
	if err := s.Engine.ExitPosition(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "exit requested"})
}

func (s *Server) listTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()
	trades, err := s.Engine.ClosedTrades(c.Request.Context(), q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}
