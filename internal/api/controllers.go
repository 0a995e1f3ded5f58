package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signal-core/internal/apperr"
	"signal-core/internal/order"
	"signal-core/internal/reconciliation"
	"signal-core/internal/settlement"
	"signal-core/internal/stops"
	"signal-core/internal/trigger"
	"signal-core/pkg/db"

	"github.com/gin-gonic/gin"
)

type listOrdersQuery struct {
	SignalID string `form:"signal_id"`
	Limit    int    `form:"limit"`
}

type listPositionsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

type redeemRequest struct {
	Token string `json:"token" form:"token"`
}

type updateStopsRequest struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// respondFailure writes the uniform error body.
func respondFailure(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"success": false,
		"code":    code,
		"error":   msg,
		"message": msg,
	})
}

// respondError maps a service error to its HTTP status.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("❌ [API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	respondFailure(c, status, strings.ToUpper(string(kind)), err.Error())
}

// submitSignal fans a signal out into its entries.
func (s *Server) submitSignal(c *gin.Context) {
	var req order.SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	res, err := s.Services.Executor.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		*order.FanOutResult
	}{true, "signal accepted", res})
}

// redeemAction executes an open_position or cancel_order token. The token
// comes from the query string (one-tap links) or a JSON body.
func (s *Server) redeemAction(c *gin.Context) {
	var req redeemRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondFailure(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
			return
		}
	} else {
		req.Token = c.Query("token")
	}
	if req.Token == "" {
		respondFailure(c, http.StatusBadRequest, "MISSING_TOKEN", "token is required")
		return
	}
	res, err := s.Services.Actions.Redeem(c.Request.Context(), req.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// tick runs one price trigger evaluation pass.
func (s *Server) tick(c *gin.Context) {
	report, err := s.Services.Evaluator.Tick(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, struct {
		Success bool `json:"success"`
		*trigger.TickReport
	}{true, report})
}

// reconcile sweeps every OPEN position against the exchange.
func (s *Server) reconcile(c *gin.Context) {
	sweep, err := s.Services.Reconciler.ReconcileOpen(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, struct {
		Success bool `json:"success"`
		*reconciliation.SweepReport
	}{true, sweep})
}

func (s *Server) closePosition(c *gin.Context) {
	var req settlement.CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	res, err := s.Services.Settlement.Close(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) updateStops(c *gin.Context) {
	var req updateStopsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	res, err := s.Services.Stops.UpdateStops(c.Request.Context(), c.Param("id"), req.StopLoss, req.TakeProfit)
	s.writeStops(c, res, err)
}

func (s *Server) moveToBreakeven(c *gin.Context) {
	res, err := s.Services.Stops.MoveToBreakeven(c.Request.Context(), c.Param("id"))
	s.writeStops(c, res, err)
}

func (s *Server) writeStops(c *gin.Context, res *stops.Result, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// getOrders returns recent orders, optionally for one signal.
func (s *Server) getOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondFailure(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.Limit = normalizeLimit(q.Limit, 100, 500)

	orders, err := s.DB.ListOrders(c.Request.Context(), q.SignalID, q.Limit)
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, toOrderViews(orders))
}

// getPositions returns positions filtered by status.
func (s *Server) getPositions(c *gin.Context) {
	var q listPositionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondFailure(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.Status = strings.ToUpper(q.Status)
	if q.Status != "" && q.Status != db.PositionOpen && q.Status != db.PositionClosed {
		respondFailure(c, http.StatusBadRequest, "INVALID_QUERY", "status must be OPEN or CLOSED")
		return
	}
	q.Limit = normalizeLimit(q.Limit, 100, 500)

	positions, err := s.DB.ListPositions(c.Request.Context(), q.Status, q.Limit)
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, toPositionViews(positions))
}

// getSignal returns a signal with its orders, positions and watchlist rows.
func (s *Server) getSignal(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	sig, err := s.DB.GetSignal(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		respondFailure(c, http.StatusNotFound, "NOT_FOUND", "signal not found")
		return
	}
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	orders, err := s.DB.ListOrders(ctx, id, 50)
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	positions, err := s.DB.ListSignalPositions(ctx, id)
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	watch, err := s.DB.ListWatchlistBySignal(ctx, id)
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"signal":    toSignalView(*sig),
		"orders":    toOrderViews(orders),
		"positions": toPositionViews(positions),
		"watchlist": toWatchViews(watch),
	})
}

// getSourceStats returns win/loss counters for a signal source.
func (s *Server) getSourceStats(c *gin.Context) {
	st, err := s.DB.GetSourceStats(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		respondFailure(c, http.StatusNotFound, "NOT_FOUND", "no closed signals for source")
		return
	}
	if err != nil {
		respondFailure(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"source_id":     st.SourceID,
		"total_signals": st.TotalSignals,
		"wins":          st.Wins,
		"losses":        st.Losses,
		"breakevens":    st.Breakevens,
		"total_pnl":     st.TotalPnL,
		"updated_at":    st.UpdatedAt.UTC().Format(time.RFC3339),
	})
}
