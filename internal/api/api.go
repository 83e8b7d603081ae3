// Package api is the HTTP control surface of the exchange: public board
// reads for the displays, and the bar's mutations (sales, manual prices,
// locks, crash mode).
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/tapmarket/internal/engine"
	"github.com/rewired-gh/tapmarket/internal/logger"
	"github.com/rewired-gh/tapmarket/internal/metrics"
	"github.com/rewired-gh/tapmarket/internal/models"
	"github.com/rewired-gh/tapmarket/internal/pricing"
	"github.com/rewired-gh/tapmarket/internal/scheduler"
	"github.com/rewired-gh/tapmarket/internal/storage"
)

// CrashNotifier is told when crash mode is switched.
type CrashNotifier interface {
	SendCrash(crash bool, at time.Time) error
}

// Options configures the router.
type Options struct {
	TickInterval time.Duration
	TickLead     time.Duration
	SalesWindow  time.Duration
	HistoryLimit int
	QueryTimeout time.Duration

	Metrics     *metrics.Metrics
	MetricsPath string
	Feed        http.Handler
	Notifier    CrashNotifier

	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler serves the API.
type Handler struct {
	store  *storage.Store
	engine *engine.Engine
	opts   Options
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(store *storage.Store, eng *engine.Engine, opts Options) *gin.Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 1500
	}
	h := &Handler{store: store, engine: eng, opts: opts}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/health", h.Health)
	r.GET("/config", h.GetConfig)

	// Public board
	r.GET("/drinks", h.ListDrinks)
	r.GET("/market", h.GetMarket)
	r.GET("/ticker", h.GetTicker)
	r.GET("/history/:id", h.GetHistory)
	r.GET("/sales", h.ListSales)
	if opts.Feed != nil {
		r.GET("/ws", gin.WrapH(opts.Feed))
	}
	if opts.Metrics != nil && opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(opts.Metrics.Handler()))
	}

	// Bar mutations
	r.POST("/sales", h.LogSale)
	r.POST("/set-price/:id", h.SetPrice)
	r.POST("/lock-drink/:id", h.LockDrink)
	r.POST("/market/crash/:state", h.SetCrash)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (h *Handler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.opts.QueryTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.opts.QueryTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

// fail maps store errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "drink not found"})
	case errors.Is(err, storage.ErrOutOfBand):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Error("%s: %v", what, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": what})
	}
}

func drinkID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid drink id"})
		return 0, false
	}
	return id, true
}

// Health reports whether the database answers.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logger.Warn("Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	c.String(http.StatusOK, "ok")
}

// GetConfig tells displays how to align their countdown with the ticks.
func (h *Handler) GetConfig(c *gin.Context) {
	_, boundary := scheduler.NextFire(h.opts.Now(), h.opts.TickInterval, h.opts.TickLead)
	c.JSON(http.StatusOK, gin.H{
		"interval":         h.opts.TickInterval.Milliseconds(),
		"sales_window_min": h.opts.SalesWindow.Minutes(),
		"next_tick":        boundary.UnixMilli(),
	})
}

// ListDrinks returns every drink with its current price.
func (h *Handler) ListDrinks(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	drinks, err := h.store.ListDrinks(ctx)
	if err != nil {
		h.fail(c, err, "database query failed")
		return
	}
	views := make([]models.DrinkView, 0, len(drinks))
	for _, d := range drinks {
		views = append(views, d.View())
	}
	c.JSON(http.StatusOK, views)
}

// GetMarket returns the crash flag.
func (h *Handler) GetMarket(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	status, err := h.store.MarketStatus(ctx)
	if err != nil {
		h.fail(c, err, "database query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": 1, "crash": status.Crash, "updated_at": status.UpdatedAt})
}

type dropView struct {
	models.DrinkView
	Drop      float64 `json:"drop"`
	DropCents int64   `json:"drop_cents"`
}

// GetTicker lists the drinks of a category trading furthest below base
// price. Defaults to alcoholic drinks, the ones the ticker tape shows.
func (h *Handler) GetTicker(c *gin.Context) {
	category := models.CategoryAlcoholic
	if raw := c.Query("category"); raw != "" {
		parsed, err := models.ParseCategory(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		category = parsed
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	ctx, cancel := h.ctx(c)
	defer cancel()
	drinks, err := h.store.ListDrinks(ctx)
	if err != nil {
		h.fail(c, err, "database query failed")
		return
	}

	drops := pricing.StrongestDrops(drinks, category, limit)
	out := make([]dropView, 0, len(drops))
	for _, d := range drops {
		out = append(out, dropView{DrinkView: d.Drink.View(), Drop: d.Amount.Float(), DropCents: int64(d.Amount)})
	}
	c.JSON(http.StatusOK, out)
}

type pointView struct {
	Price      float64 `json:"price"`
	PriceCents int64   `json:"price_cents"`
	TS         int64   `json:"ts"`
	Source     string  `json:"source"`
}

// GetHistory returns a drink's recent price points, oldest first.
func (h *Handler) GetHistory(c *gin.Context) {
	id, ok := drinkID(c)
	if !ok {
		return
	}
	limit := h.opts.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if n < limit {
			limit = n
		}
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	if _, err := h.store.GetDrink(ctx, id); err != nil {
		h.fail(c, err, "database query failed")
		return
	}
	points, err := h.store.PriceHistory(ctx, id, limit)
	if err != nil {
		h.fail(c, err, "database query failed")
		return
	}
	out := make([]pointView, 0, len(points))
	for _, p := range points {
		out = append(out, pointView{Price: p.Price.Float(), PriceCents: int64(p.Price), TS: p.At.UnixMilli(), Source: p.Source})
	}
	c.JSON(http.StatusOK, out)
}

type saleView struct {
	ID      int64 `json:"id"`
	DrinkID int64 `json:"drink_id"`
	Qty     int   `json:"qty"`
	TS      int64 `json:"ts"`
}

// ListSales returns the ledger since ?since= (unix milliseconds), or the last
// 24 hours.
func (h *Handler) ListSales(c *gin.Context) {
	since := h.opts.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		since = time.UnixMilli(ms)
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	sales, err := h.store.ListSales(ctx, since)
	if err != nil {
		h.fail(c, err, "database query failed")
		return
	}
	out := make([]saleView, 0, len(sales))
	for _, s := range sales {
		out = append(out, saleView{ID: s.ID, DrinkID: s.DrinkID, Qty: s.Qty, TS: s.At.UnixMilli()})
	}
	c.JSON(http.StatusOK, out)
}

type saleRequest struct {
	DrinkID *int64 `json:"drink_id"`
	Qty     *int   `json:"qty"`
}

// LogSale appends a sale to the ledger. qty defaults to 1.
func (h *Handler) LogSale(c *gin.Context) {
	var req saleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.DrinkID == nil || *req.DrinkID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid drink_id"})
		return
	}
	qty := 1
	if req.Qty != nil {
		qty = *req.Qty
	}
	if qty <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid qty"})
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	sale, err := h.store.LogSale(ctx, models.Sale{DrinkID: *req.DrinkID, Qty: qty, At: h.opts.Now()})
	if err != nil {
		h.fail(c, err, "failed to log sale")
		return
	}
	h.opts.Metrics.Sale(sale.DrinkID, sale.Qty)
	c.JSON(http.StatusOK, gin.H{"success": true, "id": sale.ID})
}

type priceRequest struct {
	Price *float64 `json:"price"`
}

// SetPrice overrides a drink's price. The price must lie inside the band.
func (h *Handler) SetPrice(c *gin.Context) {
	id, ok := drinkID(c)
	if !ok {
		return
	}
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Price == nil || *req.Price <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}

	now := h.opts.Now()
	ctx, cancel := h.ctx(c)
	defer cancel()
	d, err := h.store.SetPrice(ctx, id, models.CentsFromFloat(*req.Price), now)
	if err != nil {
		h.fail(c, err, "failed to set price")
		return
	}
	logger.Info("Manual price for %s (%d): %s", d.Name, d.ID, d.Price)
	h.engine.Broadcast(ctx, now)
	c.JSON(http.StatusOK, gin.H{"success": true, "price": d.Price.Float()})
}

type lockRequest struct {
	Locked *bool `json:"locked"`
}

// LockDrink freezes or releases a drink's price.
func (h *Handler) LockDrink(c *gin.Context) {
	id, ok := drinkID(c)
	if !ok {
		return
	}
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Locked == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid locked value, must be boolean"})
		return
	}

	now := h.opts.Now()
	ctx, cancel := h.ctx(c)
	defer cancel()
	d, err := h.store.SetLocked(ctx, id, *req.Locked, now)
	if err != nil {
		h.fail(c, err, "failed to update drink lock status")
		return
	}
	logger.Info("Drink %s (%d) locked=%v", d.Name, d.ID, d.Locked)
	h.engine.Broadcast(ctx, now)
	c.JSON(http.StatusOK, gin.H{"success": true, "drink_id": d.ID, "locked": d.Locked, "timestamp": d.LockChangedAt})
}

// SetCrash switches crash mode. Anything but a boolean is rejected.
func (h *Handler) SetCrash(c *gin.Context) {
	crash, err := strconv.ParseBool(c.Param("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be true or false"})
		return
	}

	now := h.opts.Now()
	ctx, cancel := h.ctx(c)
	defer cancel()
	status, err := h.store.SetCrash(ctx, crash, now)
	if err != nil {
		h.fail(c, err, "failed to update market")
		return
	}
	logger.Info("Crash mode set to %v", status.Crash)
	h.engine.Broadcast(ctx, now)

	if h.opts.Notifier != nil {
		notifier := h.opts.Notifier
		go func() {
			if err := notifier.SendCrash(crash, now); err != nil {
				logger.Warn("Failed to send crash notification to Telegram: %v", err)
			}
		}()
	}
	c.JSON(http.StatusOK, gin.H{"crash": status.Crash})
}
