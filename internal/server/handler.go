package server

import (
	"net/http"
	"strconv"

	"marketsync/internal/fetcher"
	"marketsync/internal/logger"
	"marketsync/internal/tracker"
	"marketsync/internal/types"

	"github.com/gin-gonic/gin"
)

const defaultSparklineLimit = 30

// Reader is the read side of the tracker.
type Reader interface {
	View(symbol, resolution string) (tracker.View, bool)
	Prices() map[string]types.SymbolPriceState
	Price(symbol string) (types.SymbolPriceState, bool)
	Sparkline(key fetcher.Key) (fetcher.Snapshot, bool)
	ConnectionState() types.ConnectionState
}

type Handler struct {
	reader Reader
}

func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/quote", h.GetQuote)
	r.GET("/candles", h.GetCandles)
	r.GET("/prices", h.GetPrices)
	r.GET("/prices/:symbol", h.GetPrice)
	r.GET("/sparkline", h.GetSparkline)
}

func (h *Handler) view(c *gin.Context) (tracker.View, bool) {
	symbol := c.Query("symbol")
	resolution := c.Query("resolution")
	if symbol == "" || resolution == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and resolution are required"})
		return tracker.View{}, false
	}

	v, ok := h.reader.View(symbol, resolution)
	if !ok {
		logger.Debug(c.Request.Context(), "View not tracked", "symbol", symbol, "resolution", resolution)
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol/resolution is not tracked"})
		return tracker.View{}, false
	}
	return v, true
}

// GetQuote returns the quote with its interval comparison table.
func (h *Handler) GetQuote(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":  v.Symbol,
		"loading": v.Loading,
		"error":   v.Error,
		"data":    v.Quote,
	})
}

func (h *Handler) GetCandles(c *gin.Context) {
	v, ok := h.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": v})
}

func (h *Handler) GetPrices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.reader.Prices()})
}

func (h *Handler) GetPrice(c *gin.Context) {
	symbol := c.Param("symbol")
	s, ok := h.reader.Price(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no price for " + symbol})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s})
}

func (h *Handler) GetSparkline(c *gin.Context) {
	symbol := c.Query("symbol")
	interval := c.Query("interval")
	if symbol == "" || interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and interval are required"})
		return
	}

	limit := defaultSparklineLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	snap, ok := h.reader.Sparkline(fetcher.Key{Symbol: symbol, Interval: interval, Limit: limit})
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sparkline is not tracked"})
		return
	}

	resp := gin.H{"data": snap}
	if snap.Err != nil {
		resp["error"] = snap.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Health(c *gin.Context) {
	state := h.reader.ConnectionState()
	status := http.StatusOK
	if state != types.Open {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"stream": state.String()})
}
