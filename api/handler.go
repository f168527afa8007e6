// Package api serves the product registry and the price checks over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pricewatch/models"
	"pricewatch/monitor"
	"pricewatch/services"
	"pricewatch/storage"
)

// Trigger runs checks on demand.
type Trigger interface {
	TriggerAll(ctx context.Context) (*monitor.SweepResult, error)
	TriggerProduct(ctx context.Context, id string) (*monitor.Result, error)
}

// RunLister serves recorded sweeps, newest first.
type RunLister interface {
	RecentRuns(limit int) ([]models.CheckRun, error)
}

type Handler struct {
	products *services.ProductService
	alerts   *services.AlertService
	trigger  Trigger
	runs     RunLister
}

func NewHandler(products *services.ProductService, alerts *services.AlertService, trigger Trigger) *Handler {
	return &Handler{products: products, alerts: alerts, trigger: trigger}
}

// SetRuns enables the lastRun field of the health report.
func (h *Handler) SetRuns(runs RunLister) {
	h.runs = runs
}

// Router builds the gin engine with every route mounted under /api.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	h.Register(r.Group("/api"))
	return r
}

func (h *Handler) Register(api *gin.RouterGroup) {
	api.GET("/health", h.Health)

	api.GET("/products", h.ListProducts)
	api.POST("/products", h.CreateProduct)
	api.GET("/products/:id", h.GetProduct)
	api.PUT("/products/:id", h.UpdateProduct)
	api.DELETE("/products/:id", h.DeleteProduct)
	api.GET("/products/:id/history", h.GetPriceHistory)
	api.POST("/products/:id/check-price", h.CheckPrice)
	api.POST("/check-all-prices", h.CheckAllPrices)

	api.GET("/alerts", h.ListAlerts)
	api.DELETE("/alerts/:id", h.DeleteAlert)
}

func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC(),
	}
	if list, err := h.products.List(ctx); err == nil {
		resp["products"] = len(list)
	}
	if alerts, err := h.alerts.List(ctx); err == nil {
		resp["alerts"] = len(alerts)
	}
	if h.runs != nil {
		runs, err := h.runs.RecentRuns(1)
		if err != nil {
			log.Printf("[api] Health: recent runs: %v", err)
		} else if len(runs) > 0 {
			resp["lastRun"] = runs[0]
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListProducts(c *gin.Context) {
	list, err := h.products.List(c.Request.Context())
	if err != nil {
		respondError(c, "ListProducts", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) CreateProduct(c *gin.Context) {
	var input services.ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p, err := h.products.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, "CreateProduct", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProduct(c *gin.Context) {
	p, err := h.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "GetProduct", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateProduct(c *gin.Context) {
	var patch models.ProductPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p, err := h.products.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		respondError(c, "UpdateProduct", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProduct(c *gin.Context) {
	if err := h.products.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "DeleteProduct", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "product deleted"})
}

// GetPriceHistory answers [] for unknown products.
func (h *Handler) GetPriceHistory(c *gin.Context) {
	hist, err := h.products.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "GetPriceHistory", err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (h *Handler) CheckPrice(c *gin.Context) {
	res, err := h.trigger.TriggerProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "CheckPrice", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CheckAllPrices(c *gin.Context) {
	res, err := h.trigger.TriggerAll(c.Request.Context())
	if err != nil {
		respondError(c, "CheckAllPrices", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListAlerts(c *gin.Context) {
	alerts, err := h.alerts.List(c.Request.Context())
	if err != nil {
		respondError(c, "ListAlerts", err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) DeleteAlert(c *gin.Context) {
	if err := h.alerts.Clear(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "DeleteAlert", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "alert cleared"})
}

func respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, services.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("[api] %s error: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[api] %s %s %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
