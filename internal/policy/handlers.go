package policy

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/validation"
)

// Handler provides HTTP endpoints for inspecting and editing the rule set.
type Handler struct {
	engine *Engine
	store  Store
	logger *slog.Logger
}

// NewHandler creates a new policy handler. store may be nil, in which case
// edits only live in memory.
func NewHandler(engine *Engine, store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, store: store, logger: logger}
}

// RegisterRoutes sets up policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/policies", h.List)
	r.GET("/policies/:priority", h.Get)
	r.PUT("/policies/:priority", h.Put)
	r.DELETE("/policies/:priority", h.Delete)
	r.POST("/policies/evaluate", h.Evaluate)
}

func parsePriority(c *gin.Context) (Priority, bool) {
	n, err := strconv.Atoi(c.Param("priority"))
	if err != nil || !Priority(n).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_priority", "message": "priority must be an integer 1-5"})
		return 0, false
	}
	return Priority(n), true
}

// List handles GET /v1/policies
func (h *Handler) List(c *gin.Context) {
	rules := h.engine.Rules()
	c.JSON(http.StatusOK, gin.H{"policies": rules, "count": len(rules)})
}

// Get handles GET /v1/policies/:priority
func (h *Handler) Get(c *gin.Context) {
	p, ok := parsePriority(c)
	if !ok {
		return
	}
	r, found := h.engine.Rule(p)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "policy not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": r})
}

// Put handles PUT /v1/policies/:priority. The path priority wins over any
// priority in the body.
func (h *Handler) Put(c *gin.Context) {
	p, ok := parsePriority(c)
	if !ok {
		return
	}

	var r Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid rule body"})
		return
	}
	r.Priority = p
	r.Name = validation.SanitizeString(r.Name, 200)

	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rule", "message": err.Error()})
		return
	}
	if h.store != nil {
		if err := h.store.Save(c.Request.Context(), r); err != nil {
			h.logger.Error("failed to persist policy", "policy", int(p), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to save policy"})
			return
		}
	}
	if err := h.engine.AddRule(r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rule", "message": err.Error()})
		return
	}

	h.logger.Info("policy updated", "policy", int(p), "name", r.Name)
	if effective, found := h.engine.Rule(p); found {
		r = effective
	}
	c.JSON(http.StatusOK, gin.H{"policy": r})
}

// Delete handles DELETE /v1/policies/:priority. Deleting a missing rule
// succeeds with removed=false.
func (h *Handler) Delete(c *gin.Context) {
	p, ok := parsePriority(c)
	if !ok {
		return
	}
	if h.store != nil {
		if err := h.store.Delete(c.Request.Context(), p); err != nil && !errors.Is(err, ErrRuleNotFound) {
			h.logger.Error("failed to delete policy", "policy", int(p), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete policy"})
			return
		}
	}
	removed := h.engine.RemoveRule(p)
	if removed {
		h.logger.Info("policy removed", "policy", int(p))
	}
	c.JSON(http.StatusOK, gin.H{"priority": int(p), "removed": removed})
}

// Evaluate handles POST /v1/policies/evaluate. It runs the engine against a
// submitted investigation without recording anything.
func (h *Handler) Evaluate(c *gin.Context) {
	var inv facts.InvestigationReport
	if err := c.ShouldBindJSON(&inv); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid investigation body"})
		return
	}
	if err := inv.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, validation.ErrorBody(err))
		return
	}

	matching := h.engine.Matching(&inv)
	if matching == nil {
		matching = []Priority{}
	}
	c.JSON(http.StatusOK, gin.H{
		"judgment": h.engine.Decide(&inv),
		"matching": matching,
	})
}
