package judgment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/streamguard/streamguard/internal/audit"
	"github.com/streamguard/streamguard/internal/completeness"
	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/lookup"
	"github.com/streamguard/streamguard/internal/validation"
)

// Handler provides HTTP endpoints for judging transactions and reading the
// audit trail.
type Handler struct {
	service *Service
	audit   audit.Store
}

// NewHandler creates a judgment handler. auditStore may be nil, in which case
// the audit read endpoints answer 404.
func NewHandler(service *Service, auditStore audit.Store) *Handler {
	return &Handler{service: service, audit: auditStore}
}

// RegisterRoutes sets up judgment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/judgments", h.Judge)
	r.POST("/judgments/decide", h.Decide)
	r.POST("/judgments/validate", h.Validate)
	r.GET("/judgments", h.List)
	r.GET("/judgments/:id", h.Get)
	r.GET("/transactions/:id/judgments", h.ListByTransaction)
	r.GET("/transactions/:id/facts", h.Facts)
}

// ValidateRequest carries an external judgment and the investigation it was
// made from.
type ValidateRequest struct {
	Investigation *facts.InvestigationReport `json:"investigation"`
	Judgment      *facts.JudgmentDecision    `json:"judgment"`
}

// Judge handles POST /v1/judgments
func (h *Handler) Judge(c *gin.Context) {
	var req lookup.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "transaction_id is required"})
		return
	}
	req.TransactionID = validation.SanitizeString(req.TransactionID, 128)
	if req.TransactionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "transaction_id is required"})
		return
	}

	res, err := h.service.Judge(c.Request.Context(), req)
	if err != nil {
		respondFailure(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Decide handles POST /v1/judgments/decide. The investigation is supplied by
// the caller instead of being gathered.
func (h *Handler) Decide(c *gin.Context) {
	var inv facts.InvestigationReport
	if err := c.ShouldBindJSON(&inv); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid investigation body"})
		return
	}
	if err := inv.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, validation.ErrorBody(err))
		return
	}

	res, err := h.service.Decide(c.Request.Context(), &inv)
	if err != nil {
		respondFailure(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Validate handles POST /v1/judgments/validate
func (h *Handler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Investigation == nil || req.Judgment == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "investigation and judgment are required"})
		return
	}
	if err := req.Investigation.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, validation.ErrorBody(err))
		return
	}
	if err := req.Judgment.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, validation.ErrorBody(err))
		return
	}

	v := h.service.Validate(c.Request.Context(), req.Investigation, req.Judgment)
	c.JSON(http.StatusOK, gin.H{
		"consistent":    v.Report.Consistent(),
		"report":        v.Report,
		"audit_id":      v.AuditID,
		"warning_count": len(v.Report.Warnings()),
	})
}

// Facts handles GET /v1/transactions/:id/facts
func (h *Handler) Facts(c *gin.Context) {
	req := lookup.Request{
		TransactionID: c.Param("id"),
		UserID:        c.Query("user_id"),
		BeneficiaryID: c.Query("beneficiary_id"),
	}
	g, err := h.service.Gather(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gather_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, g)
}

// List handles GET /v1/judgments
func (h *Handler) List(c *gin.Context) {
	if !h.auditEnabled(c) {
		return
	}
	limit := parseLimit(c)
	source := audit.Source(c.Query("source"))
	if source != "" && !source.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_source", "message": "source must be engine, external or fallback"})
		return
	}
	cursor, err := audit.DecodeCursor(c.Query("cursor"), source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}

	entries, err := h.audit.List(c.Request.Context(), audit.ListQuery{Limit: limit + 1, Source: source, After: cursor})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list judgments"})
		return
	}
	entries, next := audit.Paginate(entries, limit, source)
	if entries == nil {
		entries = []*audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"judgments":   entries,
		"count":       len(entries),
		"next_cursor": next,
		"has_more":    next != "",
	})
}

// Get handles GET /v1/judgments/:id
func (h *Handler) Get(c *gin.Context) {
	if !h.auditEnabled(c) {
		return
	}
	entry, err := h.audit.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "judgment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load judgment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"judgment": entry})
}

// ListByTransaction handles GET /v1/transactions/:id/judgments
func (h *Handler) ListByTransaction(c *gin.Context) {
	if !h.auditEnabled(c) {
		return
	}
	entries, err := h.audit.ListByTransaction(c.Request.Context(), c.Param("id"), parseLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list judgments"})
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"judgments": entries, "count": len(entries)})
}

func (h *Handler) auditEnabled(c *gin.Context) bool {
	if h.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit_disabled", "message": "judgment audit is disabled"})
		return false
	}
	return true
}

func respondFailure(c *gin.Context, res *Result, err error) {
	var incomplete *completeness.IncompleteError
	switch {
	case errors.Is(err, lookup.ErrNoTransaction):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.As(err, &incomplete):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    "incomplete_investigation",
			"message":  err.Error(),
			"missing":  incomplete.Missing,
			"judgment": res.Judgment,
			"audit_id": res.AuditID,
		})
	default:
		body := gin.H{"error": "judgment_failed", "message": err.Error()}
		if res != nil {
			body["judgment"] = res.Judgment
			body["audit_id"] = res.AuditID
		}
		c.JSON(http.StatusServiceUnavailable, body)
	}
}

func parseLimit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	return limit
}
