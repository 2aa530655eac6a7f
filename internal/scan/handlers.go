package scan

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/approvalguard/internal/validation"
)

// Handler provides HTTP endpoints for wallet scans.
type Handler struct {
	service *Service
}

// NewHandler creates a new scan handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up scan routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/scans", h.CreateScan)
	r.GET("/scans/:id", h.GetScan)
	r.GET("/wallets/:address/report", h.GetWalletReport)
	r.GET("/wallets/:address/reports", h.ListWalletReports)
	r.GET("/wallets/:address/approvals", h.ListWalletApprovals)
}

// CreateScan handles POST /v1/scans
func (h *Handler) CreateScan(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("owner", req.Owner),
		validation.ValidAddress("owner", req.Owner),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	report, err := h.service.Scan(c.Request.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		code := "scan_failed"
		switch {
		case errors.Is(err, ErrInvalidOwner):
			status = http.StatusBadRequest
			code = "invalid_owner"
		case errors.Is(err, ErrInvalidRange):
			status = http.StatusBadRequest
			code = "invalid_range"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetScan handles GET /v1/scans/:id
func (h *Handler) GetScan(c *gin.Context) {
	report, err := h.service.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrReportNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Scan report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetWalletReport handles GET /v1/wallets/:address/report
func (h *Handler) GetWalletReport(c *gin.Context) {
	report, err := h.service.LatestReport(c.Request.Context(), c.Param("address"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidOwner):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner", "message": err.Error()})
		case errors.Is(err, ErrReportNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No report for this wallet; run a scan first"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListWalletReports handles GET /v1/wallets/:address/reports
func (h *Handler) ListWalletReports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	reports, next, hasMore, err := h.service.ListReports(
		c.Request.Context(), c.Param("address"), limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, ErrInvalidOwner) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner", "message": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports":     reports,
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

// ListWalletApprovals handles GET /v1/wallets/:address/approvals —
// the latest report's approvals, optionally filtered to revocation
// candidates with ?risky=true.
func (h *Handler) ListWalletApprovals(c *gin.Context) {
	report, err := h.service.LatestReport(c.Request.Context(), c.Param("address"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidOwner):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_owner", "message": err.Error()})
		case errors.Is(err, ErrReportNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No report for this wallet; run a scan first"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed", "message": err.Error()})
		}
		return
	}

	riskyOnly := c.Query("risky") == "true"
	recs := report.Recommendations
	if riskyOnly {
		filtered := recs[:0:0]
		for _, rec := range recs {
			if rec.ShouldRevoke {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"owner":           report.Owner,
		"generatedAt":     report.GeneratedAt,
		"summary":         report.Summary,
		"recommendations": recs,
	})
}
