package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vermlabs/sentinel/internal/logging"
	"github.com/vermlabs/sentinel/internal/pagination"
	"github.com/vermlabs/sentinel/internal/threat"
	"github.com/vermlabs/sentinel/internal/traces"
	"github.com/vermlabs/sentinel/internal/validation"
)

const (
	defaultScanPageSize = 20
	maxScanPageSize     = 100
)

// -----------------------------------------------------------------------------
// Scanning
// -----------------------------------------------------------------------------

// scanHandler handles POST /v1/scan: evaluate the full pattern catalog and
// every loaded detector against one analysis bundle.
func (s *Server) scanHandler(c *gin.Context) {
	var bundle threat.ContractAnalysisBundle
	if err := c.ShouldBindJSON(&bundle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}
	bundle.Address = validation.SanitizeAddress(bundle.Address)

	ctx, span := traces.StartSpan(c.Request.Context(), "threat.scan",
		traces.ContractAddr(bundle.Address),
		traces.Network(bundle.Network),
	)
	defer span.End()

	report, err := s.engine.AnalyzeContract(ctx, &bundle)
	if err != nil {
		if errors.Is(err, threat.ErrInvalidBundle) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_bundle",
				"message": err.Error(),
			})
			return
		}
		logging.L(ctx).Error("scan failed", "address", bundle.Address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "scan_failed",
			"message": "Scan failed",
		})
		return
	}

	span.SetAttributes(
		traces.ScanID(report.ID),
		traces.FindingCount(len(report.Findings)),
		traces.CompositeScore(report.Profile.Score),
	)

	// scan_completed goes straight to the hub; per-finding threat_detected
	// events already flowed through the bus during evaluation
	s.hub.BroadcastScan(report)

	c.JSON(http.StatusOK, report)
}

// -----------------------------------------------------------------------------
// Scan audit trail
// -----------------------------------------------------------------------------

// listScansHandler handles GET /v1/scans with cursor pagination.
// Filters: ?address=0x...&network=mainnet&cursor=...&limit=20
func (s *Server) listScansHandler(c *gin.Context) {
	limit := defaultScanPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		if n > maxScanPageSize {
			n = maxScanPageSize
		}
		limit = n
	}

	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	q := threat.ScanQuery{
		Network: c.Query("network"),
		Limit:   limit + 1, // fetch one extra to detect a next page
	}
	if addr := c.Query("address"); addr != "" {
		addr = validation.SanitizeAddress(addr)
		if !validation.IsValidEthAddress(addr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
			})
			return
		}
		q.Address = addr
	}
	if cur != nil {
		q.Before = cur.CreatedAt
		q.BeforeID = cur.ID
	}

	scans, err := s.store.ListScans(c.Request.Context(), q)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list scans", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list scans",
		})
		return
	}

	page, next, more := pagination.ComputePage(scans, limit, func(r *threat.ScanReport) (time.Time, string) {
		return r.CreatedAt, r.ID
	})
	if page == nil {
		page = []*threat.ScanReport{}
	}

	c.JSON(http.StatusOK, gin.H{
		"scans":      page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// getScanHandler handles GET /v1/scans/:id
func (s *Server) getScanHandler(c *gin.Context) {
	report, err := s.store.GetScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, threat.ErrScanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "scan_not_found",
				"message": "No scan with that ID",
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to get scan", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load scan",
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

// -----------------------------------------------------------------------------
// Pattern catalog
// -----------------------------------------------------------------------------

// listPatternsHandler handles GET /v1/patterns?category=...&severity=...
func (s *Server) listPatternsHandler(c *gin.Context) {
	patterns := s.engine.ListAllPatterns()

	if raw := c.Query("category"); raw != "" {
		cat := threat.Category(raw)
		if !cat.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_category",
				"message": "Unknown category: " + raw,
			})
			return
		}
		patterns = s.engine.ListPatternsByCategory(cat)
	}

	if raw := c.Query("severity"); raw != "" {
		sev := threat.Severity(raw)
		if !sev.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_severity",
				"message": "Unknown severity: " + raw,
			})
			return
		}
		var filtered []threat.ThreatPattern
		for _, p := range patterns {
			if p.Severity == sev {
				filtered = append(filtered, p)
			}
		}
		patterns = filtered
	}

	if patterns == nil {
		patterns = []threat.ThreatPattern{}
	}
	c.JSON(http.StatusOK, gin.H{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// getPatternHandler handles GET /v1/patterns/:id
func (s *Server) getPatternHandler(c *gin.Context) {
	p, err := s.engine.GetPatternByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "pattern_not_found",
			"message": "No pattern with that ID",
		})
		return
	}
	c.JSON(http.StatusOK, p)
}

// createPatternHandler handles POST /v1/patterns (admin).
// Custom pattern IDs are restricted to [a-z0-9_-] so they can never
// collide with the detector: and meta: namespaces.
func (s *Server) createPatternHandler(c *gin.Context) {
	var p threat.ThreatPattern
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if verrs := validation.Validate(
		validation.Required("id", p.ID),
		validation.ValidPatternID("id", p.ID),
		validation.Required("name", p.Name),
		validation.ValidConfidence("confidence", p.Confidence),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": verrs,
		})
		return
	}

	if err := s.engine.AddCustomPattern(p); err != nil {
		if errors.Is(err, threat.ErrDuplicatePattern) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "pattern_exists",
				"message": "A pattern with this ID is already registered",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_pattern",
			"message": err.Error(),
		})
		return
	}

	logging.L(c.Request.Context()).Info("custom pattern registered",
		"pattern_id", p.ID, "severity", p.Severity, "category", p.Category)
	c.JSON(http.StatusCreated, p)
}

// updatePatternHandler handles PATCH /v1/patterns/:id (admin).
// Only the fields present in the body are changed.
func (s *Server) updatePatternHandler(c *gin.Context) {
	id := c.Param("id")

	var upd threat.PatternUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if _, err := s.engine.GetPatternByID(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "pattern_not_found",
			"message": "No pattern with that ID",
		})
		return
	}

	if !s.engine.UpdatePattern(id, upd) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_update",
			"message": "Update rejected: merged pattern failed validation",
		})
		return
	}

	p, _ := s.engine.GetPatternByID(id)
	c.JSON(http.StatusOK, p)
}

// -----------------------------------------------------------------------------
// Stats & health
// -----------------------------------------------------------------------------

// statsHandler handles GET /v1/stats
func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"detection":     s.engine.GetDetectionStats(),
		"realtime":      s.hub.Stats(),
		"eventsDropped": s.bus.Dropped(),
	})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	stats := s.engine.GetDetectionStats()
	c.JSON(http.StatusOK, gin.H{
		"name":        "Sentinel",
		"description": "Threat-pattern detection and risk scoring for on-chain contracts",
		"version":     "0.1.0",
		"patterns":    stats.TotalPatterns,
		"detectors":   stats.LoadedDetectors,
	})
}
