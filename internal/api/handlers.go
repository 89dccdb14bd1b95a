package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/orchestrator"
	"zone-position-engine/internal/zone"
)

// OpportunitiesResponse groups every cross-zone opportunity at the current price
type OpportunitiesResponse struct {
	Price        float64                             `json:"price"`
	Balance      []*analysis.BalanceRecoveryAnalysis `json:"balance"`
	BalancePlans []*analysis.CrossZoneBalancePlan    `json:"balance_plans"`
	Cooperation  []analysis.CooperationOpportunity   `json:"cooperation"`
	SupportPlans []*coordinator.SupportPlan          `json:"support_plans"`
}

func (s *Server) currentPrice(c *gin.Context) (float64, bool) {
	if raw := c.Query("price"); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || price <= 0 {
			errorResponse(c, http.StatusBadRequest, "price must be a positive number")
			return 0, false
		}
		return price, true
	}
	return s.orch.Zones().CurrentPrice(), true
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// handleGetZones returns every active zone
func (s *Server) handleGetZones(c *gin.Context) {
	zones := s.orch.Zones().Zones()
	if zones == nil {
		zones = []*zone.Zone{}
	}
	successResponse(c, zones)
}

// handleGetZone returns one zone with its analysis
func (s *Server) handleGetZone(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "zone id must be an integer")
		return
	}
	z, ok := s.orch.Zones().Zone(id)
	if !ok {
		errorResponse(c, http.StatusNotFound, "zone not found")
		return
	}

	analyses := s.orch.Analyzer().AnalyzeAllZones(s.orch.Zones().CurrentPrice())
	successResponse(c, gin.H{
		"zone":     z,
		"analysis": analyses[id],
	})
}

// handleGetZoneSummary returns zone and coordination summaries
func (s *Server) handleGetZoneSummary(c *gin.Context) {
	successResponse(c, gin.H{
		"zones":        s.orch.Zones().Summary(),
		"coordination": s.orch.Coordinator().Summary(),
	})
}

// handleGetAnalysis returns per-zone analyses ordered by zone id
func (s *Server) handleGetAnalysis(c *gin.Context) {
	price, ok := s.currentPrice(c)
	if !ok {
		return
	}
	analyses := s.orch.Analyzer().AnalyzeAllZones(price)
	successResponse(c, gin.H{
		"price":    price,
		"analyses": analysis.SortedAnalyses(analyses),
		"table":    orchestrator.BuildZoneRows(s.orch.Zones(), analyses),
	})
}

// handleGetOpportunities returns balance, cooperation and support opportunities
func (s *Server) handleGetOpportunities(c *gin.Context) {
	price, ok := s.currentPrice(c)
	if !ok {
		return
	}
	an := s.orch.Analyzer()
	balance := an.DetectBalanceRecoveryOpportunities(price)

	resp := OpportunitiesResponse{
		Price:        price,
		Balance:      balance,
		BalancePlans: s.orch.Coordinator().AnalyzeBalanceRecoveryOpportunities(price),
		Cooperation:  an.FindCooperationOpportunities(balance),
		SupportPlans: s.orch.Coordinator().AnalyzeSupportOpportunities(price),
	}
	if resp.Balance == nil {
		resp.Balance = []*analysis.BalanceRecoveryAnalysis{}
	}
	if resp.BalancePlans == nil {
		resp.BalancePlans = []*analysis.CrossZoneBalancePlan{}
	}
	if resp.Cooperation == nil {
		resp.Cooperation = []analysis.CooperationOpportunity{}
	}
	if resp.SupportPlans == nil {
		resp.SupportPlans = []*coordinator.SupportPlan{}
	}
	successResponse(c, resp)
}

// handleGetPlans returns the plan registry
func (s *Server) handleGetPlans(c *gin.Context) {
	coord := s.orch.Coordinator()
	records := coord.Registry().Records()
	if status := c.Query("status"); status != "" {
		filtered := records[:0]
		for _, r := range records {
			if string(r.Status) == status {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []coordinator.PlanRecord{}
	}
	successResponse(c, gin.H{
		"plans":   records,
		"summary": coord.Summary(),
	})
}

// handleGetDecisions returns recent in-memory decisions and counters
func (s *Server) handleGetDecisions(c *gin.Context) {
	decisions := s.orch.GetRecentDecisions(queryLimit(c, 20, 100))
	if decisions == nil {
		decisions = []*orchestrator.CloseDecision{}
	}
	successResponse(c, gin.H{
		"decisions": decisions,
		"stats":     s.orch.GetStats(),
	})
}

// handleGetLatestDecision returns the most recent decision
func (s *Server) handleGetLatestDecision(c *gin.Context) {
	d, ok := s.orch.LastDecision()
	if !ok {
		errorResponse(c, http.StatusNotFound, "no decision has been made yet")
		return
	}
	successResponse(c, d)
}

// handleGetJournalDecisions returns journaled decisions
func (s *Server) handleGetJournalDecisions(c *gin.Context) {
	if s.journal == nil {
		errorResponse(c, http.StatusServiceUnavailable, "decision journal is not enabled")
		return
	}
	closesOnly := c.Query("closes") == "true"
	recs, err := s.journal.GetRecentDecisions(c.Request.Context(), queryLimit(c, 50, 500), closesOnly)
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to read decision journal")
		return
	}
	successResponse(c, recs)
}

// handleGetJournalExecutions returns the executions of one journaled decision
func (s *Server) handleGetJournalExecutions(c *gin.Context) {
	if s.journal == nil {
		errorResponse(c, http.StatusServiceUnavailable, "decision journal is not enabled")
		return
	}
	recs, err := s.journal.GetExecutions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("failed to read executions", "decision_id", c.Param("id"), "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to read executions")
		return
	}
	successResponse(c, recs)
}

// handleGetJournalStats returns per-method totals over a window (default 24h)
func (s *Server) handleGetJournalStats(c *gin.Context) {
	if s.journal == nil {
		errorResponse(c, http.StatusServiceUnavailable, "decision journal is not enabled")
		return
	}
	window, err := time.ParseDuration(c.DefaultQuery("window", "24h"))
	if err != nil || window <= 0 {
		errorResponse(c, http.StatusBadRequest, "window must be a positive duration")
		return
	}
	stats, err := s.journal.GetMethodStats(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		s.logger.Error("failed to read method stats", "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to read method stats")
		return
	}
	successResponse(c, gin.H{"window": window.String(), "methods": stats})
}
