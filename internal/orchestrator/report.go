package orchestrator

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/zone"
)

// ZoneRow is one line of the diagnostic zone table
type ZoneRow struct {
	ZoneID       int                `json:"zone_id"`
	PriceMin     float64            `json:"price_min"`
	PriceMax     float64            `json:"price_max"`
	BuyCount     int                `json:"buy_count"`
	SellCount    int                `json:"sell_count"`
	TotalPnL     float64            `json:"total_pnl"`
	HealthScore  float64            `json:"health_score"`
	BalanceRatio float64            `json:"balance_ratio"`
	Status       zone.Status        `json:"status"`
	RiskLevel    analysis.RiskLevel `json:"risk_level"`
	Action       analysis.Action    `json:"action"`
}

// Report is the diagnostic attached to a no-action decision
type Report struct {
	Summary       zone.Summary                        `json:"summary"`
	Zones         []ZoneRow                           `json:"zones"`
	Opportunities []*analysis.BalanceRecoveryAnalysis `json:"opportunities"`
	Cooperation   []analysis.CooperationOpportunity   `json:"cooperation"`
}

func (o *Orchestrator) buildReport(c *cycle) *Report {
	r := &Report{
		Summary: o.zones.Summary(),
		Zones:   BuildZoneRows(o.zones, c.analyses),
	}
	r.Opportunities = o.analyzer.DetectBalanceRecoveryOpportunities(c.snap.Price)
	r.Cooperation = o.analyzer.FindCooperationOpportunities(r.Opportunities)

	c.log.Info("zone status",
		"zones", r.Summary.ActiveZones,
		"helpers", r.Summary.HelperZones,
		"troubled", r.Summary.TroubledZones,
		"critical", r.Summary.CriticalZones,
		"total_pnl", r.Summary.TotalPnL,
		"balance_opportunities", len(r.Opportunities))
	return r
}

// BuildZoneRows joins zones with their analyses, ordered by zone id
func BuildZoneRows(zones *zone.Manager, analyses map[int]*analysis.ZoneAnalysis) []ZoneRow {
	rows := make([]ZoneRow, 0, len(analyses))
	for _, za := range analysis.SortedAnalyses(analyses) {
		row := ZoneRow{
			ZoneID:       za.ZoneID,
			TotalPnL:     za.TotalPnL,
			HealthScore:  za.HealthScore,
			BalanceRatio: za.BalanceRatio,
			Status:       za.Status,
			RiskLevel:    za.RiskLevel,
			Action:       za.ActionNeeded,
		}
		if z, ok := zones.Zone(za.ZoneID); ok {
			row.PriceMin, row.PriceMax = z.PriceMin, z.PriceMax
			row.BuyCount, row.SellCount = z.BuyCount, z.SellCount
		}
		rows = append(rows, row)
	}
	return rows
}

// Render formats the report as plain-text tables
func (r *Report) Render() string {
	var b strings.Builder
	b.WriteString(RenderZoneTable(r.Zones))

	if len(r.Opportunities) > 0 {
		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.SetTitle("Balance recovery opportunities")
		t.AppendHeader(table.Row{"Zone", "Type", "Ratio", "Excess", "Improvement", "Readiness", "Confidence"})
		for _, o := range r.Opportunities {
			t.AppendRow(table.Row{
				o.ZoneID,
				o.ImbalanceType,
				fmt.Sprintf("%.2f", o.BalanceRatio),
				o.ExcessPositions,
				fmt.Sprintf("%.1f", o.HealthImprovementScore),
				fmt.Sprintf("%.2f", o.CooperationReadiness),
				fmt.Sprintf("%.2f", o.Confidence),
			})
		}
		b.WriteString("\n")
		b.WriteString(t.Render())
	}

	if len(r.Cooperation) > 0 {
		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.SetTitle("Cooperation")
		t.AppendHeader(table.Row{"Zones", "Distance", "Complementarity", "Combined $", "Synergy"})
		for _, co := range r.Cooperation {
			t.AppendRow(table.Row{
				fmt.Sprintf("%d <-> %d", co.ZoneA, co.ZoneB),
				co.Distance,
				fmt.Sprintf("%.2f", co.Complementarity),
				fmt.Sprintf("%.2f", co.CombinedProfit),
				fmt.Sprintf("%.2f", co.SynergyScore),
			})
		}
		b.WriteString("\n")
		b.WriteString(t.Render())
	}
	return b.String()
}

// RenderZoneTable renders the per-zone table with a P&L footer
func RenderZoneTable(rows []ZoneRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Zone", "Range", "B:S", "P&L", "Health", "Balance", "Status", "Risk", "Action"})

	total := 0.0
	positions := 0
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.ZoneID,
			fmt.Sprintf("%.2f-%.2f", r.PriceMin, r.PriceMax),
			fmt.Sprintf("%d:%d", r.BuyCount, r.SellCount),
			fmt.Sprintf("%.2f", r.TotalPnL),
			fmt.Sprintf("%.0f", r.HealthScore),
			balanceLabel(r.BalanceRatio),
			r.Status,
			r.RiskLevel,
			r.Action,
		})
		total += r.TotalPnL
		positions += r.BuyCount + r.SellCount
	}
	t.AppendFooter(table.Row{"", "", positions, fmt.Sprintf("%.2f", total), "", "", "", "", ""})
	return t.Render()
}

func balanceLabel(ratio float64) string {
	switch {
	case ratio > 0.8:
		return fmt.Sprintf("%.0f%% BUY!", ratio*100)
	case ratio < 0.2:
		return fmt.Sprintf("%.0f%% SELL!", (1-ratio)*100)
	case ratio > 0.6 || ratio < 0.4:
		return fmt.Sprintf("%.0f%% BUY", ratio*100)
	default:
		return "balanced"
	}
}
