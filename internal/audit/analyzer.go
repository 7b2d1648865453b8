// Package audit scans stored records for states the fulfillment rules would
// never produce: stale pricing, history that disagrees with the status, or
// shipments without a tracking number.
package audit

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/pricing"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

type Finding struct {
	RecordID    string   `json:"record_id"`
	Kind        string   `json:"kind"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion"`
}

type Statistics struct {
	Audited        int            `json:"audited"`
	Clean          int            `json:"clean"`
	CriticalIssues int            `json:"critical_issues"`
	WarningIssues  int            `json:"warning_issues"`
	InfoIssues     int            `json:"info_issues"`
	IntegrityScore float64        `json:"integrity_score"`
	OverallStatus  string         `json:"overall_status"`
	FindingsByType map[string]int `json:"findings_by_type"`
}

type Result struct {
	Findings        []Finding     `json:"findings"`
	Statistics      Statistics    `json:"statistics"`
	Recommendations []string      `json:"recommendations"`
	Duration        time.Duration `json:"duration"`
	Timestamp       time.Time     `json:"timestamp"`
}

type Analyzer struct {
	engine *lifecycle.Engine
	logger *logrus.Logger
}

func NewAnalyzer(engine *lifecycle.Engine, logger *logrus.Logger) *Analyzer {
	return &Analyzer{engine: engine, logger: logger}
}

// Audit checks orders and assignments and summarises what it found.
func (a *Analyzer) Audit(orders []models.Order, assignments []models.PackageAssignment) *Result {
	start := time.Now()
	result := &Result{Findings: []Finding{}, Timestamp: start.UTC()}

	dirty := make(map[string]bool)
	for _, o := range orders {
		found := a.checkOrder(o)
		if len(found) > 0 {
			dirty["order:"+o.ID] = true
		}
		result.Findings = append(result.Findings, found...)
	}
	for _, asg := range assignments {
		found := a.checkAssignment(asg)
		if len(found) > 0 {
			dirty["assignment:"+asg.ID] = true
		}
		result.Findings = append(result.Findings, found...)
	}

	sort.SliceStable(result.Findings, func(i, j int) bool {
		return rank(result.Findings[i].Severity) < rank(result.Findings[j].Severity)
	})

	audited := len(orders) + len(assignments)
	result.Statistics = statistics(result.Findings, audited, audited-len(dirty))
	result.Recommendations = recommendations(result)
	result.Duration = time.Since(start)

	a.logger.WithFields(logrus.Fields{
		"audited":         audited,
		"findings":        len(result.Findings),
		"integrity_score": result.Statistics.IntegrityScore,
	}).Info("Integrity audit completed")

	return result
}

func (a *Analyzer) checkOrder(o models.Order) []Finding {
	var out []Finding
	add := func(typ string, sev Severity, desc, suggestion string) {
		out = append(out, Finding{RecordID: o.ID, Kind: "order", Type: typ, Severity: sev, Description: desc, Suggestion: suggestion})
	}

	if !o.Status.Valid() {
		add("unknown_status", SeverityCritical,
			fmt.Sprintf("order status %q is not in the catalog", o.Status),
			"Correct the status in the back office")
		return out
	}

	if n := len(o.StatusHistory); n == 0 {
		add("missing_history", SeverityCritical, "order has no status history", "Backfill the initial history entry")
	} else if last := o.StatusHistory[n-1].Status; last != o.Status {
		add("history_mismatch", SeverityCritical,
			fmt.Sprintf("status is %s but the latest history entry is %s", o.Status, last),
			"Reload the order and re-apply the last transition")
	}

	for i := 1; i < len(o.StatusHistory); i++ {
		from, to := o.StatusHistory[i-1].Status, o.StatusHistory[i].Status
		if from != to && !a.engine.CanReach(from, to) {
			add("illegal_transition", SeverityWarning,
				fmt.Sprintf("history moves from %s to %s", from, to),
				"Review who changed the order outside the fulfillment service")
		}
	}

	p := o.Pricing
	if !p.Subtotal.Equal(pricing.Subtotal(o.Items)) {
		add("stale_subtotal", SeverityCritical,
			fmt.Sprintf("subtotal %s does not match items total %s", p.Subtotal, pricing.Subtotal(o.Items)),
			"Recompute pricing from the current items")
	} else if !pricing.Consistent(p, o.Items) {
		add("total_mismatch", SeverityCritical,
			fmt.Sprintf("total %s does not add up", p.Total),
			"Recompute pricing from the current items")
	}
	if p.Total.IsNegative() {
		add("negative_total", SeverityCritical, "order total is negative", "Recompute pricing with a clamped discount")
	}
	if p.Discount.GreaterThan(p.Subtotal) {
		add("discount_exceeds_subtotal", SeverityWarning,
			fmt.Sprintf("discount %s exceeds subtotal %s", p.Discount, p.Subtotal),
			"Recompute pricing with a clamped discount")
	}

	if len(lifecycle.RequiredFields(o.Status)) > 0 && strings.TrimSpace(o.TrackingNumber) == "" {
		add("missing_tracking", SeverityWarning,
			fmt.Sprintf("order is %s without a tracking number", o.Status.Name()),
			"Add the courier tracking number")
	}
	if o.Status == models.OrderStatusCancelled && o.PaymentStatus == models.PaymentStatusPaid {
		add("refund_pending", SeverityInfo, "cancelled order is still marked paid", "Issue or record the refund")
	}
	return out
}

func (a *Analyzer) checkAssignment(asg models.PackageAssignment) []Finding {
	var out []Finding
	add := func(typ string, sev Severity, desc, suggestion string) {
		out = append(out, Finding{RecordID: asg.ID, Kind: "assignment", Type: typ, Severity: sev, Description: desc, Suggestion: suggestion})
	}

	if !asg.Status.Valid() {
		add("unknown_status", SeverityCritical,
			fmt.Sprintf("assignment status %q is not in the catalog", asg.Status),
			"Correct the status in the back office")
		return out
	}
	if n := len(asg.StatusHistory); n > 0 && asg.StatusHistory[n-1].Status != asg.Status {
		add("history_mismatch", SeverityCritical,
			fmt.Sprintf("status is %s but the latest history entry is %s", asg.Status, asg.StatusHistory[n-1].Status),
			"Reload the assignment and re-apply the last transition")
	}
	if asg.Status == models.AssignmentStatusCancelled && strings.TrimSpace(asg.CancellationReason) == "" {
		add("missing_cancellation_reason", SeverityCritical, "cancelled without a recorded reason", "Record the reason given by the customer")
	}

	pr := asg.Pricing
	if !pr.FinalAmount.Equal(pr.OriginalAmount.Sub(pr.DiscountAmount)) {
		add("final_amount_mismatch", SeverityCritical,
			fmt.Sprintf("final amount %s is not original %s minus discount %s", pr.FinalAmount, pr.OriginalAmount, pr.DiscountAmount),
			"Recompute package pricing")
	}
	if pr.DiscountPercentage.GreaterThan(pricing.MaxPackageDiscount) {
		add("discount_over_limit", SeverityWarning,
			fmt.Sprintf("discount %s%% is above the %s%% limit", pr.DiscountPercentage, pricing.MaxPackageDiscount),
			"Have a manager approve or correct the discount")
	}
	if asg.Status == models.AssignmentStatusActive && len(asg.Services) > 0 && asg.CompletionPercentage() == 100 {
		add("ready_to_complete", SeverityInfo, "every service delivered but the package is still active", "Mark the package completed")
	}
	return out
}

func rank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

func statistics(findings []Finding, audited, clean int) Statistics {
	stats := Statistics{Audited: audited, Clean: clean, FindingsByType: make(map[string]int)}
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			stats.CriticalIssues++
		case SeverityWarning:
			stats.WarningIssues++
		case SeverityInfo:
			stats.InfoIssues++
		}
		stats.FindingsByType[f.Type]++
	}

	if audited == 0 {
		stats.IntegrityScore = 100
	} else {
		stats.IntegrityScore = math.Round(float64(clean)/float64(audited)*10000) / 100
	}

	switch {
	case stats.CriticalIssues > 0:
		stats.OverallStatus = "critical"
	case stats.WarningIssues > 0:
		stats.OverallStatus = "warning"
	default:
		stats.OverallStatus = "healthy"
	}
	return stats
}

func recommendations(result *Result) []string {
	var recs []string
	by := result.Statistics.FindingsByType
	if by["stale_subtotal"]+by["total_mismatch"] > 0 {
		recs = append(recs, fmt.Sprintf("Recompute pricing for %d orders edited outside the item editor", by["stale_subtotal"]+by["total_mismatch"]))
	}
	if by["history_mismatch"]+by["missing_history"] > 0 {
		recs = append(recs, "Investigate status writes that bypass the history log")
	}
	if by["missing_tracking"] > 0 {
		recs = append(recs, fmt.Sprintf("Add tracking numbers to %d shipped orders", by["missing_tracking"]))
	}
	if by["refund_pending"] > 0 {
		recs = append(recs, "Reconcile refunds for cancelled paid orders")
	}
	if len(recs) == 0 {
		recs = append(recs, "No action needed")
	}
	return recs
}

// Report renders result as "json" or a plain-text "summary".
func (a *Analyzer) Report(result *Result, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(result, "", "  ")
	case "summary":
		return summary(result), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func summary(result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "INTEGRITY AUDIT REPORT\n======================\nGenerated: %s\n\n", result.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Records audited: %d\nClean records: %d\nIntegrity score: %.2f%%\n\n",
		result.Statistics.Audited, result.Statistics.Clean, result.Statistics.IntegrityScore)
	fmt.Fprintf(&b, "Critical issues: %d\nWarning issues: %d\nInfo issues: %d\n\n",
		result.Statistics.CriticalIssues, result.Statistics.WarningIssues, result.Statistics.InfoIssues)
	b.WriteString("RECOMMENDATIONS\n---------------\n")
	b.WriteString(strings.Join(result.Recommendations, "\n"))
	fmt.Fprintf(&b, "\n\nSTATUS: %s\n", strings.ToUpper(result.Statistics.OverallStatus))
	return []byte(b.String())
}
