package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/pricing"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

func newAnalyzer() *Analyzer {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewAnalyzer(lifecycle.NewEngine(), logger)
}

func cleanOrder(t *testing.T) models.Order {
	t.Helper()
	items := []models.OrderItem{{ProductRef: "PRD001", Quantity: 2, UnitPrice: decimal.NewFromInt(699)}}
	res, err := pricing.Recompute(items, pricing.FlatDiscount(decimal.NewFromInt(100)), decimal.Zero, pricing.TaxPolicy{})
	require.NoError(t, err)
	return models.Order{
		ID:      "clean",
		Status:  models.OrderStatusConfirmed,
		Items:   items,
		Pricing: res.Pricing,
		StatusHistory: []models.StatusChange{
			{Status: models.OrderStatusPending, Timestamp: time.Now()},
			{Status: models.OrderStatusConfirmed, Timestamp: time.Now()},
		},
	}
}

func findingTypes(r *Result, id string) []string {
	var types []string
	for _, f := range r.Findings {
		if f.RecordID == id {
			types = append(types, f.Type)
		}
	}
	return types
}

func TestAuditCleanRecords(t *testing.T) {
	r := newAnalyzer().Audit([]models.Order{cleanOrder(t)}, nil)
	assert.Empty(t, r.Findings)
	assert.Equal(t, 100.0, r.Statistics.IntegrityScore)
	assert.Equal(t, "healthy", r.Statistics.OverallStatus)
	assert.Equal(t, []string{"No action needed"}, r.Recommendations)
}

func TestAuditOrderFindings(t *testing.T) {
	stale := cleanOrder(t)
	stale.ID = "stale"
	stale.Items[0].Quantity = 3

	mismatch := cleanOrder(t)
	mismatch.ID = "mismatch"
	mismatch.Status = models.OrderStatusPacked

	untracked := cleanOrder(t)
	untracked.ID = "untracked"
	untracked.Status = models.OrderStatusShipped
	untracked.StatusHistory = append(untracked.StatusHistory, models.StatusChange{Status: models.OrderStatusShipped})

	backwards := cleanOrder(t)
	backwards.ID = "backwards"
	backwards.StatusHistory = append(backwards.StatusHistory,
		models.StatusChange{Status: models.OrderStatusDelivered},
		models.StatusChange{Status: models.OrderStatusConfirmed})

	refund := cleanOrder(t)
	refund.ID = "refund"
	refund.Status = models.OrderStatusCancelled
	refund.PaymentStatus = models.PaymentStatusPaid
	refund.StatusHistory = append(refund.StatusHistory, models.StatusChange{Status: models.OrderStatusCancelled})

	r := newAnalyzer().Audit([]models.Order{stale, mismatch, untracked, backwards, refund, cleanOrder(t)}, nil)

	assert.Equal(t, []string{"stale_subtotal"}, findingTypes(r, "stale"))
	assert.Equal(t, []string{"history_mismatch"}, findingTypes(r, "mismatch"))
	assert.Equal(t, []string{"missing_tracking"}, findingTypes(r, "untracked"))
	assert.Equal(t, []string{"illegal_transition"}, findingTypes(r, "backwards"))
	assert.Equal(t, []string{"refund_pending"}, findingTypes(r, "refund"))
	assert.Empty(t, findingTypes(r, "clean"))

	assert.Equal(t, 6, r.Statistics.Audited)
	assert.Equal(t, 1, r.Statistics.Clean)
	assert.Equal(t, 2, r.Statistics.CriticalIssues)
	assert.Equal(t, 2, r.Statistics.WarningIssues)
	assert.Equal(t, 1, r.Statistics.InfoIssues)
	assert.Equal(t, 16.67, r.Statistics.IntegrityScore)
	assert.Equal(t, "critical", r.Statistics.OverallStatus)
	assert.Equal(t, SeverityCritical, r.Findings[0].Severity, "critical findings sort first")
}

func TestAuditAssignmentFindings(t *testing.T) {
	good, err := pricing.Package(decimal.NewFromInt(25000), decimal.NewFromInt(20))
	require.NoError(t, err)

	silentCancel := models.PackageAssignment{
		ID:            "silent",
		Status:        models.AssignmentStatusCancelled,
		Pricing:       good,
		StatusHistory: []models.AssignmentStatusChange{{Status: models.AssignmentStatusCancelled}},
	}
	done := models.PackageAssignment{
		ID:                "done",
		Status:            models.AssignmentStatusActive,
		Pricing:           good,
		Services:          []models.PackageService{{ServiceID: "s1"}},
		CompletedServices: []models.CompletedService{{ServiceID: "s1"}},
	}
	overDiscount := models.PackageAssignment{
		ID:     "over",
		Status: models.AssignmentStatusActive,
		Pricing: models.AssignmentPricing{
			OriginalAmount:     decimal.NewFromInt(1000),
			DiscountPercentage: decimal.NewFromInt(60),
			DiscountAmount:     decimal.NewFromInt(600),
			FinalAmount:        decimal.NewFromInt(500),
		},
	}

	r := newAnalyzer().Audit(nil, []models.PackageAssignment{silentCancel, done, overDiscount})
	assert.Equal(t, []string{"missing_cancellation_reason"}, findingTypes(r, "silent"))
	assert.Equal(t, []string{"ready_to_complete"}, findingTypes(r, "done"))
	assert.ElementsMatch(t, []string{"final_amount_mismatch", "discount_over_limit"}, findingTypes(r, "over"))
}

func TestReportFormats(t *testing.T) {
	a := newAnalyzer()
	r := a.Audit([]models.Order{cleanOrder(t)}, nil)

	out, err := a.Report(r, "summary")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "STATUS: HEALTHY"))

	out, err = a.Report(r, "JSON")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"integrity_score": 100`)

	_, err = a.Report(r, "xml")
	assert.Error(t, err)
}
