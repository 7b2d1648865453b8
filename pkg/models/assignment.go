package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PackageAssignment is a sold package of services linked to a customer.
type PackageAssignment struct {
	ID                 string                   `json:"id"`
	AssignmentNumber   string                   `json:"assignment_id"`
	UserID             string                   `json:"user_id"`
	PackageID          string                   `json:"package_id"`
	Services           []PackageService         `json:"services"`
	CompletedServices  []CompletedService       `json:"completed_services"`
	Pricing            AssignmentPricing        `json:"pricing"`
	Payment            Payment                  `json:"payment"`
	Status             AssignmentStatus         `json:"status"`
	StatusHistory      []AssignmentStatusChange `json:"status_history"`
	CancellationReason string                   `json:"cancellation_reason,omitempty"`
	Revision           int                      `json:"revision"`
	CreatedAt          time.Time                `json:"created_at"`
}

type PackageService struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
}

type CompletedService struct {
	ServiceID   string    `json:"service_id"`
	CompletedAt time.Time `json:"completed_at"`
}

type AssignmentPricing struct {
	OriginalAmount     decimal.Decimal `json:"original_amount"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	FinalAmount        decimal.Decimal `json:"final_amount"`
}

type Payment struct {
	IsReceived    bool      `json:"is_received"`
	Method        string    `json:"method,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	ProofRef      string    `json:"proof_ref,omitempty"`
	ReceivedDate  time.Time `json:"received_date,omitempty"`
}

type AssignmentStatusChange struct {
	Status    AssignmentStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Note      string           `json:"note"`
}

// CompletionPercentage is the share of package services completed, rounded
// to the nearest whole percent. A package without services is at 0.
func (a PackageAssignment) CompletionPercentage() int {
	if len(a.Services) == 0 {
		return 0
	}
	done := 0
	for _, s := range a.Services {
		for _, c := range a.CompletedServices {
			if c.ServiceID == s.ServiceID {
				done++
				break
			}
		}
	}
	return int(math.Round(float64(done) / float64(len(a.Services)) * 100))
}

func (a PackageAssignment) Version() Version {
	return Version{Status: string(a.Status), HistoryLen: len(a.StatusHistory), Revision: a.Revision}
}

func (a PackageAssignment) Clone() PackageAssignment {
	c := a
	c.Services = append([]PackageService(nil), a.Services...)
	c.CompletedServices = append([]CompletedService(nil), a.CompletedServices...)
	c.StatusHistory = append([]AssignmentStatusChange(nil), a.StatusHistory...)
	return c
}
