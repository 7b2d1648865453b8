// Package cancellation runs the two-step protocol that cancels a package
// assignment: a reason opens a request and issues a one-time code, and only
// a matching code submitted before expiry performs the cancellation.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

type Config struct {
	CodeTTL     time.Duration
	MaxAttempts int
	CodeDigits  int
	Clock       Clock
	Codes       CodeGenerator
}

// Pending describes an outstanding request without exposing its code.
type Pending struct {
	RequestID         string    `json:"request_id"`
	AssignmentID      string    `json:"assignment_id"`
	State             State     `json:"state"`
	IssuedAt          time.Time `json:"issued_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}

type Workflow struct {
	engine   *lifecycle.Engine
	store    RequestStore
	notifier CodeNotifier
	clock    Clock
	codes    CodeGenerator
	ttl      time.Duration
	attempts int
	logger   *logrus.Logger
}

func NewWorkflow(config Config, engine *lifecycle.Engine, store RequestStore, notifier CodeNotifier, logger *logrus.Logger) *Workflow {
	if config.CodeTTL <= 0 {
		logger.WithFields(logrus.Fields{
			"invalid_value": config.CodeTTL,
			"default_value": "5m",
		}).Warn("Invalid cancellation code TTL, using default")
		config.CodeTTL = 5 * time.Minute
	}
	if config.MaxAttempts <= 0 {
		logger.WithFields(logrus.Fields{
			"invalid_value": config.MaxAttempts,
			"default_value": 5,
		}).Warn("Invalid cancellation attempt limit, using default")
		config.MaxAttempts = 5
	}
	if config.CodeDigits < 4 || config.CodeDigits > 10 {
		logger.WithFields(logrus.Fields{
			"invalid_value": config.CodeDigits,
			"default_value": 6,
		}).Warn("Invalid cancellation code length, using default")
		config.CodeDigits = 6
	}
	if config.Clock == nil {
		config.Clock = SystemClock
	}
	if config.Codes == nil {
		config.Codes = NumericCodes{Digits: config.CodeDigits}
	}

	return &Workflow{
		engine:   engine,
		store:    store,
		notifier: notifier,
		clock:    config.Clock,
		codes:    config.Codes,
		ttl:      config.CodeTTL,
		attempts: config.MaxAttempts,
		logger:   logger,
	}
}

// Cancellable reports whether a cancellation may be started for a.
func Cancellable(a models.PackageAssignment) error {
	if lifecycle.IsAssignmentTerminal(a.Status) {
		return fmt.Errorf("%w: assignment is %s", ErrNotCancellable, a.Status)
	}
	if a.CompletionPercentage() >= 100 {
		return fmt.Errorf("%w: all package services completed", ErrNotCancellable)
	}
	return nil
}

// RequestCancellation opens a request for a and sends a fresh code through
// the notifier. A request already pending for a is replaced, so only the
// newest code can ever verify.
func (w *Workflow) RequestCancellation(ctx context.Context, a models.PackageAssignment, reason string) (Pending, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Pending{}, ErrEmptyReason
	}
	if err := Cancellable(a); err != nil {
		return Pending{}, err
	}

	code, err := w.codes.Generate()
	if err != nil {
		return Pending{}, err
	}

	now := w.clock.Now().UTC()
	req := Request{
		ID:                uuid.NewString(),
		AssignmentID:      a.ID,
		Reason:            reason,
		CodeIssuedAt:      now,
		CodeExpiresAt:     now.Add(w.ttl),
		AttemptsRemaining: w.attempts,
	}
	req.CodeHash = hashCode(req.ID, code)

	if err := w.store.Put(ctx, req); err != nil {
		return Pending{}, err
	}

	issuance := Issuance{
		RequestID:    req.ID,
		AssignmentID: a.ID,
		UserID:       a.UserID,
		Code:         code,
		ExpiresAt:    req.CodeExpiresAt,
	}
	if err := w.notifier.NotifyCodeIssued(ctx, issuance); err != nil {
		if _, rmErr := w.store.Remove(ctx, a.ID, req.ID); rmErr != nil {
			w.logger.WithError(rmErr).WithField("assignment_id", a.ID).Error("Failed to discard undelivered cancellation request")
		}
		return Pending{}, fmt.Errorf("failed to deliver cancellation code: %w", err)
	}

	w.logger.WithFields(logrus.Fields{
		"assignment_id": a.ID,
		"request_id":    req.ID,
		"expires_at":    req.CodeExpiresAt,
	}).Info("Cancellation code issued")

	return pendingView(req, now), nil
}

// VerifyCode checks code against the request pending for a. Expiry is
// evaluated before the code, so a correct code past its expiry still fails.
// On a match the assignment is returned in Cancelled state and the request
// is consumed; persisting the result is up to the caller.
func (w *Workflow) VerifyCode(ctx context.Context, a models.PackageAssignment, code string) (models.PackageAssignment, error) {
	req, err := w.store.Get(ctx, a.ID)
	if err != nil {
		return a, err
	}

	fields := logrus.Fields{"assignment_id": a.ID, "request_id": req.ID}
	now := w.clock.Now()

	if req.State(now) == StateExpired {
		w.discard(ctx, req)
		w.logger.WithFields(fields).Info("Cancellation code expired")
		return a, ErrExpired
	}

	if !req.matches(code) {
		left, err := w.store.RecordMismatch(ctx, a.ID, req.ID)
		if err != nil {
			return a, err
		}
		fields["attempts_remaining"] = left
		if left <= 0 {
			w.discard(ctx, req)
			w.logger.WithFields(fields).Warn("Cancellation request locked after repeated wrong codes")
			return a, ErrTooManyAttempts
		}
		w.logger.WithFields(fields).Info("Cancellation code mismatch")
		return a, fmt.Errorf("%w: %d attempts remaining", ErrCodeMismatch, left)
	}

	claimed, err := w.store.Remove(ctx, a.ID, req.ID)
	if err != nil {
		return a, err
	}
	if !claimed {
		return a, ErrNoRequest
	}
	req.Verified = true

	cancelled, err := w.engine.TransitionAssignment(a, models.AssignmentStatusCancelled, req.Reason, lifecycle.Fields{
		Reason:               req.Reason,
		CancellationVerified: req.Verified,
	})
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			err = fmt.Errorf("%w: %v", ErrNotCancellable, err)
		}
		return a, err
	}

	w.logger.WithFields(fields).Info("Package assignment cancelled")
	return cancelled, nil
}

// Abandon drops any pending request for the assignment. The returned view is
// in StateAbandoned when a request was dropped and StateNoRequest otherwise.
func (w *Workflow) Abandon(ctx context.Context, assignmentID string) (Pending, error) {
	req, err := w.store.Get(ctx, assignmentID)
	if errors.Is(err, ErrNoRequest) {
		return Pending{AssignmentID: assignmentID, State: StateNoRequest}, nil
	}
	if err != nil {
		return Pending{}, err
	}
	removed, err := w.store.Remove(ctx, assignmentID, req.ID)
	if err != nil {
		return Pending{}, err
	}
	if !removed {
		return Pending{AssignmentID: assignmentID, State: StateNoRequest}, nil
	}
	w.logger.WithFields(logrus.Fields{
		"assignment_id": assignmentID,
		"request_id":    req.ID,
	}).Info("Cancellation request abandoned")

	view := pendingView(req, w.clock.Now())
	view.State = StateAbandoned
	return view, nil
}

// Status reports the pending request for an assignment, if any.
func (w *Workflow) Status(ctx context.Context, assignmentID string) (Pending, error) {
	req, err := w.store.Get(ctx, assignmentID)
	if errors.Is(err, ErrNoRequest) {
		return Pending{AssignmentID: assignmentID, State: StateNoRequest}, nil
	}
	if err != nil {
		return Pending{}, err
	}
	return pendingView(req, w.clock.Now()), nil
}

func (w *Workflow) discard(ctx context.Context, req Request) {
	if _, err := w.store.Remove(ctx, req.AssignmentID, req.ID); err != nil {
		w.logger.WithError(err).WithField("assignment_id", req.AssignmentID).Error("Failed to discard cancellation request")
	}
}

func pendingView(req Request, now time.Time) Pending {
	return Pending{
		RequestID:         req.ID,
		AssignmentID:      req.AssignmentID,
		State:             req.State(now),
		IssuedAt:          req.CodeIssuedAt,
		ExpiresAt:         req.CodeExpiresAt,
		AttemptsRemaining: req.AttemptsRemaining,
	}
}
