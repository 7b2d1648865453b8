package cancellation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/internal/lifecycle"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sequenceCodes struct {
	codes []string
	next  int
}

func (g *sequenceCodes) Generate() (string, error) {
	code := g.codes[g.next%len(g.codes)]
	g.next++
	return code, nil
}

type recordingNotifier struct {
	issued []Issuance
	err    error
}

func (n *recordingNotifier) NotifyCodeIssued(_ context.Context, issuance Issuance) error {
	if n.err != nil {
		return n.err
	}
	n.issued = append(n.issued, issuance)
	return nil
}

func (n *recordingNotifier) lastCode() string {
	return n.issued[len(n.issued)-1].Code
}

type harness struct {
	workflow *Workflow
	store    *MemoryRequestStore
	notifier *recordingNotifier
	clock    *fakeClock
}

func newHarness(codes ...string) *harness {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	clock := &fakeClock{now: time.Date(2025, 10, 15, 14, 30, 0, 0, time.UTC)}
	store := NewMemoryRequestStore()
	notifier := &recordingNotifier{}
	cfg := Config{
		CodeTTL:     5 * time.Minute,
		MaxAttempts: 3,
		CodeDigits:  6,
		Clock:       clock,
		Codes:       &sequenceCodes{codes: codes},
	}
	engine := lifecycle.NewEngine(lifecycle.WithClock(clock.Now))
	return &harness{
		workflow: NewWorkflow(cfg, engine, store, notifier, logger),
		store:    store,
		notifier: notifier,
		clock:    clock,
	}
}

// assignmentAt returns an active assignment with done of total services completed.
func assignmentAt(done, total int) models.PackageAssignment {
	a := models.PackageAssignment{
		ID:               "asg-1",
		AssignmentNumber: "PKG-2025-0042",
		UserID:           "user-7",
		Status:           models.AssignmentStatusActive,
		StatusHistory: []models.AssignmentStatusChange{
			{Status: models.AssignmentStatusActive, Note: "Package assigned"},
		},
	}
	for i := 0; i < total; i++ {
		id := string(rune('a' + i))
		a.Services = append(a.Services, models.PackageService{ServiceID: id})
		if i < done {
			a.CompletedServices = append(a.CompletedServices, models.CompletedService{ServiceID: id})
		}
	}
	return a
}

func TestCancellationWithWrongThenCorrectCode(t *testing.T) {
	h := newHarness("482913")
	ctx := context.Background()
	a := assignmentAt(3, 5)
	require.Equal(t, 60, a.CompletionPercentage())

	pending, err := h.workflow.RequestCancellation(ctx, a, "customer request")
	require.NoError(t, err)
	assert.Equal(t, StateCodeIssued, pending.State)
	assert.Equal(t, pending.IssuedAt.Add(5*time.Minute), pending.ExpiresAt)
	require.Len(t, h.notifier.issued, 1)
	assert.Equal(t, "user-7", h.notifier.issued[0].UserID)

	unchanged, err := h.workflow.VerifyCode(ctx, a, "000000")
	assert.ErrorIs(t, err, ErrCodeMismatch)
	assert.Equal(t, models.AssignmentStatusActive, unchanged.Status)
	assert.Len(t, unchanged.StatusHistory, 1)

	cancelled, err := h.workflow.VerifyCode(ctx, a, h.notifier.lastCode())
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusCancelled, cancelled.Status)
	assert.Equal(t, "customer request", cancelled.CancellationReason)
	require.Len(t, cancelled.StatusHistory, 2)
	assert.Equal(t, "customer request", cancelled.StatusHistory[1].Note)
	assert.Equal(t, models.AssignmentStatusActive, a.Status, "input assignment must not change")

	_, err = h.store.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNoRequest, "request must be consumed")
}

func TestRequestRejectedForCompletedPackage(t *testing.T) {
	h := newHarness("482913")
	_, err := h.workflow.RequestCancellation(context.Background(), assignmentAt(4, 4), "moved away")
	assert.ErrorIs(t, err, ErrNotCancellable)
	assert.Empty(t, h.notifier.issued, "no code may be issued")
}

func TestRequestRejections(t *testing.T) {
	tests := []struct {
		name   string
		status models.AssignmentStatus
		reason string
		want   error
	}{
		{"blank reason", models.AssignmentStatusActive, "   ", ErrEmptyReason},
		{"already cancelled", models.AssignmentStatusCancelled, "again", ErrNotCancellable},
		{"expired package", models.AssignmentStatusExpired, "late", ErrNotCancellable},
		{"completed package", models.AssignmentStatusCompleted, "done", ErrNotCancellable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness("111111")
			a := assignmentAt(1, 4)
			a.Status = tt.status
			_, err := h.workflow.RequestCancellation(context.Background(), a, tt.reason)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, h.notifier.issued)
		})
	}
}

func TestCorrectCodeAfterExpiryFails(t *testing.T) {
	h := newHarness("482913")
	ctx := context.Background()
	a := assignmentAt(1, 4)

	_, err := h.workflow.RequestCancellation(ctx, a, "customer request")
	require.NoError(t, err)

	h.clock.Advance(5*time.Minute + time.Second)
	got, err := h.workflow.VerifyCode(ctx, a, h.notifier.lastCode())
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, models.AssignmentStatusActive, got.Status)

	_, err = h.workflow.VerifyCode(ctx, a, h.notifier.lastCode())
	assert.ErrorIs(t, err, ErrNoRequest, "expired request must be discarded")
}

func TestCodeValidAtExactExpiry(t *testing.T) {
	h := newHarness("482913")
	ctx := context.Background()
	a := assignmentAt(1, 4)

	_, err := h.workflow.RequestCancellation(ctx, a, "customer request")
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	got, err := h.workflow.VerifyCode(ctx, a, h.notifier.lastCode())
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusCancelled, got.Status)
}

func TestTooManyAttemptsDiscardsRequest(t *testing.T) {
	h := newHarness("482913")
	ctx := context.Background()
	a := assignmentAt(1, 4)

	_, err := h.workflow.RequestCancellation(ctx, a, "customer request")
	require.NoError(t, err)

	_, err = h.workflow.VerifyCode(ctx, a, "000001")
	assert.ErrorIs(t, err, ErrCodeMismatch)
	_, err = h.workflow.VerifyCode(ctx, a, "000002")
	assert.ErrorIs(t, err, ErrCodeMismatch)
	_, err = h.workflow.VerifyCode(ctx, a, "000003")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = h.workflow.VerifyCode(ctx, a, h.notifier.lastCode())
	assert.ErrorIs(t, err, ErrNoRequest, "correct code must not work after lockout")
}

func TestReRequestReplacesCode(t *testing.T) {
	h := newHarness("111111", "222222")
	ctx := context.Background()
	a := assignmentAt(1, 4)

	first, err := h.workflow.RequestCancellation(ctx, a, "customer request")
	require.NoError(t, err)
	h.clock.Advance(4 * time.Minute)
	second, err := h.workflow.RequestCancellation(ctx, a, "customer request")
	require.NoError(t, err)

	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt), "expiry must reset")

	_, err = h.workflow.VerifyCode(ctx, a, "111111")
	assert.ErrorIs(t, err, ErrCodeMismatch, "superseded code must not verify")

	h.clock.Advance(3 * time.Minute)
	got, err := h.workflow.VerifyCode(ctx, a, "222222")
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusCancelled, got.Status)
}

func TestAbandon(t *testing.T) {
	h := newHarness("482913")
	ctx := context.Background()
	a := assignmentAt(1, 4)

	view, err := h.workflow.Abandon(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNoRequest, view.State)

	_, err = h.workflow.RequestCancellation(ctx, a, "customer request")
	require.NoError(t, err)

	view, err = h.workflow.Abandon(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAbandoned, view.State)

	_, err = h.workflow.VerifyCode(ctx, a, h.notifier.lastCode())
	assert.ErrorIs(t, err, ErrNoRequest)
}

func TestUndeliveredCodeLeavesNoRequest(t *testing.T) {
	h := newHarness("482913")
	h.notifier.err = errors.New("sms gateway down")
	ctx := context.Background()
	a := assignmentAt(1, 4)

	_, err := h.workflow.RequestCancellation(ctx, a, "customer request")
	require.Error(t, err)

	status, err := h.workflow.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNoRequest, status.State)
}

func TestStatusReportsAttempts(t *testing.T) {
	h := newHarness("482913")
	ctx := context.Background()
	a := assignmentAt(1, 4)

	_, err := h.workflow.RequestCancellation(ctx, a, "customer request")
	require.NoError(t, err)
	_, _ = h.workflow.VerifyCode(ctx, a, "999999")

	status, err := h.workflow.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCodeIssued, status.State)
	assert.Equal(t, 2, status.AttemptsRemaining)

	h.clock.Advance(6 * time.Minute)
	status, err = h.workflow.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, status.State)
}

func TestCodeIsNotStoredInPlain(t *testing.T) {
	h := newHarness("482913")
	ctx := context.Background()
	a := assignmentAt(1, 4)

	_, err := h.workflow.RequestCancellation(ctx, a, "customer request")
	require.NoError(t, err)

	req, err := h.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.NotContains(t, req.CodeHash, "482913")
	assert.True(t, req.matches(" 482913 "))
	assert.False(t, req.matches("482914"))
}

func TestNumericCodes(t *testing.T) {
	gen := NumericCodes{Digits: 6}
	for i := 0; i < 50; i++ {
		code, err := gen.Generate()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "code %q has non-digit", code)
		}
	}
}

func TestNewWorkflowSanitizesConfig(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	w := NewWorkflow(Config{}, lifecycle.NewEngine(), NewMemoryRequestStore(), &recordingNotifier{}, logger)
	assert.Equal(t, 5*time.Minute, w.ttl)
	assert.Equal(t, 5, w.attempts)
	assert.Equal(t, NumericCodes{Digits: 6}, w.codes)
}
