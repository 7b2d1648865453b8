package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

var fixedNow = time.Date(2025, 10, 15, 14, 30, 0, 0, time.UTC)

func testEngine(opts ...Option) *Engine {
	return NewEngine(append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func pendingOrder() models.Order {
	return models.Order{
		ID:          "ORD2025003",
		OrderNumber: "#ZEN1003",
		Status:      models.OrderStatusPending,
		StatusHistory: []models.StatusChange{
			{Status: models.OrderStatusPending, Timestamp: fixedNow.Add(-time.Hour), Note: "Order placed - COD"},
		},
	}
}

func TestTransitionAppendsExactlyOneHistoryEntry(t *testing.T) {
	e := testEngine()
	order := pendingOrder()

	path := []struct {
		target models.OrderStatus
		fields Fields
	}{
		{models.OrderStatusConfirmed, Fields{}},
		{models.OrderStatusProcessing, Fields{}},
		{models.OrderStatusPacked, Fields{}},
		{models.OrderStatusShipped, Fields{TrackingNumber: "ZEN1234567890"}},
		{models.OrderStatusOutForDelivery, Fields{}},
		{models.OrderStatusDelivered, Fields{}},
	}

	for _, step := range path {
		before := order.StatusHistory
		next, err := e.Transition(order, step.target, "", step.fields)
		if err != nil {
			t.Fatalf("transition to %s: %v", step.target, err)
		}
		if len(next.StatusHistory) != len(before)+1 {
			t.Fatalf("history length = %d, want %d", len(next.StatusHistory), len(before)+1)
		}
		for i := range before {
			if next.StatusHistory[i] != before[i] {
				t.Fatalf("history entry %d rewritten: %+v -> %+v", i, before[i], next.StatusHistory[i])
			}
		}
		last := next.StatusHistory[len(next.StatusHistory)-1]
		if last.Status != step.target {
			t.Errorf("last history status = %s, want %s", last.Status, step.target)
		}
		if !last.Timestamp.Equal(fixedNow) {
			t.Errorf("last history timestamp = %v, want %v", last.Timestamp, fixedNow)
		}
		order = next
	}

	if order.Status != models.OrderStatusDelivered {
		t.Errorf("final status = %s, want delivered", order.Status)
	}
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	e := testEngine()
	order := pendingOrder()
	order.StatusHistory = append(make([]models.StatusChange, 0, 8), order.StatusHistory...)

	next, err := e.Transition(order, models.OrderStatusConfirmed, "Order confirmed by admin", Fields{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != models.OrderStatusPending || len(order.StatusHistory) != 1 {
		t.Fatalf("input order mutated: %+v", order)
	}

	// Appending to the input must not leak into the returned history even when
	// the input slice had spare capacity.
	order.StatusHistory = append(order.StatusHistory, models.StatusChange{Status: models.OrderStatusCancelled})
	if next.StatusHistory[1].Status != models.OrderStatusConfirmed {
		t.Fatalf("returned history aliases input: %+v", next.StatusHistory)
	}
	if next.StatusHistory[1].Note != "Order confirmed by admin" {
		t.Errorf("note = %q", next.StatusHistory[1].Note)
	}
}

func TestTransitionDefaultNote(t *testing.T) {
	e := testEngine()
	next, err := e.Transition(pendingOrder(), models.OrderStatusConfirmed, "  ", Fields{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := next.StatusHistory[1].Note; got != "Status updated to Confirmed" {
		t.Errorf("note = %q, want default", got)
	}

	order := pendingOrder()
	order.TrackingNumber = "ZEN1"
	next, err = e.Transition(order, models.OrderStatusOutForDelivery, "", Fields{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := next.StatusHistory[1].Note; got != "Status updated to Out for Delivery" {
		t.Errorf("note = %q, want display name", got)
	}
}

func TestTransitionNoChange(t *testing.T) {
	e := testEngine()
	order := pendingOrder()

	next, err := e.Transition(order, models.OrderStatusPending, "", Fields{})
	if !errors.Is(err, ErrNoChange) {
		t.Fatalf("err = %v, want ErrNoChange", err)
	}
	if len(next.StatusHistory) != len(order.StatusHistory) {
		t.Errorf("no-op transition appended history")
	}
}

func TestTransitionRejectsBackwardMoves(t *testing.T) {
	e := testEngine()
	order := pendingOrder()
	order.Status = models.OrderStatusPacked

	_, err := e.Transition(order, models.OrderStatusConfirmed, "", Fields{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	e := testEngine()
	_, err := e.Transition(pendingOrder(), models.OrderStatus("lost"), "", Fields{})
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("err = %v, want ErrUnknownStatus", err)
	}
}

func TestTerminalLock(t *testing.T) {
	tests := []struct {
		name   string
		engine *Engine
		status models.OrderStatus
		except models.OrderStatus
	}{
		{"cancelled", testEngine(), models.OrderStatusCancelled, ""},
		{"returned", testEngine(), models.OrderStatusReturned, ""},
		{"delivered with returns", testEngine(), models.OrderStatusDelivered, models.OrderStatusReturned},
		{"delivered without returns", testEngine(WithoutReturns()), models.OrderStatusDelivered, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := pendingOrder()
			order.Status = tt.status
			order.TrackingNumber = "ZEN1"
			for _, target := range models.OrderStatuses {
				if target == tt.except {
					continue
				}
				_, err := tt.engine.Transition(order, target, "", Fields{TrackingNumber: "ZEN1"})
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("%s -> %s: err = %v, want ErrInvalidTransition", tt.status, target, err)
				}
			}
		})
	}
}

func TestReturnOnlyFromDelivered(t *testing.T) {
	e := testEngine()
	order := pendingOrder()
	order.Status = models.OrderStatusOutForDelivery
	order.TrackingNumber = "ZEN1"

	if _, err := e.Transition(order, models.OrderStatusReturned, "", Fields{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("return before delivery: err = %v, want ErrInvalidTransition", err)
	}

	order.Status = models.OrderStatusDelivered
	next, err := e.Transition(order, models.OrderStatusReturned, "Customer returned serum", Fields{})
	if err != nil {
		t.Fatalf("return after delivery: %v", err)
	}
	if next.Status != models.OrderStatusReturned {
		t.Errorf("status = %s", next.Status)
	}
}

func TestCancelFromAnyNonTerminalStatus(t *testing.T) {
	e := testEngine(WithStrictSequence())
	for _, s := range forwardChain[:len(forwardChain)-1] {
		order := pendingOrder()
		order.Status = s
		next, err := e.Transition(order, models.OrderStatusCancelled, "", Fields{})
		if err != nil {
			t.Errorf("cancel from %s: %v", s, err)
			continue
		}
		if next.Status != models.OrderStatusCancelled {
			t.Errorf("cancel from %s: status = %s", s, next.Status)
		}
	}
}

func TestStrictSequenceRejectsSkips(t *testing.T) {
	e := testEngine(WithStrictSequence())
	_, err := e.Transition(pendingOrder(), models.OrderStatusShipped, "", Fields{TrackingNumber: "ZEN123"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestShipWithoutTrackingThenWithTracking(t *testing.T) {
	e := testEngine()
	order := pendingOrder()

	_, err := e.Transition(order, models.OrderStatusShipped, "", Fields{})
	if !errors.Is(err, ErrMissingRequiredField) {
		t.Fatalf("err = %v, want ErrMissingRequiredField", err)
	}
	var fe *FieldError
	if !errors.As(err, &fe) || len(fe.Missing) != 1 || fe.Missing[0] != FieldTrackingNumber {
		t.Fatalf("field error = %+v", fe)
	}

	next, err := e.Transition(order, models.OrderStatusShipped, "", Fields{TrackingNumber: "ZEN123"})
	if err != nil {
		t.Fatalf("retry with tracking: %v", err)
	}
	if next.TrackingNumber != "ZEN123" {
		t.Errorf("tracking number = %q", next.TrackingNumber)
	}
	if got, ok := NextStatus(next.Status); !ok || got != models.OrderStatusOutForDelivery {
		t.Errorf("NextStatus = %q, %v; want out-for-delivery", got, ok)
	}
}

func TestTrackingNumberCarriedOver(t *testing.T) {
	e := testEngine()
	order := pendingOrder()
	order.Status = models.OrderStatusShipped
	order.TrackingNumber = "ZEN1234567891"

	next, err := e.Transition(order, models.OrderStatusOutForDelivery, "", Fields{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.TrackingNumber != "ZEN1234567891" {
		t.Errorf("tracking number = %q, want carried over", next.TrackingNumber)
	}
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		current models.OrderStatus
		want    models.OrderStatus
		ok      bool
	}{
		{models.OrderStatusPending, models.OrderStatusConfirmed, true},
		{models.OrderStatusPacked, models.OrderStatusShipped, true},
		{models.OrderStatusOutForDelivery, models.OrderStatusDelivered, true},
		{models.OrderStatusDelivered, "", false},
		{models.OrderStatusCancelled, "", false},
		{models.OrderStatusReturned, "", false},
		{models.OrderStatus("bogus"), "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.current), func(t *testing.T) {
			got, ok := NextStatus(tt.current)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NextStatus(%s) = %q, %v; want %q, %v", tt.current, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLegalTargetsIncludeBranches(t *testing.T) {
	e := testEngine(WithStrictSequence())
	got := e.LegalTargets(models.OrderStatusConfirmed)
	want := []models.OrderStatus{models.OrderStatusProcessing, models.OrderStatusCancelled}
	if len(got) != len(want) {
		t.Fatalf("LegalTargets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("LegalTargets[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if targets := e.LegalTargets(models.OrderStatusDelivered); len(targets) != 1 || targets[0] != models.OrderStatusReturned {
		t.Errorf("LegalTargets(delivered) = %v", targets)
	}
	if targets := e.LegalTargets(models.OrderStatusCancelled); len(targets) != 0 {
		t.Errorf("LegalTargets(cancelled) = %v, want none", targets)
	}
}

func TestItemsEditable(t *testing.T) {
	if !ItemsEditable(models.OrderStatusPacked) {
		t.Error("packed orders should still accept item edits")
	}
	for _, s := range []models.OrderStatus{models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusCancelled} {
		if ItemsEditable(s) {
			t.Errorf("ItemsEditable(%s) = true", s)
		}
	}
}
