package cancellation

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	ErrEmptyReason     = errors.New("cancellation reason is required")
	ErrNotCancellable  = errors.New("package assignment cannot be cancelled")
	ErrNoRequest       = errors.New("no pending cancellation request")
	ErrExpired         = errors.New("cancellation code expired")
	ErrCodeMismatch    = errors.New("cancellation code does not match")
	ErrTooManyAttempts = errors.New("too many incorrect cancellation codes")
)

// State is the position of an assignment in the cancellation protocol.
type State string

const (
	StateNoRequest  State = "NoRequest"
	StateCodeIssued State = "CodeIssued"
	StateVerified   State = "Verified"
	StateExpired    State = "Expired"
	StateAbandoned  State = "Abandoned"
)

// Request is the short-lived record of an outstanding cancellation. Only a
// hash of the one-time code is kept.
type Request struct {
	ID                string    `json:"id"`
	AssignmentID      string    `json:"assignment_id"`
	Reason            string    `json:"reason"`
	CodeHash          string    `json:"-"`
	CodeIssuedAt      time.Time `json:"code_issued_at"`
	CodeExpiresAt     time.Time `json:"code_expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	Verified          bool      `json:"verified"`
}

// State evaluates the request against now, which must come from the
// server-side clock.
func (r Request) State(now time.Time) State {
	switch {
	case r.Verified:
		return StateVerified
	case now.After(r.CodeExpiresAt):
		return StateExpired
	default:
		return StateCodeIssued
	}
}

func (r Request) matches(code string) bool {
	want, err := hex.DecodeString(r.CodeHash)
	if err != nil {
		return false
	}
	got := codeDigest(r.ID, code)
	return subtle.ConstantTimeCompare(want, got) == 1
}

func codeDigest(requestID, code string) []byte {
	sum := sha256.Sum256([]byte(requestID + ":" + strings.TrimSpace(code)))
	return sum[:]
}

func hashCode(requestID, code string) string {
	return hex.EncodeToString(codeDigest(requestID, code))
}

// Issuance is handed to the code delivery channel. It is the only place the
// plain code exists after generation.
type Issuance struct {
	RequestID    string    `json:"request_id"`
	AssignmentID string    `json:"assignment_id"`
	UserID       string    `json:"user_id"`
	Code         string    `json:"code"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CodeNotifier delivers an issued code to the customer.
type CodeNotifier interface {
	NotifyCodeIssued(ctx context.Context, issuance Issuance) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the local wall clock of the process that owns the
// request store.
var SystemClock Clock = systemClock{}

type CodeGenerator interface {
	Generate() (string, error)
}

// NumericCodes generates uniformly random decimal codes of fixed width.
type NumericCodes struct {
	Digits int
}

func (g NumericCodes) Generate() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(g.Digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", g.Digits, n), nil
}
