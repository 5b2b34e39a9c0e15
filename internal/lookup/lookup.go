// Package lookup fetches the facts an investigation is built from: the
// sender's history, the beneficiary's risk, and the banking session behind
// the transaction.
//
// The stores behind these lookups are eventually consistent, so every
// lookup returns a retry.Outcome and the Gatherer drives it through a retry
// executor. A lookup that never finds data is not an error; it becomes a
// record tagged with a not-found status.
package lookup

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/streamguard/streamguard/internal/completeness"
	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/retry"
)

// Tool names, shared with the completeness gate.
const (
	ToolUserHistory     = completeness.ToolUserHistory
	ToolBeneficiaryRisk = completeness.ToolBeneficiaryRisk
	ToolSessionContext  = completeness.ToolSessionContext
)

// UserHistoryStore returns a sender's profile.
type UserHistoryStore interface {
	UserHistory(ctx context.Context, userID string) retry.Outcome[facts.UserProfile]
}

// BeneficiaryStore returns the destination account's risk assessment.
type BeneficiaryStore interface {
	BeneficiaryRisk(ctx context.Context, accountID string) retry.Outcome[facts.BeneficiaryRisk]
}

// SessionStore returns the raw session record for a transaction.
type SessionStore interface {
	Session(ctx context.Context, transactionID string) retry.Outcome[*SessionRecord]
}

// SessionRecord is one mobile-banking session as stored, before enrichment.
type SessionRecord struct {
	TransactionID   string           `json:"transaction_id"`
	UserID          string           `json:"user_id"`
	SessionID       *string          `json:"session_id,omitempty"`
	BeneficiaryID   string           `json:"beneficiary_id,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	IsCallActive    bool             `json:"is_call_active"`
	TypingCadence   *float64         `json:"typing_cadence,omitempty"`
	DurationSeconds *int             `json:"session_duration_sec,omitempty"`
	DeviceOS        string           `json:"device_os,omitempty"`
	IsRooted        bool             `json:"is_rooted"`
	BatteryLevel    *int             `json:"battery_level,omitempty"`
	Latitude        *float64         `json:"latitude,omitempty"`
	Longitude       *float64         `json:"longitude,omitempty"`
	HomeLatitude    *float64         `json:"home_latitude,omitempty"`
	HomeLongitude   *float64         `json:"home_longitude,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`

	// VelocityLastHour counts the user's sessions in the hour before this one.
	VelocityLastHour int `json:"velocity_last_hour"`
}

// Request names the transaction to gather facts for. UserID, BeneficiaryID
// and Amount are optional; missing values are taken from the session record.
type Request struct {
	TransactionID string           `json:"transaction_id" binding:"required"`
	UserID        string           `json:"user_id,omitempty"`
	BeneficiaryID string           `json:"beneficiary_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// ToolCall records one lookup made while gathering.
type ToolCall struct {
	Name    string        `json:"tool_name"`
	Success bool          `json:"success"`
	Found   bool          `json:"found"`
	Skipped bool          `json:"skipped,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Gathered is everything the lookups produced for one transaction.
type Gathered struct {
	Request     Request               `json:"request"`
	User        facts.UserProfile     `json:"user_profile"`
	Beneficiary facts.BeneficiaryRisk `json:"beneficiary_analysis"`
	Session     facts.SessionContext  `json:"session_analysis"`
	Record      *SessionRecord        `json:"-"`
	Amount      *decimal.Decimal      `json:"amount,omitempty"`
	ToolCalls   []ToolCall            `json:"tool_calls"`
}

// FailedTools returns the names of lookups that errored.
func (g *Gathered) FailedTools() []string {
	var out []string
	for _, c := range g.ToolCalls {
		if !c.Success {
			out = append(out, c.Name)
		}
	}
	return out
}

// Errored returns the names of lookups that reached their store, or its
// circuit breaker, and failed. Lookups skipped for want of an identifier are
// not included.
func (g *Gathered) Errored() []string {
	var out []string
	for _, c := range g.ToolCalls {
		if !c.Success && !c.Skipped {
			out = append(out, c.Name)
		}
	}
	return out
}

// AllSucceeded reports whether every lookup ran without error.
func (g *Gathered) AllSucceeded() bool {
	return len(g.FailedTools()) == 0
}
