// Package audit keeps a trail of every judgment: the investigation it was
// made from, the decision, who made it, and whether it agreed with the
// policy engine.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/streamguard/streamguard/internal/consistency"
	"github.com/streamguard/streamguard/internal/facts"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("audit: entry not found")

// Source records who produced the judgment.
type Source string

const (
	SourceEngine   Source = "engine"
	SourceExternal Source = "external"
	SourceFallback Source = "fallback"
)

// Entry is one audited judgment.
type Entry struct {
	ID            string                     `json:"id"`
	TransactionID string                     `json:"transaction_id"`
	Decision      facts.Decision             `json:"decision"`
	PolicyApplied int                        `json:"policy_applied"`
	Confidence    int                        `json:"confidence"`
	Source        Source                     `json:"source"`
	Consistent    bool                       `json:"consistent"`
	Investigation *facts.InvestigationReport `json:"investigation"`
	Judgment      *facts.JudgmentDecision    `json:"judgment"`
	Discrepancies []consistency.Discrepancy  `json:"discrepancies"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// NewEntry builds an entry for judgment. report may be nil when no
// consistency check ran.
func NewEntry(source Source, inv *facts.InvestigationReport, judgment *facts.JudgmentDecision, report *consistency.Report) *Entry {
	e := &Entry{
		ID:            uuid.NewString(),
		TransactionID: judgment.TransactionID,
		Decision:      judgment.Decision,
		PolicyApplied: judgment.PolicyApplied,
		Confidence:    judgment.Confidence,
		Source:        source,
		Consistent:    true,
		Investigation: inv,
		Judgment:      judgment,
		Discrepancies: []consistency.Discrepancy{},
		CreatedAt:     time.Now().UTC(),
	}
	if report != nil {
		e.Consistent = report.Consistent()
		if len(report.Discrepancies) > 0 {
			e.Discrepancies = report.Discrepancies
		}
	}
	return e
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	// ListByTransaction returns the newest entries for a transaction first.
	ListByTransaction(ctx context.Context, transactionID string, limit int) ([]*Entry, error)
	// List returns up to q.Limit entries newest first, after q.After when
	// set and from q.Source only when set.
	List(ctx context.Context, q ListQuery) ([]*Entry, error)
}
