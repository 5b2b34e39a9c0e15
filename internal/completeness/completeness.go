// Package completeness rejects investigations that are missing the
// identifiers each fact lookup must supply.
package completeness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/streamguard/streamguard/internal/facts"
)

// ErrToolDataMissing matches every *IncompleteError.
var ErrToolDataMissing = errors.New("completeness: tool data missing")

// Tool names, as reported by the fact gatherer.
const (
	ToolUserHistory     = "user_history"
	ToolBeneficiaryRisk = "beneficiary_risk"
	ToolSessionContext  = "session_context"
)

// MissingField names one absent identifier and the lookup that should have
// supplied it.
type MissingField struct {
	Field string `json:"field"`
	Tool  string `json:"tool"`
}

// Message is the human-readable form used in logs and API responses.
func (m MissingField) Message() string {
	return fmt.Sprintf("Missing %s from %s tool", fieldName(m.Field), m.Tool)
}

func fieldName(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// IncompleteError lists every missing identifier on an investigation.
type IncompleteError struct {
	TransactionID string
	Missing       []MissingField
}

func (e *IncompleteError) Error() string {
	msgs := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		msgs[i] = m.Message()
	}
	return "investigation incomplete: " + strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrToolDataMissing) succeed.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrToolDataMissing
}

// Fields returns the dotted paths of the missing identifiers.
func (e *IncompleteError) Fields() []string {
	out := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		out[i] = m.Field
	}
	return out
}

// Has reports whether field is among the missing ones.
func (e *IncompleteError) Has(field string) bool {
	for _, m := range e.Missing {
		if m.Field == field {
			return true
		}
	}
	return false
}

type requirement struct {
	field string
	tool  string
	value func(*facts.InvestigationReport) string
}

var requirements = []requirement{
	{"user_profile.user_id", ToolUserHistory, func(r *facts.InvestigationReport) string { return r.UserProfile.UserID }},
	{"beneficiary_analysis.account_id", ToolBeneficiaryRisk, func(r *facts.InvestigationReport) string { return r.BeneficiaryAnalysis.AccountID }},
	{"session_analysis.transaction_id", ToolSessionContext, func(r *facts.InvestigationReport) string { return r.SessionAnalysis.TransactionID }},
}

// Check returns an *IncompleteError naming every missing identifier, or nil
// when the investigation is complete. Whitespace-only values count as
// missing.
func Check(inv *facts.InvestigationReport) error {
	if inv == nil {
		return &IncompleteError{Missing: allMissing()}
	}
	var missing []MissingField
	for _, req := range requirements {
		if strings.TrimSpace(req.value(inv)) == "" {
			missing = append(missing, MissingField{Field: req.field, Tool: req.tool})
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &IncompleteError{TransactionID: inv.TransactionID, Missing: missing}
}

func allMissing() []MissingField {
	out := make([]MissingField, len(requirements))
	for i, req := range requirements {
		out[i] = MissingField{Field: req.field, Tool: req.tool}
	}
	return out
}
