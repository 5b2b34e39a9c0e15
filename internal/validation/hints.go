package validation

import "strings"

// Hint is a correction shown to an agent whose output failed validation.
type Hint struct {
	Error       string `json:"error"`
	BadExample  string `json:"badExample"`
	GoodExample string `json:"goodExample"`
	Correction  string `json:"correction"`
}

// hints is keyed by the last segment of the failing field path.
var hints = map[string]Hint{
	"transaction_id": {
		Error:       "Field 'transaction_id' is required",
		BadExample:  `{"user_profile": {...}, "risk_score": 85}`,
		GoodExample: `{"transaction_id": "tx_123", "user_profile": {...}, "risk_score": 85}`,
		Correction:  "Always include the transaction_id field from the input",
	},
	"risk_level": {
		Error:       "Field 'risk_level' must be one of: LOW, MEDIUM, HIGH, CRITICAL",
		BadExample:  `{"risk_level": "Moderate", ...}`,
		GoodExample: `{"risk_level": "MEDIUM", ...}`,
		Correction:  "Use exact values: LOW, MEDIUM, HIGH, or CRITICAL",
	},
	"decision": {
		Error:       "Field 'decision' must be one of: SAFE, BLOCK, ESCALATE_TO_HUMAN",
		BadExample:  `{"decision": "Deny", ...}`,
		GoodExample: `{"decision": "BLOCK", ...}`,
		Correction:  "Use exact values: SAFE, BLOCK, or ESCALATE_TO_HUMAN",
	},
	"reasoning": {
		Error:       "Field 'reasoning' must be at least 5 words",
		BadExample:  `{"reasoning": "High risk"}`,
		GoodExample: `{"reasoning": "High risk due to active call and new beneficiary account"}`,
		Correction:  "Provide detailed reasoning (1-2 sentences)",
	},
	"risk_score": {
		Error:       "Field 'risk_score' must be between 0 and 100",
		BadExample:  `{"risk_score": 150, ...}`,
		GoodExample: `{"risk_score": 95, ...}`,
		Correction:  "Risk score must be an integer from 0 to 100",
	},
	"confidence": {
		Error:       "Field 'confidence' must be between 0 and 100",
		BadExample:  `{"confidence": 200, ...}`,
		GoodExample: `{"confidence": 95, ...}`,
		Correction:  "Confidence must be an integer from 0 to 100",
	},
	"policy_applied": {
		Error:       "Field 'policy_applied' must be between 1 and 5",
		BadExample:  `{"policy_applied": 0, ...}`,
		GoodExample: `{"policy_applied": 1, ...}`,
		Correction:  "Policy number must be 1, 2, 3, 4, or 5",
	},
	"action_required": {
		Error:       "Field 'action_required' must be at least 5 characters",
		BadExample:  `{"action_required": "ok"}`,
		GoodExample: `{"action_required": "Escalate to fraud analyst"}`,
		Correction:  "State the concrete next step",
	},
}

// HintFor returns the correction hint for a field path, if one exists.
func HintFor(field string) (Hint, bool) {
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	h, ok := hints[field]
	return h, ok
}

// Hints returns the distinct hints that apply to a set of errors.
func (e ValidationErrors) Hints() []Hint {
	seen := make(map[string]bool)
	var out []Hint
	for _, fe := range e {
		h, ok := HintFor(fe.Field)
		if !ok || seen[h.Error] {
			continue
		}
		seen[h.Error] = true
		out = append(out, h)
	}
	return out
}
