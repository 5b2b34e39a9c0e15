package investigation

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/lookup"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func gathered(rec *lookup.SessionRecord, amount string) *lookup.Gathered {
	g := &lookup.Gathered{
		Request:     lookup.Request{TransactionID: "tx_1"},
		User:        facts.UserProfile{UserID: "u1"},
		Beneficiary: facts.BeneficiaryRisk{AccountID: "b1", RiskScore: 10, AccountAgeHours: floatPtr(5000)},
		Session:     facts.SessionContext{TransactionID: "tx_1", UserID: "u1"},
		Record:      rec,
		ToolCalls: []lookup.ToolCall{
			{Name: lookup.ToolUserHistory, Success: true, Found: true},
			{Name: lookup.ToolBeneficiaryRisk, Success: true, Found: true},
			{Name: lookup.ToolSessionContext, Success: true, Found: true},
		},
	}
	if rec != nil {
		g.Session = lookup.Enrich(rec)
	}
	if amount != "" {
		d := decimal.RequireFromString(amount)
		g.Amount = &d
	}
	return g
}

func TestSynthesize_QuietTransaction(t *testing.T) {
	inv := Synthesize(gathered(&lookup.SessionRecord{
		TransactionID:   "tx_1",
		UserID:          "u1",
		TypingCadence:   floatPtr(0.5),
		DurationSeconds: intPtr(300),
	}, "120.00"))

	if inv.RiskScore != BaseScore {
		t.Fatalf("expected base score, got %d", inv.RiskScore)
	}
	if inv.RiskLevel != facts.RiskLow || inv.Recommendation != facts.RecommendApprove {
		t.Fatalf("expected LOW/APPROVE, got %s/%s", inv.RiskLevel, inv.Recommendation)
	}
	if !strings.HasPrefix(inv.Reasoning, "No significant risk signals detected.") {
		t.Fatalf("reasoning = %q", inv.Reasoning)
	}
	if err := inv.Validate(); err != nil {
		t.Fatalf("synthesized report must validate: %v", err)
	}
}

func TestSynthesize_CoachedVictim(t *testing.T) {
	inv := Synthesize(gathered(&lookup.SessionRecord{
		TransactionID:   "tx_1",
		UserID:          "u1",
		IsCallActive:    true,
		TypingCadence:   floatPtr(0.2),
		DurationSeconds: intPtr(45),
	}, "4500"))

	// 30 + 50 + 15 + 10 + 15 capped at 100.
	if inv.RiskScore != 100 {
		t.Fatalf("expected capped score 100, got %d", inv.RiskScore)
	}
	if inv.RiskLevel != facts.RiskCritical || inv.Recommendation != facts.RecommendBlock {
		t.Fatalf("expected CRITICAL/BLOCK, got %s/%s", inv.RiskLevel, inv.Recommendation)
	}
	if !inv.Flag(facts.FlagActiveVoiceCall) || !inv.Flag(facts.FlagRushedSession) {
		t.Fatalf("flags = %v", inv.SecurityFlags)
	}
	for _, want := range []string{
		"Active voice call during transaction",
		"Large transfer: $4500.00",
		"Hesitant typing pattern (possible coaching)",
		"Rushed session duration",
		"Risk score 100/100 (CRITICAL), recommending BLOCK.",
	} {
		if !strings.Contains(inv.Reasoning, want) {
			t.Errorf("reasoning missing %q: %s", want, inv.Reasoning)
		}
	}
	if inv.TransactionAmount == nil || inv.TransactionAmount.String() != "4500" {
		t.Fatalf("amount not carried: %v", inv.TransactionAmount)
	}
}

func TestScore_Weights(t *testing.T) {
	tests := []struct {
		name   string
		rec    *lookup.SessionRecord
		amount string
		want   int
	}{
		{"no session", nil, "", 30},
		{"rooted", &lookup.SessionRecord{IsRooted: true}, "", 50},
		{"fast typing", &lookup.SessionRecord{TypingCadence: floatPtr(0.95)}, "", 40},
		{"boundary cadence", &lookup.SessionRecord{TypingCadence: floatPtr(0.9)}, "", 30},
		{"exactly 1000", nil, "1000", 30},
		{"large", nil, "1000.01", 45},
		{"rushed", &lookup.SessionRecord{DurationSeconds: intPtr(59)}, "", 45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := Score(gathered(tt.rec, tt.amount))
			if got != tt.want {
				t.Fatalf("score = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecommendationFor(t *testing.T) {
	tests := []struct {
		score int
		want  facts.Recommendation
	}{
		{40, facts.RecommendApprove},
		{41, facts.RecommendHoldForReview},
		{70, facts.RecommendHoldForReview},
		{71, facts.RecommendBlock},
	}
	for _, tt := range tests {
		if got := RecommendationFor(tt.score); got != tt.want {
			t.Errorf("RecommendationFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestFlags(t *testing.T) {
	g := gathered(&lookup.SessionRecord{
		TransactionID:    "tx_1",
		IsRooted:         true,
		VelocityLastHour: 5,
	}, "")
	g.Beneficiary.AccountAgeHours = floatPtr(3)
	g.Session.RiskSignals[lookup.SignalTimeOfDayRisk] = "HIGH"

	flags := Flags(g)
	for _, name := range []string{facts.FlagSuspectDevice, facts.FlagNewBeneficiary, facts.FlagHighVelocity, facts.FlagUnusualTime} {
		if !flags[name] {
			t.Errorf("expected %s set", name)
		}
	}
	for _, name := range []string{facts.FlagActiveVoiceCall, facts.FlagRushedSession, facts.FlagUnusualLocation} {
		if flags[name] {
			t.Errorf("expected %s clear", name)
		}
	}
}

func TestSynthesize_NotesFailedLookups(t *testing.T) {
	g := gathered(nil, "")
	g.ToolCalls[0] = lookup.ToolCall{Name: lookup.ToolUserHistory, Error: "timeout"}
	inv := Synthesize(g)
	if !strings.Contains(inv.Reasoning, "Incomplete data from: user_history.") {
		t.Fatalf("reasoning = %q", inv.Reasoning)
	}
}
