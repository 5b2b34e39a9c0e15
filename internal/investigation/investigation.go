// Package investigation turns gathered facts into an InvestigationReport
// using fixed signal weights. It stands in for the external investigator
// when none is attached, and gives the pipeline a deterministic baseline.
package investigation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/lookup"
)

// Signal weights. The score starts at BaseScore and is capped at 100.
const (
	BaseScore       = 30
	WeightVoiceCall = 50
	WeightLargeTx   = 15
	WeightRooted    = 20
	WeightFastTyper = 10
	WeightHesitant  = 10
	WeightRushed    = 15
)

// Signal thresholds.
const (
	FastTypingCadence     = 0.9
	HesitantTypingCadence = 0.3
	NewBeneficiaryHours   = 24
)

// LargeTransfer is the amount above which a transfer counts as large.
var LargeTransfer = decimal.NewFromInt(1000)

// Recommendation thresholds on the capped score.
const (
	BlockAbove = 70
	HoldAbove  = 40
)

// Finding is one risk signal that contributed to the score.
type Finding struct {
	Signal string `json:"signal"`
	Weight int    `json:"weight"`
	Detail string `json:"detail"`
}

// Score returns the findings for g and the resulting capped score.
func Score(g *lookup.Gathered) ([]Finding, int) {
	var found []Finding
	add := func(signal string, weight int, detail string) {
		found = append(found, Finding{Signal: signal, Weight: weight, Detail: detail})
	}

	if g.Session.IsCallActive {
		add(facts.FlagActiveVoiceCall, WeightVoiceCall, "Active voice call during transaction")
	}
	if g.Amount != nil && g.Amount.GreaterThan(LargeTransfer) {
		add("large_transfer", WeightLargeTx, fmt.Sprintf("Large transfer: $%s", g.Amount.StringFixed(2)))
	}
	if rec := g.Record; rec != nil {
		if rec.IsRooted {
			add(facts.FlagSuspectDevice, WeightRooted, "Device is rooted/jailbroken")
		}
		if c := rec.TypingCadence; c != nil {
			switch {
			case *c > FastTypingCadence:
				add("fast_typing", WeightFastTyper, "Abnormally fast typing (possible automation)")
			case *c < HesitantTypingCadence:
				add("hesitant_typing", WeightHesitant, "Hesitant typing pattern (possible coaching)")
			}
		}
		if d := rec.DurationSeconds; d != nil && *d < lookup.RushedSessionSeconds {
			add(facts.FlagRushedSession, WeightRushed, "Rushed session duration")
		}
	}

	score := BaseScore
	for _, f := range found {
		score += f.Weight
	}
	if score > 100 {
		score = 100
	}
	return found, score
}

// RecommendationFor maps a score onto the investigator's recommendation.
func RecommendationFor(score int) facts.Recommendation {
	switch {
	case score > BlockAbove:
		return facts.RecommendBlock
	case score > HoldAbove:
		return facts.RecommendHoldForReview
	default:
		return facts.RecommendApprove
	}
}

// Flags derives the security flags the policy engine reads.
func Flags(g *lookup.Gathered) map[string]bool {
	flags := map[string]bool{
		facts.FlagActiveVoiceCall: g.Session.IsCallActive,
		facts.FlagSuspectDevice:   false,
		facts.FlagNewBeneficiary:  false,
		facts.FlagRushedSession:   false,
		facts.FlagHighVelocity:    false,
		facts.FlagUnusualTime:     false,
		facts.FlagUnusualLocation: false,
	}
	if h := g.Beneficiary.AccountAgeHours; h != nil && *h < NewBeneficiaryHours {
		flags[facts.FlagNewBeneficiary] = true
	}
	if rec := g.Record; rec != nil {
		flags[facts.FlagSuspectDevice] = rec.IsRooted
		flags[facts.FlagRushedSession] = rec.DurationSeconds != nil && *rec.DurationSeconds < lookup.RushedSessionSeconds
		flags[facts.FlagHighVelocity] = rec.VelocityLastHour >= lookup.HighVelocityPerHour
	}
	flags[facts.FlagUnusualTime] = g.Session.RiskSignals[lookup.SignalTimeOfDayRisk] == string(facts.RiskHigh)
	flags[facts.FlagUnusualLocation] = g.Session.RiskSignals[lookup.SignalDistanceAnomalous] == true
	return flags
}

// Synthesize builds the investigation report for g.
func Synthesize(g *lookup.Gathered) *facts.InvestigationReport {
	found, score := Score(g)
	level := facts.LevelForScore(score)
	rec := RecommendationFor(score)

	return &facts.InvestigationReport{
		TransactionID:       g.Request.TransactionID,
		UserProfile:         g.User,
		BeneficiaryAnalysis: g.Beneficiary,
		SessionAnalysis:     g.Session,
		RiskScore:           score,
		RiskLevel:           level,
		Reasoning:           reasoning(g, found, score, level, rec),
		Recommendation:      rec,
		SecurityFlags:       Flags(g),
		TransactionAmount:   g.Amount,
	}
}

func reasoning(g *lookup.Gathered, found []Finding, score int, level facts.RiskLevel, rec facts.Recommendation) string {
	var b strings.Builder
	if len(found) == 0 {
		b.WriteString("No significant risk signals detected.")
	} else {
		details := make([]string, len(found))
		for i, f := range found {
			details[i] = f.Detail
		}
		fmt.Fprintf(&b, "Risk signals found: %s.", strings.Join(details, "; "))
	}
	if failed := g.FailedTools(); len(failed) > 0 {
		fmt.Fprintf(&b, " Incomplete data from: %s.", strings.Join(failed, ", "))
	}
	fmt.Fprintf(&b, " Risk score %d/100 (%s), recommending %s.", score, level, rec)
	return b.String()
}
