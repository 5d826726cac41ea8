// Package precheck combines the whitelist, duplicate scan and risk
// classifier into a single go/no-go decision for an upload.
package precheck

import (
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/asset-guard/internal/ai"
	"github.com/kozaktomas/asset-guard/internal/dedup"
	"github.com/kozaktomas/asset-guard/internal/whitelist"
)

// Verdict is the gate outcome.
type Verdict string

const (
	VerdictProceed Verdict = "proceed"
	VerdictReview  Verdict = "review"
	VerdictBlock   Verdict = "block"
)

// Decision is the persisted record of one precheck.
type Decision struct {
	ID             string             `json:"id"`
	Verdict        Verdict            `json:"verdict"`
	Reasons        []string           `json:"reasons"`
	FileName       string             `json:"file_name,omitempty"`
	ContentHash    string             `json:"content_hash"`
	PerceptualHash string             `json:"perceptual_hash"`
	Whitelist      whitelist.Decision `json:"whitelist"`
	Duplicate      dedup.Match        `json:"duplicate"`
	Risk           *ai.RiskAssessment `json:"risk,omitempty"`
	RiskError      string             `json:"risk_error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// decide applies the gate rules in order: a duplicate blocks, a whitelisted
// image proceeds, a degraded scan or high risk asks for review.
func decide(wl whitelist.Decision, dup dedup.Match, risk *ai.RiskAssessment) (Verdict, []string) {
	if dup.Found {
		return VerdictBlock, []string{fmt.Sprintf("duplicate of token %s", dup.TokenID)}
	}
	if wl.Matched {
		return VerdictProceed, []string{fmt.Sprintf("whitelisted (distance %d, variant %s)", wl.Distance, wl.VariantUsed)}
	}

	var reasons []string
	if dup.IsDegraded() {
		reasons = append(reasons, "duplicate scan incomplete: "+dup.Reason.Cause)
	}
	if risk != nil && risk.Label == ai.RiskHigh {
		r := fmt.Sprintf("high rights risk (confidence %.2f)", risk.Confidence)
		if len(risk.Reasons) > 0 {
			r += ": " + strings.Join(risk.Reasons, "; ")
		}
		reasons = append(reasons, r)
	}
	if len(reasons) > 0 {
		return VerdictReview, reasons
	}
	return VerdictProceed, []string{"no duplicate found"}
}
