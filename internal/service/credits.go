package service

import (
	"fmt"
	"time"

	"github.com/fablemind/companion-metering/internal/models"
)

type CreditBand string

const (
	BandOK       CreditBand = "ok"
	BandLow      CreditBand = "low"
	BandCritical CreditBand = "critical"
	BandDepleted CreditBand = "depleted"
)

// CreditSummary is the display projection of an account's credit state. The
// individual Is* flags are cumulative, but Band is the single badge to show,
// chosen in strict priority order: depleted over critical over low.
type CreditSummary struct {
	Plan        models.Plan `json:"plan"`
	Balance     int64       `json:"balance"`
	Percentage  float64     `json:"percentage"`
	Band        CreditBand  `json:"band"`
	IsLow       bool        `json:"isLow"`
	IsCritical  bool        `json:"isCritical"`
	IsDepleted  bool        `json:"isDepleted"`
	USDValue    string      `json:"usdValue"`
	LastRefresh time.Time   `json:"lastRefresh"`
}

// SummarizeCredits projects a profile into its credit display state. It
// returns nil for the free tier and for fixed-quota plans: those render no
// credit component at all, never a zero-balance one. The projection never
// mutates balance; mutation is the backend's job, followed by a re-fetch.
func SummarizeCredits(profile *models.UserProfile) *CreditSummary {
	if profile == nil || profile.Plan == models.PlanFree {
		return nil
	}
	tier := models.TierFor(profile.Plan)
	if !tier.UseCreditSystem || tier.CreditsPerMonth <= 0 {
		return nil
	}

	balance := profile.CreditBalance
	pct := float64(balance) / float64(tier.CreditsPerMonth) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	summary := &CreditSummary{
		Plan:        profile.Plan,
		Balance:     balance,
		Percentage:  pct,
		IsLow:       pct < 20,
		IsCritical:  pct < 10,
		IsDepleted:  balance <= 0,
		USDValue:    FormatUSD(balance),
		LastRefresh: profile.LastCreditRefresh,
	}

	switch {
	case summary.IsDepleted:
		summary.Band = BandDepleted
	case summary.IsCritical:
		summary.Band = BandCritical
	case summary.IsLow:
		summary.Band = BandLow
	default:
		summary.Band = BandOK
	}
	return summary
}

// FormatUSD converts credits to a two-decimal dollar string using the fixed
// protocol conversion. Stays in integer arithmetic to avoid rounding drift.
func FormatUSD(credits int64) string {
	if credits < 0 {
		credits = 0
	}
	return fmt.Sprintf("%d.%02d", credits/models.CreditsPerUSD, credits%models.CreditsPerUSD)
}
