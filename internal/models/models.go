package models

import (
	"fmt"
	"time"
)

type Plan string

const (
	PlanFree      Plan = "free"
	PlanEssential Plan = "essential"
	PlanPremium   Plan = "premium"
	PlanDeluxe    Plan = "deluxe"
)

// Free-trial caps for anonymous visitors. These are product constants, not
// configuration: the backend enforces the same numbers independently.
const (
	FreeMessageCap    = 3
	FreeStorySceneCap = 1
)

// CreditsPerUSD is the fixed conversion between credits and dollars.
// Protocol constant shared with the ledger backend; never per-tier.
const CreditsPerUSD = 100

// AnonymousSession is the local record of an unauthenticated visitor's trial
// usage. It is advisory UX state only; the backend re-derives trust from the
// fingerprint on every request and remains the authority for abuse prevention.
type AnonymousSession struct {
	SessionID          string    `json:"sessionId"`
	Fingerprint        string    `json:"fingerprint"`
	MessagesUsed       int       `json:"messagesUsed"`
	StoryScenesCreated int       `json:"storyScenesCreated"`
	CreatedAt          time.Time `json:"createdAt"`
	LastActive         time.Time `json:"lastActive"`
}

// CanSendMessage reports whether the visitor still has trial messages left.
// The counter itself is never capped; gating happens here.
func (s *AnonymousSession) CanSendMessage() bool {
	return s.MessagesUsed < FreeMessageCap
}

func (s *AnonymousSession) CanCreateStory() bool {
	return s.StoryScenesCreated < FreeStorySceneCap
}

func (s *AnonymousSession) RemainingMessages() int {
	if s.MessagesUsed >= FreeMessageCap {
		return 0
	}
	return FreeMessageCap - s.MessagesUsed
}

func (s *AnonymousSession) RemainingStoryScenes() int {
	if s.StoryScenesCreated >= FreeStorySceneCap {
		return 0
	}
	return FreeStorySceneCap - s.StoryScenesCreated
}

// UserProfile is the authenticated account record as returned by the ledger
// backend. CreditBalance is integral credits; never a floating type.
type UserProfile struct {
	UID               string    `json:"uid"`
	Email             string    `json:"email"`
	DisplayName       string    `json:"displayName"`
	PhotoURL          string    `json:"photoURL"`
	EmailVerified     bool      `json:"emailVerified"`
	Plan              Plan      `json:"plan"`
	CreditBalance     int64     `json:"creditBalance"`
	LastCreditRefresh time.Time `json:"lastCreditRefresh"`
	UseCreditSystem   bool      `json:"useCreditSystem"`
	MessageLimit      int       `json:"messageLimit,omitempty"`
	ImageLimit        int       `json:"imageLimit,omitempty"`
	VoiceCharLimit    int       `json:"voiceCharLimit,omitempty"`
}

type CreditEntryType string

const (
	EntryUsage           CreditEntryType = "usage"
	EntryImageGeneration CreditEntryType = "image_generation"
	EntryAdminAdd        CreditEntryType = "admin_add"
	EntryAdminDeduct     CreditEntryType = "admin_deduct"
	EntryRefresh         CreditEntryType = "refresh"
	EntryRollover        CreditEntryType = "rollover"
)

// CreditHistoryEntry is one row of the append-only ledger. Balance is the
// balance after Amount was applied.
type CreditHistoryEntry struct {
	Type        CreditEntryType `json:"type"`
	Amount      int64           `json:"amount"`
	Balance     int64           `json:"balance"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description"`
}

// ValidateHistory checks the running-sum invariant over an oldest-to-newest
// history slice: every entry's balance must equal the previous balance plus
// its amount, and no balance may be negative.
func ValidateHistory(entries []CreditHistoryEntry) error {
	for i, e := range entries {
		if e.Balance < 0 {
			return fmt.Errorf("entry %d: negative balance %d", i, e.Balance)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1].Balance
		if prev+e.Amount != e.Balance {
			return fmt.Errorf("entry %d: balance %d != previous %d + amount %d", i, e.Balance, prev, e.Amount)
		}
	}
	return nil
}

// TierConfig describes how a plan is accounted. The two modes are mutually
// exclusive: credit fields are meaningful only when UseCreditSystem is true,
// fixed-quota limits only when it is false.
type TierConfig struct {
	Plan               Plan
	CreditsPerMonth    int64
	RolloverPercentage int
	CreditMultiplier   int
	UseCreditSystem    bool
	MessageLimit       int
	ImageLimit         int
	VoiceCharLimit     int
}

var tierConfigs = map[Plan]TierConfig{
	PlanFree: {
		Plan:           PlanFree,
		MessageLimit:   50,
		ImageLimit:     5,
		VoiceCharLimit: 1000,
	},
	PlanEssential: {
		Plan:               PlanEssential,
		CreditsPerMonth:    1500,
		RolloverPercentage: 25,
		CreditMultiplier:   3,
		UseCreditSystem:    true,
	},
	PlanPremium: {
		Plan:               PlanPremium,
		CreditsPerMonth:    4000,
		RolloverPercentage: 50,
		CreditMultiplier:   2,
		UseCreditSystem:    true,
	},
	PlanDeluxe: {
		Plan:               PlanDeluxe,
		CreditsPerMonth:    10000,
		RolloverPercentage: 100,
		CreditMultiplier:   2,
		UseCreditSystem:    true,
	},
}

// TierFor returns the accounting config for a plan, defaulting to the free
// tier for unknown plans.
func TierFor(plan Plan) TierConfig {
	if cfg, ok := tierConfigs[plan]; ok {
		return cfg
	}
	return tierConfigs[PlanFree]
}
