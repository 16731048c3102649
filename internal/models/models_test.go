package models

import "testing"

func TestValidateHistoryAcceptsRunningSum(t *testing.T) {
	history := []CreditHistoryEntry{
		{Type: EntryRefresh, Amount: 1000, Balance: 1000},
		{Type: EntryUsage, Amount: -300, Balance: 700},
		{Type: EntryAdminAdd, Amount: 500, Balance: 1200},
		{Type: EntryRollover, Amount: 250, Balance: 1450},
	}
	if err := ValidateHistory(history); err != nil {
		t.Errorf("valid chain rejected: %v", err)
	}
	if err := ValidateHistory(nil); err != nil {
		t.Errorf("empty history rejected: %v", err)
	}
}

func TestValidateHistoryRejectsBrokenChain(t *testing.T) {
	history := []CreditHistoryEntry{
		{Type: EntryRefresh, Amount: 1000, Balance: 1000},
		{Type: EntryUsage, Amount: -300, Balance: 650}, // should be 700
	}
	if err := ValidateHistory(history); err == nil {
		t.Error("broken chain accepted")
	}
}

func TestValidateHistoryRejectsNegativeBalance(t *testing.T) {
	history := []CreditHistoryEntry{
		{Type: EntryAdminDeduct, Amount: -50, Balance: -50},
	}
	if err := ValidateHistory(history); err == nil {
		t.Error("negative balance accepted")
	}
}

func TestTierForUnknownPlanDefaultsToFree(t *testing.T) {
	tier := TierFor("no-such-plan")
	if tier.Plan != PlanFree {
		t.Errorf("Plan = %q, want free", tier.Plan)
	}
	if tier.UseCreditSystem {
		t.Error("free fallback should not use credit accounting")
	}
}

func TestTierModesAreMutuallyExclusive(t *testing.T) {
	for plan, name := range map[Plan]string{
		PlanFree:      "free",
		PlanEssential: "essential",
		PlanPremium:   "premium",
		PlanDeluxe:    "deluxe",
	} {
		tier := TierFor(plan)
		if tier.UseCreditSystem {
			if tier.CreditsPerMonth <= 0 {
				t.Errorf("%s: credit tier without monthly allocation", name)
			}
			if tier.MessageLimit != 0 || tier.ImageLimit != 0 || tier.VoiceCharLimit != 0 {
				t.Errorf("%s: credit tier carries fixed-quota limits", name)
			}
		} else {
			if tier.CreditsPerMonth != 0 || tier.RolloverPercentage != 0 || tier.CreditMultiplier != 0 {
				t.Errorf("%s: fixed-quota tier carries credit fields", name)
			}
		}
	}
}

func TestSessionRemainingNeverNegative(t *testing.T) {
	s := AnonymousSession{MessagesUsed: FreeMessageCap + 1, StoryScenesCreated: FreeStorySceneCap + 1}
	if got := s.RemainingMessages(); got != 0 {
		t.Errorf("RemainingMessages = %d, want 0", got)
	}
	if got := s.RemainingStoryScenes(); got != 0 {
		t.Errorf("RemainingStoryScenes = %d, want 0", got)
	}
}
