package entitlements

import "testing"

func TestNormalizeTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{in: "company", want: TierCompany},
		{in: "ENTERPRISE", want: TierEnterprise},
		{in: " enterprise ", want: TierEnterprise},
		{in: "gold", want: TierNone},
		{in: "", want: TierNone},
	}

	for _, tt := range tests {
		if got := NormalizeTier(tt.in); got != tt.want {
			t.Fatalf("NormalizeTier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTierRank(t *testing.T) {
	if TierRank(TierNone) >= TierRank(TierCompany) {
		t.Fatalf("expected company to outrank none")
	}
	if TierRank(TierCompany) >= TierRank(TierEnterprise) {
		t.Fatalf("expected enterprise to outrank company")
	}
}

func TestBestTier(t *testing.T) {
	if got := BestTier([]Tier{TierCompany, TierEnterprise, TierNone}); got != TierEnterprise {
		t.Fatalf("BestTier = %q, want enterprise", got)
	}
	if got := BestTier(nil); got != TierNone {
		t.Fatalf("BestTier(nil) = %q, want none", got)
	}
}

func TestAllowedFeatures(t *testing.T) {
	templates, seats, api := AllowedFeatures(TierEnterprise)
	if !templates || !seats || !api {
		t.Fatalf("expected enterprise to unlock everything")
	}
	templates, seats, api = AllowedFeatures(TierCompany)
	if !templates || !seats || api {
		t.Fatalf("expected company to unlock templates and seats only")
	}
	templates, seats, api = AllowedFeatures(TierNone)
	if templates || seats || api {
		t.Fatalf("expected none to unlock nothing")
	}
}
