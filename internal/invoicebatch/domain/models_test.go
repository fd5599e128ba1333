package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusDraft, StatusSubmitted, true},
		{StatusSubmitted, StatusPaid, true},
		{StatusSubmitted, StatusDisputed, true},
		{StatusDisputed, StatusDraft, true},
		{StatusDraft, StatusPaid, false},
		{StatusDraft, StatusDisputed, false},
		{StatusPaid, StatusDisputed, false},
		{StatusPaid, StatusDraft, false},
		{StatusDisputed, StatusSubmitted, false},
		{StatusSubmitted, StatusDraft, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTermsDays(t *testing.T) {
	if days, ok := TermsDays(TermsNet30); !ok || days != 30 {
		t.Fatalf("TermsDays(NET_30) = %d, %v", days, ok)
	}
	if days, ok := TermsDays(TermsDueOnReceipt); !ok || days != 0 {
		t.Fatalf("TermsDays(DUE_ON_RECEIPT) = %d, %v", days, ok)
	}
	if _, ok := TermsDays("NET_90"); ok {
		t.Fatal("NET_90 is not a supported term")
	}
}
