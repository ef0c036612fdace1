package auction

import "testing"

func TestCurrentPhaseBoundaries(t *testing.T) {
	const (
		unlock   = int64(1_000)
		graceEnd = int64(1_030)
	)

	cases := []struct {
		name string
		now  int64
		want Phase
	}{
		{"well before unlock", 0, PhaseBidding},
		{"one second before unlock", unlock - 1, PhaseBidding},
		{"exactly at unlock", unlock, PhaseReveal},
		{"inside grace window", graceEnd - 1, PhaseReveal},
		{"exactly at grace end", graceEnd, PhaseGraceExpired},
		{"past grace end", graceEnd + 10_000, PhaseGraceExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CurrentPhase(tc.now, unlock, graceEnd); got != tc.want {
				t.Fatalf("CurrentPhase(%d) = %s, want %s", tc.now, got, tc.want)
			}
		})
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseBidding.String() != "bidding" {
		t.Fatalf("bidding label = %q", PhaseBidding.String())
	}
	if PhaseReveal.String() != "reveal" {
		t.Fatalf("reveal label = %q", PhaseReveal.String())
	}
	if PhaseGraceExpired.String() != "graceExpired" {
		t.Fatalf("grace expired label = %q", PhaseGraceExpired.String())
	}
}
