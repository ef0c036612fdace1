package auction

// Phase identifies the window of the auction lifecycle a wall-clock instant
// falls into. Transitions are observed lazily: nothing inside the engine runs
// on a timer, every operation derives the phase from the caller-visible time.
type Phase uint8

const (
	// PhaseBidding accepts sealed commitments.
	PhaseBidding Phase = iota
	// PhaseReveal accepts disclosures of previously committed offers.
	PhaseReveal
	// PhaseGraceExpired allows acceptance or a no-valid-offers restart.
	PhaseGraceExpired
)

// String returns a human-readable phase label.
func (p Phase) String() string {
	switch p {
	case PhaseBidding:
		return "bidding"
	case PhaseReveal:
		return "reveal"
	case PhaseGraceExpired:
		return "graceExpired"
	default:
		return "unknown"
	}
}

// CurrentPhase resolves the auction phase for the supplied instant. The lower
// bound of each successor phase is exclusive for its predecessor: at exactly
// unlockTime bidding has ended, at exactly gracePeriodEnd the grace window has
// ended.
func CurrentPhase(now, unlockTime, gracePeriodEnd int64) Phase {
	switch {
	case now < unlockTime:
		return PhaseBidding
	case now < gracePeriodEnd:
		return PhaseReveal
	default:
		return PhaseGraceExpired
	}
}
