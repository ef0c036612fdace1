package auction

import "errors"

// Validation failures surfaced by engine operations. Every operation either
// fully applies or reports one of these with no state change; none of them is
// fatal to the engine and none triggers an internal retry.
var (
	// ErrPhaseViolation marks an operation invoked outside its legal phase.
	ErrPhaseViolation = errors.New("auction: phase violation")
	// ErrDuplicateCommitment marks a second commitment by the same offeror in
	// one round.
	ErrDuplicateCommitment = errors.New("auction: commitment already made")
	// ErrCommitmentReplay marks a commitment hash that was already consumed in
	// any earlier round.
	ErrCommitmentReplay = errors.New("auction: commitment hash already used")
	// ErrDepositMismatch marks an escrowed value differing from the configured
	// safety deposit.
	ErrDepositMismatch = errors.New("auction: safety deposit mismatch")
	// ErrNoCommitment marks a reveal without a live commitment.
	ErrNoCommitment = errors.New("auction: no commitment for offeror")
	// ErrCommitmentMismatch marks a reveal whose (amount, nonce) pair does not
	// hash to the stored commitment.
	ErrCommitmentMismatch = errors.New("auction: invalid offer or nonce")
	// ErrBelowMinimumBid marks a revealed amount under the configured floor.
	ErrBelowMinimumBid = errors.New("auction: offer below minimum bid")
	// ErrUnauthorized marks a caller lacking the capability for the operation.
	ErrUnauthorized = errors.New("auction: unauthorized caller")
	// ErrAlreadyLocked marks a mutation attempted while the contract is locked.
	ErrAlreadyLocked = errors.New("auction: contract is locked")
	// ErrNotLocked marks an unlock of an unlocked contract.
	ErrNotLocked = errors.New("auction: contract is not locked")
	// ErrOfferorNotRevealed marks acceptance of a party without a revealed
	// offer.
	ErrOfferorNotRevealed = errors.New("auction: selected offeror has not revealed an offer")
	// ErrNothingToRefund marks a deposit refund with no escrowed deposit to
	// release.
	ErrNothingToRefund = errors.New("auction: nothing to refund")
	// ErrInvalidGracePeriod marks a grace period outside (0, 7 days].
	ErrInvalidGracePeriod = errors.New("auction: invalid grace period")
	// ErrOfferorLimitReached marks a commitment past the per-round offeror cap.
	ErrOfferorLimitReached = errors.New("auction: offeror limit reached")
	// ErrValidOffersPresent marks a no-valid-offers restart while a qualifying
	// revealed offer exists.
	ErrValidOffersPresent = errors.New("auction: valid revealed offers present")
	// ErrNotAccepted marks an operation requiring an accepted offeror before
	// one was accepted.
	ErrNotAccepted = errors.New("auction: no offer accepted")
	// ErrAlreadyStarted marks a second start of the awarded contract.
	ErrAlreadyStarted = errors.New("auction: contract already started")
	// ErrNotStarted marks an operation requiring a started contract.
	ErrNotStarted = errors.New("auction: contract not started")
	// ErrAlreadyApproved marks a second state approval.
	ErrAlreadyApproved = errors.New("auction: state already approved")
	// ErrInsufficientBalance marks an offeror account unable to cover the
	// safety deposit.
	ErrInsufficientBalance = errors.New("auction: insufficient balance")
	// ErrNotDeployed marks any operation before the auction singleton exists.
	ErrNotDeployed = errors.New("auction: auction not deployed")
)

var errNilState = errors.New("auction engine: state not configured")
