package auction

import (
	"math/big"
	"strconv"

	"tenderd/core/types"
	"tenderd/crypto"
)

const (
	EventTypeContractDeployed       = "auction.contract_deployed"
	EventTypeOfferCommitted         = "auction.offer_committed"
	EventTypeOfferRevealed          = "auction.offer_revealed"
	EventTypeContractAccepted       = "auction.contract_accepted"
	EventTypeContractLocked         = "auction.contract_locked"
	EventTypeContractUnlocked       = "auction.contract_unlocked"
	EventTypeContractReset          = "auction.contract_reset"
	EventTypeNoValidOffersFound     = "auction.no_valid_offers_found"
	EventTypeGracePeriodUpdated     = "auction.grace_period_updated"
	EventTypeMinimumBidUpdated      = "auction.minimum_bid_updated"
	EventTypeTotalBudgetUpdated     = "auction.total_budget_updated"
	EventTypeUnlockTimeUpdated      = "auction.unlock_time_updated"
	EventTypeSafetyDepositRefunded  = "auction.safety_deposit_refunded"
	EventTypeSafetyDepositForfeited = "auction.safety_deposit_forfeited"
	EventTypeContractStarted        = "auction.contract_started"
	EventTypeStateApproved          = "auction.state_approved"
)

// NewContractDeployedEvent returns the canonical payload describing a freshly
// deployed auction configuration.
func NewContractDeployedEvent(a *Auction) *types.Event {
	attrs := map[string]string{}
	if a != nil {
		attrs["owner"] = addressString(a.Owner)
		attrs["totalBudget"] = amountString(a.TotalBudget)
		attrs["minimumBid"] = amountString(a.MinimumBid)
		attrs["safetyDepositAmount"] = amountString(a.SafetyDepositAmount)
		attrs["unlockTime"] = intString(a.UnlockTime)
		attrs["gracePeriod"] = intString(a.GracePeriod)
		attrs["contractDuration"] = intString(a.ContractDuration)
	}
	return &types.Event{Type: EventTypeContractDeployed, Attributes: attrs}
}

// NewOfferCommittedEvent returns the payload emitted when an offeror places a
// sealed commitment and escrows the safety deposit.
func NewOfferCommittedEvent(offeror [20]byte, deposit *big.Int) *types.Event {
	return &types.Event{Type: EventTypeOfferCommitted, Attributes: map[string]string{
		"user":          addressString(offeror),
		"safetyDeposit": amountString(deposit),
	}}
}

// NewOfferRevealedEvent returns the payload emitted on a verified disclosure.
func NewOfferRevealedEvent(offeror [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeOfferRevealed, Attributes: map[string]string{
		"user":        addressString(offeror),
		"offerAmount": amountString(amount),
	}}
}

// NewContractAcceptedEvent returns the payload emitted when the owner accepts
// a revealed offeror.
func NewContractAcceptedEvent(contractor [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeContractAccepted, Attributes: map[string]string{
		"contractor":  addressString(contractor),
		"offerAmount": amountString(amount),
	}}
}

// NewContractLockedEvent returns the payload emitted when acceptance locks the
// auction configuration.
func NewContractLockedEvent(lockedBy [20]byte) *types.Event {
	return &types.Event{Type: EventTypeContractLocked, Attributes: map[string]string{
		"lockedBy": addressString(lockedBy),
	}}
}

// NewContractUnlockedEvent returns the payload emitted on an emergency unlock.
func NewContractUnlockedEvent(owner [20]byte) *types.Event {
	return &types.Event{Type: EventTypeContractUnlocked, Attributes: map[string]string{
		"owner": addressString(owner),
	}}
}

// NewContractResetEvent returns the payload emitted when timers are re-armed.
func NewContractResetEvent(newUnlockTime int64) *types.Event {
	return &types.Event{Type: EventTypeContractReset, Attributes: map[string]string{
		"newUnlockTime": intString(newUnlockTime),
	}}
}

// NewNoValidOffersFoundEvent returns the payload emitted when a round closes
// without a qualifying revealed offer.
func NewNoValidOffersFoundEvent() *types.Event {
	return &types.Event{Type: EventTypeNoValidOffersFound, Attributes: map[string]string{}}
}

// NewGracePeriodUpdatedEvent returns the payload emitted after a grace period
// change.
func NewGracePeriodUpdatedEvent(newGracePeriod int64) *types.Event {
	return &types.Event{Type: EventTypeGracePeriodUpdated, Attributes: map[string]string{
		"newGracePeriod": intString(newGracePeriod),
	}}
}

// NewMinimumBidUpdatedEvent returns the payload emitted when a reset replaces
// the bid floor.
func NewMinimumBidUpdatedEvent(newMinimumBid *big.Int) *types.Event {
	return &types.Event{Type: EventTypeMinimumBidUpdated, Attributes: map[string]string{
		"newMinimumBid": amountString(newMinimumBid),
	}}
}

// NewTotalBudgetUpdatedEvent returns the payload emitted when a reset replaces
// the budget.
func NewTotalBudgetUpdatedEvent(newTotalBudget *big.Int) *types.Event {
	return &types.Event{Type: EventTypeTotalBudgetUpdated, Attributes: map[string]string{
		"newTotalBudget": amountString(newTotalBudget),
	}}
}

// NewUnlockTimeUpdatedEvent returns the payload emitted when the bidding
// deadline moves.
func NewUnlockTimeUpdatedEvent(newUnlockTime int64) *types.Event {
	return &types.Event{Type: EventTypeUnlockTimeUpdated, Attributes: map[string]string{
		"newUnlockTime": intString(newUnlockTime),
	}}
}

// NewSafetyDepositRefundedEvent returns the payload emitted when an escrowed
// deposit is released back to its offeror.
func NewSafetyDepositRefundedEvent(offeror [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeSafetyDepositRefunded, Attributes: map[string]string{
		"user":   addressString(offeror),
		"amount": amountString(amount),
	}}
}

// NewSafetyDepositForfeitedEvent returns the payload for a forfeited deposit.
// No engine operation currently forfeits; the constructor exists for interface
// parity with downstream consumers.
func NewSafetyDepositForfeitedEvent(offeror [20]byte, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeSafetyDepositForfeited, Attributes: map[string]string{
		"user":   addressString(offeror),
		"amount": amountString(amount),
	}}
}

// NewContractStartedEvent returns the payload emitted when the accepted
// offeror starts the awarded contract.
func NewContractStartedEvent(startTime int64) *types.Event {
	return &types.Event{Type: EventTypeContractStarted, Attributes: map[string]string{
		"startTime": intString(startTime),
	}}
}

// NewStateApprovedEvent returns the payload emitted when the owner approves
// the contract state.
func NewStateApprovedEvent(approvedBy [20]byte) *types.Event {
	return &types.Event{Type: EventTypeStateApproved, Attributes: map[string]string{
		"approvedBy": addressString(approvedBy),
	}}
}

func addressString(addr [20]byte) string {
	return crypto.NewAddress(crypto.TNDPrefix, addr[:]).String()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intString(v int64) string {
	return strconv.FormatInt(v, 10)
}
