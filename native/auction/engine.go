package auction

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"tenderd/core/events"
	"tenderd/core/types"
)

type engineState interface {
	AuctionGet() (*Auction, bool)
	AuctionPut(*Auction) error
	CommitmentGet(offeror [20]byte) (*Commitment, bool)
	CommitmentPut(*Commitment) error
	CommitmentDelete(offeror [20]byte) error
	Offerors() ([][20]byte, error)
	RevealGet(offeror [20]byte) (*RevealedOffer, bool)
	RevealPut(*RevealedOffer) error
	RevealDelete(offeror [20]byte) error
	DepositGet(offeror [20]byte) (*SafetyDeposit, bool)
	DepositPut(*SafetyDeposit) error
	CommitmentUsed(hash [32]byte) (bool, error)
	MarkCommitmentUsed(hash [32]byte) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	VaultAddress() ([20]byte, error)
}

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine wires the sealed-bid auction state machine with external state and
// event emitters. A single mutex serializes every operation so that
// check-phase/check-uniqueness/mutate sequences stay atomic behind a
// concurrent front door.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an auction engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadAuction() (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	a, ok := e.state.AuctionGet()
	if !ok {
		return nil, ErrNotDeployed
	}
	return a, nil
}

func (e *Engine) requireOwner(a *Auction, caller [20]byte) error {
	if caller != a.Owner {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) phase(a *Auction) Phase {
	return CurrentPhase(e.now(), a.UnlockTime, a.GracePeriodEnd)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("auction: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// Deploy initialises the auction singleton from the supplied configuration.
// A second call returns the existing record untouched so restarts are
// idempotent.
func (e *Engine) Deploy(params Params) (*Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	if existing, ok := e.state.AuctionGet(); ok {
		return existing, nil
	}
	now := e.now()
	a := &Auction{
		Owner:               params.Owner,
		TotalBudget:         cloneBigInt(params.TotalBudget),
		MinimumBid:          cloneBigInt(params.MinimumBid),
		SafetyDepositAmount: cloneBigInt(params.SafetyDepositAmount),
		DeploymentTime:      now,
		UnlockDuration:      params.UnlockDuration,
		GracePeriod:         params.GracePeriod,
		UnlockTime:          now + params.UnlockDuration,
		GracePeriodEnd:      now + params.UnlockDuration + params.GracePeriod,
		ContractDuration:    params.ContractDuration,
		MaxOfferors:         params.MaxOfferors,
	}
	sanitized, err := SanitizeAuction(a)
	if err != nil {
		return nil, err
	}
	if err := e.state.AuctionPut(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewContractDeployedEvent(sanitized))
	return sanitized.Clone(), nil
}

// CommitOffer records a sealed commitment during the bidding phase and
// escrows the offeror's safety deposit in the auction vault.
func (e *Engine) CommitOffer(offeror [20]byte, commitment [32]byte, escrowed *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if e.phase(a) != PhaseBidding {
		return fmt.Errorf("%w: bidding phase is over", ErrPhaseViolation)
	}
	if _, ok := e.state.CommitmentGet(offeror); ok {
		return ErrDuplicateCommitment
	}
	used, err := e.state.CommitmentUsed(commitment)
	if err != nil {
		return err
	}
	if used {
		return ErrCommitmentReplay
	}
	if escrowed == nil || escrowed.Cmp(a.SafetyDepositAmount) != 0 {
		return ErrDepositMismatch
	}
	offerors, err := e.state.Offerors()
	if err != nil {
		return err
	}
	if a.MaxOfferors > 0 && uint64(len(offerors)) >= a.MaxOfferors {
		return ErrOfferorLimitReached
	}
	vault, err := e.state.VaultAddress()
	if err != nil {
		return err
	}
	offerorAcc, err := e.state.GetAccount(offeror[:])
	if err != nil {
		return err
	}
	if ensureAccount(offerorAcc).Balance.Cmp(escrowed) < 0 {
		return ErrInsufficientBalance
	}
	// Deposits escrowed in earlier rounds survive round cleanup; a repeat
	// commit accumulates into the same ledger entry so the sum of escrowed
	// entries always matches the vault balance.
	deposit := &SafetyDeposit{
		Offeror: offeror,
		Amount:  cloneBigInt(escrowed),
		Status:  DepositEscrowed,
	}
	if prior, ok := e.state.DepositGet(offeror); ok && prior.Status == DepositEscrowed {
		deposit.Amount = new(big.Int).Add(prior.Amount, escrowed)
	}
	if err := e.state.CommitmentPut(&Commitment{
		Offeror:     offeror,
		Hash:        commitment,
		DepositPaid: cloneBigInt(escrowed),
		CommittedAt: e.now(),
	}); err != nil {
		return err
	}
	if err := e.state.MarkCommitmentUsed(commitment); err != nil {
		return err
	}
	if err := e.state.DepositPut(deposit); err != nil {
		return err
	}
	if err := e.transfer(offeror, vault, escrowed); err != nil {
		return err
	}
	e.emit(NewOfferCommittedEvent(offeror, escrowed))
	return nil
}

// RevealOffer verifies a disclosed (amount, nonce) pair against the stored
// commitment and records the revealed offer.
func (e *Engine) RevealOffer(offeror [20]byte, amount, nonce *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if e.phase(a) != PhaseReveal {
		return fmt.Errorf("%w: reveal window closed", ErrPhaseViolation)
	}
	commitment, ok := e.state.CommitmentGet(offeror)
	if !ok {
		return ErrNoCommitment
	}
	hash, err := ComputeCommitment(amount, nonce)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommitmentMismatch, err)
	}
	if hash != commitment.Hash {
		return ErrCommitmentMismatch
	}
	if amount.Cmp(a.MinimumBid) < 0 {
		return ErrBelowMinimumBid
	}
	if err := e.state.RevealPut(&RevealedOffer{
		Offeror:    offeror,
		Amount:     cloneBigInt(amount),
		RevealTime: e.now(),
	}); err != nil {
		return err
	}
	e.emit(NewOfferRevealedEvent(offeror, amount))
	return nil
}

// AcceptOffer records the owner's one-shot selection of a revealed offeror
// once the grace period has ended, locking the auction.
func (e *Engine) AcceptOffer(caller, selected [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if err := e.requireOwner(a, caller); err != nil {
		return err
	}
	if e.phase(a) != PhaseGraceExpired {
		return fmt.Errorf("%w: grace period has not yet ended", ErrPhaseViolation)
	}
	if a.Locked {
		return ErrAlreadyLocked
	}
	offer, ok := e.state.RevealGet(selected)
	if !ok {
		return ErrOfferorNotRevealed
	}
	a.Accepted = true
	a.AcceptedOfferor = selected
	a.Locked = true
	if err := e.state.AuctionPut(a); err != nil {
		return err
	}
	e.emit(NewContractAcceptedEvent(selected, offer.Amount))
	e.emit(NewContractLockedEvent(caller))
	return nil
}

// EmergencyUnlock clears the lock placed by acceptance. Owner only.
func (e *Engine) EmergencyUnlock(caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if err := e.requireOwner(a, caller); err != nil {
		return err
	}
	if !a.Locked {
		return ErrNotLocked
	}
	a.Locked = false
	if err := e.state.AuctionPut(a); err != nil {
		return err
	}
	e.emit(NewContractUnlockedEvent(a.Owner))
	return nil
}

// RefundAcceptedOfferorDeposit releases the accepted offeror's escrowed
// safety deposit back to them. Owner only.
func (e *Engine) RefundAcceptedOfferorDeposit(caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if err := e.requireOwner(a, caller); err != nil {
		return err
	}
	if !a.Accepted {
		return ErrNothingToRefund
	}
	deposit, ok := e.state.DepositGet(a.AcceptedOfferor)
	if !ok || deposit.Status != DepositEscrowed {
		return ErrNothingToRefund
	}
	vault, err := e.state.VaultAddress()
	if err != nil {
		return err
	}
	if err := e.transfer(vault, deposit.Offeror, deposit.Amount); err != nil {
		return err
	}
	deposit.Status = DepositRefunded
	if err := e.state.DepositPut(deposit); err != nil {
		return err
	}
	e.emit(NewSafetyDepositRefundedEvent(deposit.Offeror, deposit.Amount))
	return nil
}

// HandleNoValidOffers re-arms the auction timers when a round closed without
// a qualifying revealed offer. The current round's commitments and reveals
// are cleared; the global used-commitment set is kept so consumed hashes stay
// unusable forever. Owner only.
func (e *Engine) HandleNoValidOffers(caller [20]byte, extension int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if err := e.requireOwner(a, caller); err != nil {
		return err
	}
	if e.phase(a) != PhaseGraceExpired {
		return fmt.Errorf("%w: grace period has not yet ended", ErrPhaseViolation)
	}
	if extension <= 0 {
		return fmt.Errorf("auction: extension duration must be positive")
	}
	offerors, err := e.state.Offerors()
	if err != nil {
		return err
	}
	for _, offeror := range offerors {
		if _, ok := e.state.RevealGet(offeror); ok {
			return ErrValidOffersPresent
		}
	}
	if err := e.clearRound(offerors); err != nil {
		return err
	}
	a.UnlockTime = e.now() + extension
	a.GracePeriodEnd = a.UnlockTime + a.GracePeriod
	if err := e.state.AuctionPut(a); err != nil {
		return err
	}
	e.emit(NewNoValidOffersFoundEvent())
	e.emit(NewContractResetEvent(a.UnlockTime))
	return nil
}

// UpdateGracePeriod replaces the grace period, re-deriving the grace window
// end from the current unlock time. Owner only, legal in any phase.
func (e *Engine) UpdateGracePeriod(caller [20]byte, newGracePeriod int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if err := e.requireOwner(a, caller); err != nil {
		return err
	}
	if newGracePeriod <= 0 || newGracePeriod > MaxGracePeriod {
		return ErrInvalidGracePeriod
	}
	a.GracePeriod = newGracePeriod
	a.GracePeriodEnd = a.UnlockTime + newGracePeriod
	if err := e.state.AuctionPut(a); err != nil {
		return err
	}
	e.emit(NewGracePeriodUpdatedEvent(newGracePeriod))
	return nil
}

// ResetContract restarts the auction with fresh timers and replacement
// budget/bid configuration, clearing the per-round commitment and reveal
// tables. The used-commitment set survives. Owner only, rejected while
// locked.
func (e *Engine) ResetContract(caller [20]byte, newUnlockDuration, newGracePeriod int64, newTotalBudget, newMinimumBid *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if err := e.requireOwner(a, caller); err != nil {
		return err
	}
	if a.Locked {
		return ErrAlreadyLocked
	}
	if newUnlockDuration <= 0 {
		return fmt.Errorf("auction: unlock duration must be positive")
	}
	if newGracePeriod <= 0 || newGracePeriod > MaxGracePeriod {
		return ErrInvalidGracePeriod
	}
	if newTotalBudget == nil || newTotalBudget.Sign() < 0 || newMinimumBid == nil || newMinimumBid.Sign() < 0 {
		return fmt.Errorf("auction: amounts must be non-negative")
	}
	offerors, err := e.state.Offerors()
	if err != nil {
		return err
	}
	if err := e.clearRound(offerors); err != nil {
		return err
	}
	budgetChanged := a.TotalBudget.Cmp(newTotalBudget) != 0
	minimumChanged := a.MinimumBid.Cmp(newMinimumBid) != 0
	graceChanged := a.GracePeriod != newGracePeriod
	now := e.now()
	a.TotalBudget = cloneBigInt(newTotalBudget)
	a.MinimumBid = cloneBigInt(newMinimumBid)
	a.UnlockDuration = newUnlockDuration
	a.GracePeriod = newGracePeriod
	a.UnlockTime = now + newUnlockDuration
	a.GracePeriodEnd = a.UnlockTime + newGracePeriod
	a.Accepted = false
	a.AcceptedOfferor = [20]byte{}
	a.Started = false
	a.StartTime = 0
	a.StateApproval = false
	if err := e.state.AuctionPut(a); err != nil {
		return err
	}
	if budgetChanged {
		e.emit(NewTotalBudgetUpdatedEvent(a.TotalBudget))
	}
	if minimumChanged {
		e.emit(NewMinimumBidUpdatedEvent(a.MinimumBid))
	}
	if graceChanged {
		e.emit(NewGracePeriodUpdatedEvent(a.GracePeriod))
	}
	e.emit(NewUnlockTimeUpdatedEvent(a.UnlockTime))
	e.emit(NewContractResetEvent(a.UnlockTime))
	return nil
}

// StartContract records the moment the accepted offeror begins the awarded
// work. One-shot, accepted offeror only.
func (e *Engine) StartContract(caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if !a.Accepted {
		return ErrNotAccepted
	}
	if caller != a.AcceptedOfferor {
		return ErrUnauthorized
	}
	if a.Started {
		return ErrAlreadyStarted
	}
	a.Started = true
	a.StartTime = e.now()
	if err := e.state.AuctionPut(a); err != nil {
		return err
	}
	e.emit(NewContractStartedEvent(a.StartTime))
	return nil
}

// ApproveState records the owner's one-shot approval of the delivered
// contract state.
func (e *Engine) ApproveState(caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return err
	}
	if err := e.requireOwner(a, caller); err != nil {
		return err
	}
	if !a.Started {
		return ErrNotStarted
	}
	if a.StateApproval {
		return ErrAlreadyApproved
	}
	a.StateApproval = true
	if err := e.state.AuctionPut(a); err != nil {
		return err
	}
	e.emit(NewStateApprovedEvent(a.Owner))
	return nil
}

// ContractEndTime derives the end of the awarded contract from its start time
// and the configured duration.
func (e *Engine) ContractEndTime() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return 0, err
	}
	if !a.Started {
		return 0, ErrNotStarted
	}
	return a.StartTime + a.ContractDuration, nil
}

// Auction returns a copy of the current auction record.
func (e *Engine) Auction() (*Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// Phase reports the phase of the auction at the engine's current time.
func (e *Engine) Phase() (Phase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, err := e.loadAuction()
	if err != nil {
		return 0, err
	}
	return e.phase(a), nil
}

// CommitmentOf returns the live commitment for an offeror, if any.
func (e *Engine) CommitmentOf(offeror [20]byte) (*Commitment, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, false, errNilState
	}
	commitment, ok := e.state.CommitmentGet(offeror)
	if !ok {
		return nil, false, nil
	}
	return commitment.Clone(), true, nil
}

// RevealedOfferOf returns the revealed offer for an offeror, if any.
func (e *Engine) RevealedOfferOf(offeror [20]byte) (*RevealedOffer, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, false, errNilState
	}
	offer, ok := e.state.RevealGet(offeror)
	if !ok {
		return nil, false, nil
	}
	return offer.Clone(), true, nil
}

// DepositOf returns the safety deposit ledger entry for an offeror, if any.
func (e *Engine) DepositOf(offeror [20]byte) (*SafetyDeposit, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, false, errNilState
	}
	deposit, ok := e.state.DepositGet(offeror)
	if !ok {
		return nil, false, nil
	}
	return deposit.Clone(), true, nil
}

func (e *Engine) clearRound(offerors [][20]byte) error {
	for _, offeror := range offerors {
		if err := e.state.CommitmentDelete(offeror); err != nil {
			return err
		}
		if err := e.state.RevealDelete(offeror); err != nil {
			return err
		}
	}
	return nil
}
