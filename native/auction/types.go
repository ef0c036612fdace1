package auction

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// MaxGracePeriod bounds the reveal window to seven days of seconds.
const MaxGracePeriod int64 = 7 * 24 * 60 * 60

// Params carries the configuration an auction is deployed with.
type Params struct {
	Owner               [20]byte
	TotalBudget         *big.Int
	MinimumBid          *big.Int
	SafetyDepositAmount *big.Int
	UnlockDuration      int64
	GracePeriod         int64
	ContractDuration    int64
	MaxOfferors         uint64
}

// Auction is the singleton procurement auction record. Timers are absolute
// unix seconds derived at deployment or reset; UnlockTime and GracePeriodEnd
// always satisfy UnlockTime < GracePeriodEnd while GracePeriod is valid.
type Auction struct {
	Owner               [20]byte
	TotalBudget         *big.Int
	MinimumBid          *big.Int
	SafetyDepositAmount *big.Int
	DeploymentTime      int64
	UnlockDuration      int64
	GracePeriod         int64
	UnlockTime          int64
	GracePeriodEnd      int64
	ContractDuration    int64
	MaxOfferors         uint64
	Locked              bool
	Accepted            bool
	AcceptedOfferor     [20]byte
	Started             bool
	StartTime           int64
	StateApproval       bool
}

// Clone returns a deep copy so callers can mutate the copy without touching
// the stored instance.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.TotalBudget = cloneBigInt(a.TotalBudget)
	clone.MinimumBid = cloneBigInt(a.MinimumBid)
	clone.SafetyDepositAmount = cloneBigInt(a.SafetyDepositAmount)
	return &clone
}

// SanitizeAuction validates and normalises an auction record, returning a
// clone with non-nil monetary fields. The original value is not mutated.
func SanitizeAuction(a *Auction) (*Auction, error) {
	if a == nil {
		return nil, fmt.Errorf("nil auction")
	}
	clone := a.Clone()
	if clone.TotalBudget.Sign() < 0 || clone.MinimumBid.Sign() < 0 || clone.SafetyDepositAmount.Sign() < 0 {
		return nil, fmt.Errorf("auction amounts must be non-negative")
	}
	if clone.UnlockDuration <= 0 {
		return nil, fmt.Errorf("unlock duration must be positive")
	}
	if clone.GracePeriod <= 0 || clone.GracePeriod > MaxGracePeriod {
		return nil, ErrInvalidGracePeriod
	}
	if clone.UnlockTime >= clone.GracePeriodEnd {
		return nil, fmt.Errorf("unlock time must precede grace period end")
	}
	return clone, nil
}

// Commitment binds an offeror to a sealed (amount, nonce) pair. DepositPaid
// records the value actually escrowed when the commitment was placed.
type Commitment struct {
	Offeror     [20]byte
	Hash        [32]byte
	DepositPaid *big.Int
	CommittedAt int64
}

// Clone returns a deep copy of the commitment.
func (c *Commitment) Clone() *Commitment {
	if c == nil {
		return nil
	}
	clone := *c
	clone.DepositPaid = cloneBigInt(c.DepositPaid)
	return &clone
}

// RevealedOffer records a successfully disclosed bid.
type RevealedOffer struct {
	Offeror    [20]byte
	Amount     *big.Int
	RevealTime int64
}

// Clone returns a deep copy of the revealed offer.
func (r *RevealedOffer) Clone() *RevealedOffer {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Amount = cloneBigInt(r.Amount)
	return &clone
}

// DepositStatus tracks custody of an offeror's safety deposit.
type DepositStatus uint8

const (
	DepositEscrowed DepositStatus = iota
	DepositRefunded
	DepositForfeited
)

// Valid reports whether the status value is within the supported range.
func (s DepositStatus) Valid() bool {
	switch s {
	case DepositEscrowed, DepositRefunded, DepositForfeited:
		return true
	default:
		return false
	}
}

// String returns the canonical label for the deposit status.
func (s DepositStatus) String() string {
	switch s {
	case DepositEscrowed:
		return "escrowed"
	case DepositRefunded:
		return "refunded"
	case DepositForfeited:
		return "forfeited"
	default:
		return "unknown"
	}
}

// SafetyDeposit is a single ledger entry of escrowed offeror funds.
type SafetyDeposit struct {
	Offeror [20]byte
	Amount  *big.Int
	Status  DepositStatus
}

// Clone returns a deep copy of the deposit entry.
func (d *SafetyDeposit) Clone() *SafetyDeposit {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Amount = cloneBigInt(d.Amount)
	return &clone
}

// ComputeCommitment derives the commitment hash for an (amount, nonce) pair:
// keccak256 over the two values encoded as left-padded 32-byte words. Both
// values must be non-negative and fit in 256 bits.
func ComputeCommitment(amount, nonce *big.Int) ([32]byte, error) {
	var hash [32]byte
	amountWord, err := uint256Word(amount)
	if err != nil {
		return hash, fmt.Errorf("commitment amount: %w", err)
	}
	nonceWord, err := uint256Word(nonce)
	if err != nil {
		return hash, fmt.Errorf("commitment nonce: %w", err)
	}
	copy(hash[:], ethcrypto.Keccak256(amountWord, nonceWord))
	return hash, nil
}

func uint256Word(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("value exceeds 256 bits")
	}
	word := make([]byte, 32)
	v.FillBytes(word)
	return word, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
