package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tenderd/core/types"
	"tenderd/native/auction"
	"tenderd/storage"
)

const (
	keyAuction      = "auction/meta"
	keyOfferorIndex = "auction/offerors"

	prefixCommitment = "auction/commitment/"
	prefixReveal     = "auction/reveal/"
	prefixDeposit    = "auction/deposit/"
	prefixUsed       = "auction/used/"
	prefixAccount    = "account/"
)

var errNilDatabase = errors.New("state: database not configured")

// AuctionState persists the auction singleton, the per-round commitment and
// reveal tables, the deposit ledger, the global used-commitment set, and the
// participant accounts in a key-value database. It satisfies the engine's
// state interface so the machine resumes cleanly after a restart.
type AuctionState struct {
	db    storage.Database
	vault [20]byte
}

// NewAuctionState wraps the supplied database. The vault address is derived
// deterministically from a fixed label so every deployment custodies deposits
// at the same account.
func NewAuctionState(db storage.Database) (*AuctionState, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	var vault [20]byte
	copy(vault[:], ethcrypto.Keccak256([]byte("tenderd/auction-vault"))[12:])
	return &AuctionState{db: db, vault: vault}, nil
}

// VaultAddress returns the module account that escrows safety deposits.
func (s *AuctionState) VaultAddress() ([20]byte, error) {
	if s == nil || s.db == nil {
		return [20]byte{}, errNilDatabase
	}
	return s.vault, nil
}

func (s *AuctionState) getJSON(key string, out interface{}) (bool, error) {
	ok, err := s.db.Has([]byte(key))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	raw, err := s.db.Get([]byte(key))
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *AuctionState) putJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return s.db.Put([]byte(key), raw)
}

type auctionRecord struct {
	Owner               []byte   `json:"owner"`
	TotalBudget         *big.Int `json:"totalBudget"`
	MinimumBid          *big.Int `json:"minimumBid"`
	SafetyDepositAmount *big.Int `json:"safetyDepositAmount"`
	DeploymentTime      int64    `json:"deploymentTime"`
	UnlockDuration      int64    `json:"unlockDuration"`
	GracePeriod         int64    `json:"gracePeriod"`
	UnlockTime          int64    `json:"unlockTime"`
	GracePeriodEnd      int64    `json:"gracePeriodEnd"`
	ContractDuration    int64    `json:"contractDuration"`
	MaxOfferors         uint64   `json:"maxOfferors"`
	Locked              bool     `json:"locked"`
	Accepted            bool     `json:"accepted"`
	AcceptedOfferor     []byte   `json:"acceptedOfferor,omitempty"`
	Started             bool     `json:"started"`
	StartTime           int64    `json:"startTime,omitempty"`
	StateApproval       bool     `json:"stateApproval"`
}

// AuctionGet loads the auction singleton.
func (s *AuctionState) AuctionGet() (*auction.Auction, bool) {
	var rec auctionRecord
	ok, err := s.getJSON(keyAuction, &rec)
	if err != nil || !ok {
		return nil, false
	}
	a := &auction.Auction{
		TotalBudget:         rec.TotalBudget,
		MinimumBid:          rec.MinimumBid,
		SafetyDepositAmount: rec.SafetyDepositAmount,
		DeploymentTime:      rec.DeploymentTime,
		UnlockDuration:      rec.UnlockDuration,
		GracePeriod:         rec.GracePeriod,
		UnlockTime:          rec.UnlockTime,
		GracePeriodEnd:      rec.GracePeriodEnd,
		ContractDuration:    rec.ContractDuration,
		MaxOfferors:         rec.MaxOfferors,
		Locked:              rec.Locked,
		Accepted:            rec.Accepted,
		Started:             rec.Started,
		StartTime:           rec.StartTime,
		StateApproval:       rec.StateApproval,
	}
	copy(a.Owner[:], rec.Owner)
	copy(a.AcceptedOfferor[:], rec.AcceptedOfferor)
	return a, true
}

// AuctionPut stores the auction singleton.
func (s *AuctionState) AuctionPut(a *auction.Auction) error {
	if a == nil {
		return fmt.Errorf("state: nil auction")
	}
	rec := auctionRecord{
		Owner:               append([]byte(nil), a.Owner[:]...),
		TotalBudget:         a.TotalBudget,
		MinimumBid:          a.MinimumBid,
		SafetyDepositAmount: a.SafetyDepositAmount,
		DeploymentTime:      a.DeploymentTime,
		UnlockDuration:      a.UnlockDuration,
		GracePeriod:         a.GracePeriod,
		UnlockTime:          a.UnlockTime,
		GracePeriodEnd:      a.GracePeriodEnd,
		ContractDuration:    a.ContractDuration,
		MaxOfferors:         a.MaxOfferors,
		Locked:              a.Locked,
		Accepted:            a.Accepted,
		AcceptedOfferor:     append([]byte(nil), a.AcceptedOfferor[:]...),
		Started:             a.Started,
		StartTime:           a.StartTime,
		StateApproval:       a.StateApproval,
	}
	return s.putJSON(keyAuction, rec)
}

type commitmentRecord struct {
	Offeror     []byte   `json:"offeror"`
	Hash        []byte   `json:"hash"`
	DepositPaid *big.Int `json:"depositPaid"`
	CommittedAt int64    `json:"committedAt"`
}

func commitmentKey(offeror [20]byte) string {
	return prefixCommitment + string(offeror[:])
}

// CommitmentGet loads the live commitment of an offeror for this round.
func (s *AuctionState) CommitmentGet(offeror [20]byte) (*auction.Commitment, bool) {
	var rec commitmentRecord
	ok, err := s.getJSON(commitmentKey(offeror), &rec)
	if err != nil || !ok {
		return nil, false
	}
	c := &auction.Commitment{DepositPaid: rec.DepositPaid, CommittedAt: rec.CommittedAt}
	copy(c.Offeror[:], rec.Offeror)
	copy(c.Hash[:], rec.Hash)
	return c, true
}

// CommitmentPut stores a commitment and indexes its offeror.
func (s *AuctionState) CommitmentPut(c *auction.Commitment) error {
	if c == nil {
		return fmt.Errorf("state: nil commitment")
	}
	rec := commitmentRecord{
		Offeror:     append([]byte(nil), c.Offeror[:]...),
		Hash:        append([]byte(nil), c.Hash[:]...),
		DepositPaid: c.DepositPaid,
		CommittedAt: c.CommittedAt,
	}
	if err := s.putJSON(commitmentKey(c.Offeror), rec); err != nil {
		return err
	}
	return s.indexOfferor(c.Offeror)
}

// CommitmentDelete removes an offeror's commitment and index entry.
func (s *AuctionState) CommitmentDelete(offeror [20]byte) error {
	if err := s.db.Delete([]byte(commitmentKey(offeror))); err != nil {
		return err
	}
	return s.unindexOfferor(offeror)
}

func (s *AuctionState) indexOfferor(offeror [20]byte) error {
	index, err := s.offerorIndex()
	if err != nil {
		return err
	}
	key := hex.EncodeToString(offeror[:])
	for _, existing := range index {
		if existing == key {
			return nil
		}
	}
	index = append(index, key)
	sort.Strings(index)
	return s.putJSON(keyOfferorIndex, index)
}

func (s *AuctionState) unindexOfferor(offeror [20]byte) error {
	index, err := s.offerorIndex()
	if err != nil {
		return err
	}
	key := hex.EncodeToString(offeror[:])
	filtered := index[:0]
	for _, existing := range index {
		if existing != key {
			filtered = append(filtered, existing)
		}
	}
	return s.putJSON(keyOfferorIndex, filtered)
}

func (s *AuctionState) offerorIndex() ([]string, error) {
	var index []string
	if _, err := s.getJSON(keyOfferorIndex, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// Offerors lists every offeror with a live commitment this round.
func (s *AuctionState) Offerors() ([][20]byte, error) {
	index, err := s.offerorIndex()
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(index))
	for _, key := range index {
		raw, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("state: decode offeror index entry: %w", err)
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
	}
	return out, nil
}

type revealRecord struct {
	Offeror    []byte   `json:"offeror"`
	Amount     *big.Int `json:"amount"`
	RevealTime int64    `json:"revealTime"`
}

func revealKey(offeror [20]byte) string {
	return prefixReveal + string(offeror[:])
}

// RevealGet loads the revealed offer of an offeror, if any.
func (s *AuctionState) RevealGet(offeror [20]byte) (*auction.RevealedOffer, bool) {
	var rec revealRecord
	ok, err := s.getJSON(revealKey(offeror), &rec)
	if err != nil || !ok {
		return nil, false
	}
	r := &auction.RevealedOffer{Amount: rec.Amount, RevealTime: rec.RevealTime}
	copy(r.Offeror[:], rec.Offeror)
	return r, true
}

// RevealPut stores a revealed offer.
func (s *AuctionState) RevealPut(r *auction.RevealedOffer) error {
	if r == nil {
		return fmt.Errorf("state: nil revealed offer")
	}
	rec := revealRecord{
		Offeror:    append([]byte(nil), r.Offeror[:]...),
		Amount:     r.Amount,
		RevealTime: r.RevealTime,
	}
	return s.putJSON(revealKey(r.Offeror), rec)
}

// RevealDelete removes a revealed offer if present.
func (s *AuctionState) RevealDelete(offeror [20]byte) error {
	return s.db.Delete([]byte(revealKey(offeror)))
}

type depositRecord struct {
	Offeror []byte   `json:"offeror"`
	Amount  *big.Int `json:"amount"`
	Status  uint8    `json:"status"`
}

func depositKey(offeror [20]byte) string {
	return prefixDeposit + string(offeror[:])
}

// DepositGet loads the safety deposit ledger entry of an offeror.
func (s *AuctionState) DepositGet(offeror [20]byte) (*auction.SafetyDeposit, bool) {
	var rec depositRecord
	ok, err := s.getJSON(depositKey(offeror), &rec)
	if err != nil || !ok {
		return nil, false
	}
	d := &auction.SafetyDeposit{Amount: rec.Amount, Status: auction.DepositStatus(rec.Status)}
	copy(d.Offeror[:], rec.Offeror)
	return d, true
}

// DepositPut stores a safety deposit ledger entry.
func (s *AuctionState) DepositPut(d *auction.SafetyDeposit) error {
	if d == nil {
		return fmt.Errorf("state: nil deposit")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("state: invalid deposit status %d", d.Status)
	}
	rec := depositRecord{
		Offeror: append([]byte(nil), d.Offeror[:]...),
		Amount:  d.Amount,
		Status:  uint8(d.Status),
	}
	return s.putJSON(depositKey(d.Offeror), rec)
}

// CommitmentUsed reports whether a commitment hash was ever consumed, in any
// round since deployment.
func (s *AuctionState) CommitmentUsed(hash [32]byte) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNilDatabase
	}
	return s.db.Has([]byte(prefixUsed + string(hash[:])))
}

// MarkCommitmentUsed appends a hash to the global used-commitment set. The set
// is never cleared, not even by a contract reset.
func (s *AuctionState) MarkCommitmentUsed(hash [32]byte) error {
	if s == nil || s.db == nil {
		return errNilDatabase
	}
	return s.db.Put([]byte(prefixUsed+string(hash[:])), []byte{1})
}

// GetAccount loads a participant account, returning an empty account for
// unknown addresses.
func (s *AuctionState) GetAccount(addr []byte) (*types.Account, error) {
	if s == nil || s.db == nil {
		return nil, errNilDatabase
	}
	var acc types.Account
	ok, err := s.getJSON(prefixAccount+string(addr), &acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return &acc, nil
}

// PutAccount stores a participant account.
func (s *AuctionState) PutAccount(addr []byte, account *types.Account) error {
	if s == nil || s.db == nil {
		return errNilDatabase
	}
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return s.putJSON(prefixAccount+string(addr), account)
}
