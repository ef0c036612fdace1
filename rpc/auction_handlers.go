package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"tenderd/crypto"
	"tenderd/native/auction"
)

const (
	codeAuctionInvalidParams = -32021
	codeAuctionNotFound      = -32022
	codeAuctionForbidden     = -32023
	codeAuctionConflict      = -32024
	codeAuctionInternal      = -32025
)

type commitOfferParams struct {
	Offeror    string `json:"offeror"`
	Commitment string `json:"commitment"`
	Deposit    string `json:"deposit"`
}

type revealOfferParams struct {
	Offeror string `json:"offeror"`
	Amount  string `json:"amount"`
	Nonce   string `json:"nonce"`
}

type acceptOfferParams struct {
	Caller  string `json:"caller"`
	Offeror string `json:"offeror"`
}

type callerParams struct {
	Caller string `json:"caller"`
}

type noValidOffersParams struct {
	Caller    string `json:"caller"`
	Extension int64  `json:"extensionDuration"`
}

type updateGracePeriodParams struct {
	Caller         string `json:"caller"`
	NewGracePeriod int64  `json:"newGracePeriod"`
}

type resetContractParams struct {
	Caller            string `json:"caller"`
	NewUnlockDuration int64  `json:"newUnlockDuration"`
	NewGracePeriod    int64  `json:"newGracePeriod"`
	NewTotalBudget    string `json:"newTotalBudget"`
	NewMinimumBid     string `json:"newMinimumBid"`
}

type offerorParams struct {
	Offeror string `json:"offeror"`
}

type auctionJSON struct {
	Owner               string `json:"owner"`
	TotalBudget         string `json:"totalBudget"`
	MinimumBid          string `json:"minimumBid"`
	SafetyDepositAmount string `json:"safetyDepositAmount"`
	DeploymentTime      int64  `json:"deploymentTime"`
	UnlockTime          int64  `json:"unlockTime"`
	GracePeriod         int64  `json:"gracePeriod"`
	GracePeriodEnd      int64  `json:"gracePeriodEnd"`
	ContractDuration    int64  `json:"contractDuration"`
	MaxOfferors         uint64 `json:"maxOfferors"`
	Phase               string `json:"phase"`
	Locked              bool   `json:"locked"`
	Accepted            bool   `json:"accepted"`
	AcceptedOfferor     string `json:"acceptedOfferor,omitempty"`
	Started             bool   `json:"started"`
	StartTime           int64  `json:"startTime,omitempty"`
	StateApproval       bool   `json:"stateApproval"`
}

type commitmentJSON struct {
	Offeror     string `json:"offeror"`
	Hash        string `json:"hash"`
	DepositPaid string `json:"depositPaid"`
	CommittedAt int64  `json:"committedAt"`
}

type revealedOfferJSON struct {
	Offeror    string `json:"offeror"`
	Amount     string `json:"amount"`
	RevealTime int64  `json:"revealTime"`
}

type depositJSON struct {
	Offeror string `json:"offeror"`
	Amount  string `json:"amount"`
	Status  string `json:"status"`
}

type ackResult struct {
	Status string `json:"status"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return value, nil
}

func parseHash(raw string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid commitment hash: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("commitment hash must be 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeAuctionInvalidParams, "invalid_params", err.Error())
}

// writeEngineError maps an engine validation failure onto the RPC error
// vocabulary. The engine guarantees the state is untouched, so every failure
// is safe to surface verbatim.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, auction.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeAuctionForbidden, "forbidden", err.Error())
	case errors.Is(err, auction.ErrNotDeployed):
		writeError(w, http.StatusNotFound, id, codeAuctionNotFound, "not_found", err.Error())
	case errors.Is(err, auction.ErrPhaseViolation),
		errors.Is(err, auction.ErrDuplicateCommitment),
		errors.Is(err, auction.ErrCommitmentReplay),
		errors.Is(err, auction.ErrDepositMismatch),
		errors.Is(err, auction.ErrNoCommitment),
		errors.Is(err, auction.ErrCommitmentMismatch),
		errors.Is(err, auction.ErrBelowMinimumBid),
		errors.Is(err, auction.ErrAlreadyLocked),
		errors.Is(err, auction.ErrNotLocked),
		errors.Is(err, auction.ErrOfferorNotRevealed),
		errors.Is(err, auction.ErrNothingToRefund),
		errors.Is(err, auction.ErrInvalidGracePeriod),
		errors.Is(err, auction.ErrOfferorLimitReached),
		errors.Is(err, auction.ErrValidOffersPresent),
		errors.Is(err, auction.ErrNotAccepted),
		errors.Is(err, auction.ErrAlreadyStarted),
		errors.Is(err, auction.ErrNotStarted),
		errors.Is(err, auction.ErrAlreadyApproved),
		errors.Is(err, auction.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, id, codeAuctionConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeAuctionInternal, "internal_error", err.Error())
	}
}

func (s *Server) handleCommitOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params commitOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	offeror, err := parseAddress(params.Offeror)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	commitment, err := parseHash(params.Commitment)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	deposit, err := parseAmount(params.Deposit)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.CommitOffer(offeror, commitment, deposit); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "committed"})
}

func (s *Server) handleRevealOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params revealOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	offeror, err := parseAddress(params.Offeror)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	nonce, err := parseAmount(params.Nonce)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.RevealOffer(offeror, amount, nonce); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "revealed"})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params acceptOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	offeror, err := parseAddress(params.Offeror)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.AcceptOffer(caller, offeror); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "accepted"})
}

func (s *Server) handleEmergencyUnlock(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.EmergencyUnlock(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "unlocked"})
}

func (s *Server) handleRefundDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.RefundAcceptedOfferorDeposit(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "refunded"})
}

func (s *Server) handleNoValidOffers(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params noValidOffersParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.HandleNoValidOffers(caller, params.Extension); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "reset"})
}

func (s *Server) handleUpdateGracePeriod(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params updateGracePeriodParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.UpdateGracePeriod(caller, params.NewGracePeriod); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "updated"})
}

func (s *Server) handleResetContract(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params resetContractParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	budget, err := parseAmount(params.NewTotalBudget)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	minimum, err := parseAmount(params.NewMinimumBid)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.ResetContract(caller, params.NewUnlockDuration, params.NewGracePeriod, budget, minimum); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "reset"})
}

func (s *Server) handleStartContract(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.StartContract(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "started"})
}

func (s *Server) handleApproveState(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.engine.ApproveState(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ackResult{Status: "approved"})
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	a, err := s.engine.Auction()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	phase, err := s.engine.Phase()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	result := auctionJSON{
		Owner:               addressString(a.Owner),
		TotalBudget:         a.TotalBudget.String(),
		MinimumBid:          a.MinimumBid.String(),
		SafetyDepositAmount: a.SafetyDepositAmount.String(),
		DeploymentTime:      a.DeploymentTime,
		UnlockTime:          a.UnlockTime,
		GracePeriod:         a.GracePeriod,
		GracePeriodEnd:      a.GracePeriodEnd,
		ContractDuration:    a.ContractDuration,
		MaxOfferors:         a.MaxOfferors,
		Phase:               phase.String(),
		Locked:              a.Locked,
		Accepted:            a.Accepted,
		Started:             a.Started,
		StartTime:           a.StartTime,
		StateApproval:       a.StateApproval,
	}
	if a.Accepted {
		result.AcceptedOfferor = addressString(a.AcceptedOfferor)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetCommitment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params offerorParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	offeror, err := parseAddress(params.Offeror)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	commitment, ok, err := s.engine.CommitmentOf(offeror)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeAuctionNotFound, "not_found", "no commitment for offeror")
		return
	}
	writeResult(w, req.ID, commitmentJSON{
		Offeror:     addressString(commitment.Offeror),
		Hash:        hex.EncodeToString(commitment.Hash[:]),
		DepositPaid: commitment.DepositPaid.String(),
		CommittedAt: commitment.CommittedAt,
	})
}

func (s *Server) handleGetRevealedOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params offerorParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	offeror, err := parseAddress(params.Offeror)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	offer, ok, err := s.engine.RevealedOfferOf(offeror)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeAuctionNotFound, "not_found", "no revealed offer for offeror")
		return
	}
	writeResult(w, req.ID, revealedOfferJSON{
		Offeror:    addressString(offer.Offeror),
		Amount:     offer.Amount.String(),
		RevealTime: offer.RevealTime,
	})
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params offerorParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	offeror, err := parseAddress(params.Offeror)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	deposit, ok, err := s.engine.DepositOf(offeror)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeAuctionNotFound, "not_found", "no deposit for offeror")
		return
	}
	writeResult(w, req.ID, depositJSON{
		Offeror: addressString(deposit.Offeror),
		Amount:  deposit.Amount.String(),
		Status:  deposit.Status.String(),
	})
}

func addressString(addr [20]byte) string {
	return crypto.NewAddress(crypto.TNDPrefix, addr[:]).String()
}
