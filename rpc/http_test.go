package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tenderd/core/types"
	"tenderd/crypto"
	"tenderd/native/auction"
	"tenderd/state"
	"tenderd/storage"
)

const testToken = "test-rpc-token"

type rpcFixture struct {
	server  *Server
	handler http.Handler
	engine  *auction.Engine
	state   *state.AuctionState
	clock   *int64
	owner   [20]byte
	bidder  [20]byte
}

func newFixture(t *testing.T) *rpcFixture {
	t.Helper()
	t.Setenv("TENDERD_RPC_TOKEN", testToken)

	st, err := state.NewAuctionState(storage.NewMemDB())
	if err != nil {
		t.Fatalf("state: %v", err)
	}

	clock := int64(1_700_000_000)
	engine := auction.NewEngine()
	engine.SetState(st)
	engine.SetNowFunc(func() int64 { return clock })

	var ownerAddr, bidderAddr [20]byte
	ownerAddr[19] = 0x01
	bidderAddr[19] = 0x02

	if _, err := engine.Deploy(auction.Params{
		Owner:               ownerAddr,
		TotalBudget:         big.NewInt(10_000),
		MinimumBid:          big.NewInt(500),
		SafetyDepositAmount: big.NewInt(100),
		UnlockDuration:      60,
		GracePeriod:         30,
		ContractDuration:    1_000,
	}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := st.PutAccount(bidderAddr[:], &types.Account{Balance: big.NewInt(1_000)}); err != nil {
		t.Fatalf("fund bidder: %v", err)
	}

	server := NewServer(engine)
	f := &rpcFixture{
		server:  server,
		handler: server.Handler(),
		engine:  engine,
		state:   st,
		clock:   &clock,
		owner:   ownerAddr,
		bidder:  bidderAddr,
	}
	return f
}

func bech32Addr(addr [20]byte) string {
	return crypto.NewAddress(crypto.TNDPrefix, addr[:]).String()
}

func (f *rpcFixture) call(t *testing.T, method string, params interface{}, authed bool) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func commitmentHex(t *testing.T, amount, nonce int64) string {
	t.Helper()
	hash, err := auction.ComputeCommitment(big.NewInt(amount), big.NewInt(nonce))
	if err != nil {
		t.Fatalf("compute commitment: %v", err)
	}
	return fmt.Sprintf("0x%x", hash[:])
}

func TestGetAuction(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.call(t, "auction_getAuction", nil, false)
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("status=%d error=%+v", rec.Code, resp.Error)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("remarshal result: %v", err)
	}
	var result struct {
		Owner          string `json:"owner"`
		TotalBudget    string `json:"totalBudget"`
		Phase          string `json:"phase"`
		UnlockTime     int64  `json:"unlockTime"`
		GracePeriodEnd int64  `json:"gracePeriodEnd"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Owner != bech32Addr(f.owner) {
		t.Fatalf("owner = %s, want %s", result.Owner, bech32Addr(f.owner))
	}
	if result.TotalBudget != "10000" {
		t.Fatalf("total budget = %s", result.TotalBudget)
	}
	if result.Phase != "bidding" {
		t.Fatalf("phase = %s, want bidding", result.Phase)
	}
	if result.GracePeriodEnd != result.UnlockTime+30 {
		t.Fatalf("grace end = %d, unlock = %d", result.GracePeriodEnd, result.UnlockTime)
	}
}

func TestMutationRequiresAuth(t *testing.T) {
	f := newFixture(t)

	params := map[string]string{
		"offeror":    bech32Addr(f.bidder),
		"commitment": commitmentHex(t, 600, 1),
		"deposit":    "100",
	}
	rec, resp := f.call(t, "auction_commitOffer", params, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeUnauthorized)
	}
}

func TestCommitAndRevealOverRPC(t *testing.T) {
	f := newFixture(t)

	commitParams := map[string]string{
		"offeror":    bech32Addr(f.bidder),
		"commitment": commitmentHex(t, 600, 7),
		"deposit":    "100",
	}
	rec, resp := f.call(t, "auction_commitOffer", commitParams, true)
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("commit status=%d error=%+v", rec.Code, resp.Error)
	}

	rec, resp = f.call(t, "auction_getCommitment", map[string]string{"offeror": bech32Addr(f.bidder)}, false)
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("get commitment status=%d error=%+v", rec.Code, resp.Error)
	}

	*f.clock = 1_700_000_060

	revealParams := map[string]string{
		"offeror": bech32Addr(f.bidder),
		"amount":  "600",
		"nonce":   "7",
	}
	rec, resp = f.call(t, "auction_revealOffer", revealParams, true)
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("reveal status=%d error=%+v", rec.Code, resp.Error)
	}

	rec, resp = f.call(t, "auction_getRevealedOffer", map[string]string{"offeror": bech32Addr(f.bidder)}, false)
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("get reveal status=%d error=%+v", rec.Code, resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var offer struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(raw, &offer); err != nil {
		t.Fatalf("decode reveal: %v", err)
	}
	if offer.Amount != "600" {
		t.Fatalf("revealed amount = %s, want 600", offer.Amount)
	}
}

func TestEngineConflictsMapToConflictCode(t *testing.T) {
	f := newFixture(t)

	commitParams := map[string]string{
		"offeror":    bech32Addr(f.bidder),
		"commitment": commitmentHex(t, 600, 7),
		"deposit":    "100",
	}
	if rec, resp := f.call(t, "auction_commitOffer", commitParams, true); rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("commit status=%d error=%+v", rec.Code, resp.Error)
	}

	*f.clock = 1_700_000_060

	badReveal := map[string]string{
		"offeror": bech32Addr(f.bidder),
		"amount":  "600",
		"nonce":   "8",
	}
	rec, resp := f.call(t, "auction_revealOffer", badReveal, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeAuctionConflict {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeAuctionConflict)
	}
}

func TestUnauthorizedOwnerOperationIsForbidden(t *testing.T) {
	f := newFixture(t)
	*f.clock = 1_700_000_090

	params := map[string]interface{}{
		"caller":            bech32Addr(f.bidder),
		"extensionDuration": int64(120),
	}
	rec, resp := f.call(t, "auction_handleNoValidOffers", params, true)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeAuctionForbidden {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeAuctionForbidden)
	}
}

func TestInvalidParamsRejected(t *testing.T) {
	f := newFixture(t)

	params := map[string]string{
		"offeror":    "not-an-address",
		"commitment": commitmentHex(t, 600, 1),
		"deposit":    "100",
	}
	rec, resp := f.call(t, "auction_commitOffer", params, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeAuctionInvalidParams {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeAuctionInvalidParams)
	}
}

func TestUnknownMethod(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.call(t, "auction_unknown", nil, false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeMethodNotFound)
	}
}

func TestMutationRateLimit(t *testing.T) {
	f := newFixture(t)

	params := map[string]string{
		"offeror":    bech32Addr(f.bidder),
		"commitment": commitmentHex(t, 600, 1),
		"deposit":    "100",
	}
	var lastCode int
	for i := 0; i <= maxTxPerWindow; i++ {
		rec, _ := f.call(t, "auction_commitOffer", params, true)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("final status = %d, want 429", lastCode)
	}
}

func TestRateLimiterEvictsIdleSources(t *testing.T) {
	s := NewServer(nil)
	now := time.Unix(1_700_000_000, 0)
	s.nowFn = func() time.Time { return now }

	if !s.allowSource("10.0.0.1", s.now()) {
		t.Fatal("first source rejected")
	}

	now = now.Add(rateLimiterIdleLimit + rateLimitWindow)
	if !s.allowSource("10.0.0.2", s.now()) {
		t.Fatal("second source rejected")
	}

	s.mu.Lock()
	_, stale := s.rateLimiters["10.0.0.1"]
	entries := len(s.rateLimiters)
	s.mu.Unlock()
	if stale {
		t.Fatal("idle source survived the sweep")
	}
	if entries != 1 {
		t.Fatalf("limiter entries = %d, want 1", entries)
	}
}
