package auction

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func TestComputeCommitmentVectors(t *testing.T) {
	cases := []struct {
		name   string
		amount *big.Int
		nonce  *big.Int
		want   string
	}{
		{
			name:   "small values",
			amount: big.NewInt(600),
			nonce:  big.NewInt(7),
			want:   "10e1d521b80b6a244f273da5d76441c35c86907c122c4d9bb88ab0ae851ea3f4",
		},
		{
			name:   "wei-scale amount",
			amount: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
			nonce:  big.NewInt(123_456_789),
			want:   "613bbcd50a7cfa7f7aa1e05870fcb051b0e6d264d81b6b066091ab68ea17941e",
		},
		{
			name:   "zero values",
			amount: big.NewInt(0),
			nonce:  big.NewInt(0),
			want:   "ad3228b676f7d3cd4284a5443f17f1962b36e491b30a40b2405849e597ba5fb5",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := ComputeCommitment(tc.amount, tc.nonce)
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			if got := hex.EncodeToString(hash[:]); got != tc.want {
				t.Fatalf("hash = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestComputeCommitmentRejectsInvalidValues(t *testing.T) {
	overflow := new(big.Int).Lsh(big.NewInt(1), 256)

	if _, err := ComputeCommitment(nil, big.NewInt(1)); err == nil {
		t.Fatalf("nil amount must be rejected")
	}
	if _, err := ComputeCommitment(big.NewInt(1), nil); err == nil {
		t.Fatalf("nil nonce must be rejected")
	}
	if _, err := ComputeCommitment(big.NewInt(-1), big.NewInt(1)); err == nil {
		t.Fatalf("negative amount must be rejected")
	}
	if _, err := ComputeCommitment(overflow, big.NewInt(1)); err == nil {
		t.Fatalf("amount over 256 bits must be rejected")
	}
	if _, err := ComputeCommitment(big.NewInt(1), overflow); err == nil {
		t.Fatalf("nonce over 256 bits must be rejected")
	}
}

func TestSanitizeAuction(t *testing.T) {
	valid := &Auction{
		Owner:               newTestAddress(0x01),
		TotalBudget:         big.NewInt(10_000),
		MinimumBid:          big.NewInt(500),
		SafetyDepositAmount: big.NewInt(100),
		DeploymentTime:      1_700_000_000,
		UnlockDuration:      60,
		GracePeriod:         30,
		UnlockTime:          1_700_000_060,
		GracePeriodEnd:      1_700_000_090,
		ContractDuration:    1_000,
	}

	sanitized, err := SanitizeAuction(valid)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	sanitized.TotalBudget.SetInt64(0)
	if valid.TotalBudget.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("sanitize must not alias the input amounts")
	}

	broken := valid.Clone()
	broken.GracePeriod = MaxGracePeriod + 1
	if _, err := SanitizeAuction(broken); err == nil {
		t.Fatalf("oversized grace period must be rejected")
	}

	inverted := valid.Clone()
	inverted.GracePeriodEnd = inverted.UnlockTime
	if _, err := SanitizeAuction(inverted); err == nil {
		t.Fatalf("unlock time at grace end must be rejected")
	}
}

func TestDepositStatus(t *testing.T) {
	if !DepositEscrowed.Valid() || !DepositRefunded.Valid() || !DepositForfeited.Valid() {
		t.Fatalf("known statuses must be valid")
	}
	if DepositStatus(99).Valid() {
		t.Fatalf("unknown status must be invalid")
	}
	if DepositEscrowed.String() != "escrowed" || DepositRefunded.String() != "refunded" {
		t.Fatalf("unexpected status labels")
	}
}
