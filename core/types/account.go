package types

import "math/big"

// Account tracks the spendable balance and registered username for a portal
// participant. Balances are fixed-point integer amounts of the portal's
// settlement unit.
type Account struct {
	Nonce    uint64   `json:"nonce"`
	Balance  *big.Int `json:"balance"`
	Username string   `json:"username"`
}
