package web3

import (
	"context"
	"math/big"
	"time"

	"swappilot/internal/swap"
)

// Block summarizes the latest block as seen by the validator.
type Block struct {
	Number    uint64
	GasPrice  *big.Int
	Timestamp time.Time
}

// Reader is the read-only subset of chain access the pipeline needs. Amounts
// are returned in the token's base units.
type Reader interface {
	Balance(ctx context.Context, owner string, token swap.Token) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender string, token swap.Token) (*big.Int, error)
	LatestBlock(ctx context.Context) (Block, error)
}

// Chain binds a chain id to its reader and the router that spends approved
// tokens on behalf of the caller.
type Chain struct {
	Name    string
	ID      string
	Spender string
	Reader  Reader
}

// ChainResolver looks up chains by id.
type ChainResolver interface {
	Chain(id string) (Chain, bool)
}
