package web3

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Client defines the common interface that any chain implementation must
// provide so the bridge and bet adapters can interact with different
// networks uniformly.
type Client interface {
	Name() string
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ChainID(ctx context.Context) (string, error)
	Transact(ctx context.Context, auth *bind.TransactOpts, to common.Address, abiJSON, method string, params ...any) (*coretypes.Transaction, error)
	Call(ctx context.Context, to common.Address, abiJSON, method string, results *[]any, params ...any) error
	WaitMined(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error)
	Receipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	Close()
}
