package chain

import (
	"context"
	"errors"
)

// ErrInvalidTx marks a transaction rejected before it is queued.
var ErrInvalidTx = errors.New("invalid transaction")

// Account is a funded principal. JSON field names are part of the
// host-call wire contract.
type Account struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	Balance    uint64 `json:"balance"`
	Mnemonic   string `json:"mnemonic"`
	Derivation string `json:"derivation"`
}

// Contract is deployed at genesis.
type Contract struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Deployer string `json:"deployer"`
}

// Settings seed a fresh simulator.
type Settings struct {
	Accounts  []Account
	Contracts []Contract

	// TxSender is the initial default sender for queued transactions.
	TxSender string
}

// TxKind selects how a transaction is applied.
type TxKind string

const (
	TxTransfer     TxKind = "transfer"
	TxContractCall TxKind = "contract_call"
)

// Tx is a transaction waiting for the next block.
type Tx struct {
	Kind TxKind `json:"kind"`

	// Sender defaults to the simulator's tx sender when empty.
	Sender string `json:"sender,omitempty"`

	Recipient string `json:"recipient,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`

	Contract string   `json:"contract,omitempty"`
	Function string   `json:"function,omitempty"`
	Args     []string `json:"args,omitempty"`
}

// Receipt records the outcome of one applied transaction.
type Receipt struct {
	TxIndex int64  `json:"tx_index"`
	Kind    TxKind `json:"kind"`
	Sender  string `json:"sender"`
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// Block is the result of MineBlock.
type Block struct {
	Height   uint64
	Receipts []Receipt
}

// Simulator executes chain operations for one session.
//
// Implementations must complete promptly; callers hold the session
// registry lock for the duration of each call.
type Simulator interface {
	// MineBlock applies all queued transactions and advances the height by one.
	MineBlock(ctx context.Context) (Block, error)

	// BlockHeight returns the current height (0 at genesis).
	BlockHeight(ctx context.Context) (uint64, error)

	// SetTxSender sets the default sender for subsequently queued transactions.
	SetTxSender(ctx context.Context, address string) error

	// TxSender returns the default sender.
	TxSender(ctx context.Context) (string, error)

	// QueueTx validates and queues tx, returning its index.
	QueueTx(ctx context.Context, tx Tx) (int64, error)

	// Balance returns the balance of address (0 if unknown).
	Balance(ctx context.Context, address string) (uint64, error)

	// Close releases the simulator's state.
	Close() error
}

// Factory constructs a simulator from settings.
type Factory func(ctx context.Context, s Settings) (Simulator, error)
