package hostcall

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/roach88/chainharness/internal/chain"
	"github.com/roach88/chainharness/internal/fault"
)

// Kind names a host call on the wire.
type Kind string

const (
	KindSetupChain  Kind = "setup_chain"
	KindMineBlock   Kind = "mine_block"
	KindSetTxSender Kind = "set_tx_sender"
	KindGetAccounts Kind = "get_accounts"
	KindQueueTx     Kind = "queue_tx"
	KindGetBalance  Kind = "get_balance"
)

// Kinds returns every supported call name in registration order.
func Kinds() []Kind {
	return []Kind{
		KindSetupChain,
		KindMineBlock,
		KindSetTxSender,
		KindGetAccounts,
		KindQueueTx,
		KindGetBalance,
	}
}

// Call is one decoded host call.
type Call interface {
	Kind() Kind
}

// SetupChain creates a session from the project configuration.
type SetupChain struct{}

// MineBlock advances a session by one block.
type MineBlock struct {
	SessionID uint64
}

// SetTxSender changes a session's default sender.
type SetTxSender struct {
	SessionID uint64
	Address   string
}

// GetAccounts returns a session's accounts.
type GetAccounts struct {
	SessionID uint64
}

// QueueTx queues a transaction for the next block.
type QueueTx struct {
	SessionID uint64
	Tx        chain.Tx
}

// GetBalance reads an address balance.
type GetBalance struct {
	SessionID uint64
	Address   string
}

func (SetupChain) Kind() Kind  { return KindSetupChain }
func (MineBlock) Kind() Kind   { return KindMineBlock }
func (SetTxSender) Kind() Kind { return KindSetTxSender }
func (GetAccounts) Kind() Kind { return KindGetAccounts }
func (QueueTx) Kind() Kind     { return KindQueueTx }
func (GetBalance) Kind() Kind  { return KindGetBalance }

// SetupChainResult is the setup_chain output.
type SetupChainResult struct {
	SessionID uint64          `json:"session_id"`
	Accounts  []chain.Account `json:"accounts"`
}

// MineBlockResult is the mine_block output.
type MineBlockResult struct {
	BlockHeight uint64          `json:"block_height"`
	Receipts    []chain.Receipt `json:"receipts"`
}

// SetTxSenderResult is the (empty) set_tx_sender output.
type SetTxSenderResult struct{}

// GetAccountsResult is the get_accounts output.
type GetAccountsResult struct {
	Accounts []chain.Account `json:"accounts"`
}

// QueueTxResult is the queue_tx output.
type QueueTxResult struct {
	TxIndex int64 `json:"tx_index"`
}

// GetBalanceResult is the get_balance output.
type GetBalanceResult struct {
	Balance uint64 `json:"balance"`
}

// Wire argument shapes. Required fields are pointers so a missing field
// is distinguishable from a zero value.

type noArgs struct{}

type sessionArgs struct {
	SessionID *uint64 `json:"session_id"`
}

type addressArgs struct {
	SessionID *uint64 `json:"session_id"`
	Address   *string `json:"address"`
}

type queueTxArgs struct {
	SessionID *uint64  `json:"session_id"`
	Kind      *string  `json:"kind"`
	Sender    string   `json:"sender"`
	Recipient string   `json:"recipient"`
	Amount    uint64   `json:"amount"`
	Contract  string   `json:"contract"`
	Function  string   `json:"function"`
	Args      []string `json:"args"`
}

// Decode parses payload as the arguments of the named call. Unknown
// names, unknown fields, missing required fields and wrong types are
// ArgumentErrors.
func Decode(name string, payload []byte) (Call, error) {
	switch Kind(name) {
	case KindSetupChain:
		if _, err := decodeArgs[noArgs](name, payload); err != nil {
			return nil, err
		}
		return SetupChain{}, nil

	case KindMineBlock, KindGetAccounts:
		a, err := decodeArgs[sessionArgs](name, payload)
		if err != nil {
			return nil, err
		}
		if a.SessionID == nil {
			return nil, missing(name, "session_id")
		}
		if Kind(name) == KindMineBlock {
			return MineBlock{SessionID: *a.SessionID}, nil
		}
		return GetAccounts{SessionID: *a.SessionID}, nil

	case KindSetTxSender, KindGetBalance:
		a, err := decodeArgs[addressArgs](name, payload)
		if err != nil {
			return nil, err
		}
		if a.SessionID == nil {
			return nil, missing(name, "session_id")
		}
		if a.Address == nil {
			return nil, missing(name, "address")
		}
		if Kind(name) == KindSetTxSender {
			return SetTxSender{SessionID: *a.SessionID, Address: *a.Address}, nil
		}
		return GetBalance{SessionID: *a.SessionID, Address: *a.Address}, nil

	case KindQueueTx:
		a, err := decodeArgs[queueTxArgs](name, payload)
		if err != nil {
			return nil, err
		}
		if a.SessionID == nil {
			return nil, missing(name, "session_id")
		}
		if a.Kind == nil {
			return nil, missing(name, "kind")
		}
		return QueueTx{
			SessionID: *a.SessionID,
			Tx: chain.Tx{
				Kind:      chain.TxKind(*a.Kind),
				Sender:    a.Sender,
				Recipient: a.Recipient,
				Amount:    a.Amount,
				Contract:  a.Contract,
				Function:  a.Function,
				Args:      a.Args,
			},
		}, nil

	default:
		return nil, fault.Argument(nil, "unknown host call %q", name)
	}
}

// decodeArgs decodes exactly one JSON object. An empty payload is {}.
func decodeArgs[T any](name string, payload []byte) (T, error) {
	var args T
	if len(bytes.TrimSpace(payload)) == 0 {
		return args, nil
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, fault.Argument(err, "%s: invalid arguments", name)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return args, fault.Argument(nil, "%s: trailing data after arguments", name)
	}
	return args, nil
}

func missing(name, field string) error {
	return fault.Argument(nil, "%s: missing required field %q", name, field)
}
