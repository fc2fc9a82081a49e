package hostcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/chainharness/internal/chain"
	"github.com/roach88/chainharness/internal/config"
	"github.com/roach88/chainharness/internal/fault"
	"github.com/roach88/chainharness/internal/session"
)

// Bridge executes host calls against a session registry.
type Bridge struct {
	registry *session.Registry
	loader   config.Loader
	root     string
	logger   *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// WithLoader replaces the TOML config loader.
func WithLoader(l config.Loader) Option {
	return func(b *Bridge) {
		b.loader = l
	}
}

// New creates a bridge over registry. setup_chain loads configuration
// from the project at root.
func New(registry *session.Registry, root string, opts ...Option) *Bridge {
	b := &Bridge{
		registry: registry,
		loader:   config.TOMLLoader{},
		root:     root,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Kinds returns the call names this bridge serves.
func (b *Bridge) Kinds() []string {
	kinds := Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// Envelope is the wire response of every call.
type Envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the structured error a script receives.
type ErrorBody struct {
	Code      fault.Code `json:"code"`
	Message   string     `json:"message"`
	SessionID *uint64    `json:"session_id,omitempty"`
}

// Dispatch decodes and invokes the named call and encodes the envelope.
// It never panics and never returns invalid JSON.
func (b *Bridge) Dispatch(ctx context.Context, name string, payload []byte) []byte {
	start := time.Now()

	result, err := b.dispatch(ctx, name, payload)

	var env Envelope
	if err == nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			err = &fault.Error{Code: fault.CodeSimulator, Message: "encode result", Err: merr}
		} else {
			env = Envelope{OK: true, Result: raw}
		}
	}
	if err != nil {
		env = Envelope{Error: errorBody(err)}
		b.logger.Debug("host call failed",
			"call", name,
			"code", env.Error.Code,
			"error", err)
	} else {
		b.logger.Debug("host call",
			"call", name,
			"duration", time.Since(start))
	}

	out, merr := json.Marshal(env)
	if merr != nil {
		// Only reachable if ErrorBody itself cannot be encoded.
		return []byte(`{"ok":false,"error":{"code":"SimulatorError","message":"encode envelope"}}`)
	}
	return out
}

func (b *Bridge) dispatch(ctx context.Context, name string, payload []byte) (any, error) {
	call, err := Decode(name, payload)
	if err != nil {
		return nil, err
	}
	return b.Invoke(ctx, call)
}

// Invoke runs a decoded call. A panic anywhere below is recovered and
// returned as a SimulatorError.
func (b *Bridge) Invoke(ctx context.Context, call Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("host call panicked", "call", call.Kind(), "panic", r)
			result = nil
			err = &fault.Error{
				Code:    fault.CodeSimulator,
				Message: fmt.Sprintf("%s: panic: %v", call.Kind(), r),
			}
		}
	}()

	switch c := call.(type) {
	case SetupChain:
		return b.setupChain(ctx)
	case MineBlock:
		return b.mineBlock(ctx, c)
	case SetTxSender:
		return b.setTxSender(ctx, c)
	case GetAccounts:
		return b.getAccounts(c)
	case QueueTx:
		return b.queueTx(ctx, c)
	case GetBalance:
		return b.getBalance(ctx, c)
	default:
		return nil, fault.Argument(nil, "unsupported host call %T", call)
	}
}

func (b *Bridge) setupChain(ctx context.Context) (SetupChainResult, error) {
	main, chainCfg, err := b.loader.Load(b.root)
	if err != nil {
		return SetupChainResult{}, err
	}

	s, err := b.registry.Create(ctx, main, chainCfg, b.root)
	if err != nil {
		return SetupChainResult{}, err
	}

	return SetupChainResult{SessionID: s.ID, Accounts: s.Accounts}, nil
}

func (b *Bridge) mineBlock(ctx context.Context, c MineBlock) (MineBlockResult, error) {
	var out MineBlockResult
	err := b.registry.With(c.SessionID, func(s *session.Session) error {
		block, err := s.Sim().MineBlock(ctx)
		if err != nil {
			return fault.Simulator(s.ID, err, "mine block")
		}
		out = MineBlockResult{BlockHeight: block.Height, Receipts: block.Receipts}
		if out.Receipts == nil {
			out.Receipts = []chain.Receipt{}
		}
		return nil
	})
	return out, err
}

func (b *Bridge) setTxSender(ctx context.Context, c SetTxSender) (SetTxSenderResult, error) {
	if err := config.ValidateAddress(c.Address); err != nil {
		return SetTxSenderResult{}, err
	}
	err := b.registry.With(c.SessionID, func(s *session.Session) error {
		if err := s.Sim().SetTxSender(ctx, c.Address); err != nil {
			return fault.Simulator(s.ID, err, "set tx sender")
		}
		return nil
	})
	return SetTxSenderResult{}, err
}

func (b *Bridge) getAccounts(c GetAccounts) (GetAccountsResult, error) {
	var out GetAccountsResult
	err := b.registry.With(c.SessionID, func(s *session.Session) error {
		out.Accounts = append([]chain.Account{}, s.Accounts...)
		return nil
	})
	return out, err
}

func (b *Bridge) queueTx(ctx context.Context, c QueueTx) (QueueTxResult, error) {
	for _, addr := range []string{c.Tx.Sender, c.Tx.Recipient} {
		if addr == "" {
			continue
		}
		if err := config.ValidateAddress(addr); err != nil {
			return QueueTxResult{}, err
		}
	}

	var out QueueTxResult
	err := b.registry.With(c.SessionID, func(s *session.Session) error {
		idx, err := s.Sim().QueueTx(ctx, c.Tx)
		if errors.Is(err, chain.ErrInvalidTx) {
			return fault.Argument(err, "queue_tx")
		}
		if err != nil {
			return fault.Simulator(s.ID, err, "queue tx")
		}
		out.TxIndex = idx
		return nil
	})
	return out, err
}

func (b *Bridge) getBalance(ctx context.Context, c GetBalance) (GetBalanceResult, error) {
	if err := config.ValidateAddress(c.Address); err != nil {
		return GetBalanceResult{}, err
	}

	var out GetBalanceResult
	err := b.registry.With(c.SessionID, func(s *session.Session) error {
		bal, err := s.Sim().Balance(ctx, c.Address)
		if err != nil {
			return fault.Simulator(s.ID, err, "balance")
		}
		out.Balance = bal
		return nil
	})
	return out, err
}

func errorBody(err error) *ErrorBody {
	body := &ErrorBody{
		Code:    fault.CodeOf(err),
		Message: err.Error(),
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		body.SessionID = fe.SessionID
	}
	return body
}
