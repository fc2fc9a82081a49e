package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/chainharness/internal/chain"
	"github.com/roach88/chainharness/internal/config"
	"github.com/roach88/chainharness/internal/fault"
)

// ErrClosed is returned by registry operations after Close. It is
// wrapped in a SimulatorError so host calls report a taxonomy code.
var ErrClosed = errors.New("session registry closed")

// Session is one simulated chain. Accounts and Contracts are immutable
// after creation; chain state changes only through Sim.
type Session struct {
	ID        uint64
	Accounts  []chain.Account
	Contracts []chain.Contract

	sim chain.Simulator
}

// Sim returns the session's simulator. Callers must hold the registry
// lock, which With guarantees.
func (s *Session) Sim() chain.Simulator {
	return s.sim
}

// ContractReader reads a contract source file.
type ContractReader func(path string) ([]byte, error)

// Registry maps session ids to sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint64]*Session
	ids      idCounter
	closed   bool

	factory chain.Factory
	read    ContractReader
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSimulatorFactory replaces the default in-memory SQLite simulator.
func WithSimulatorFactory(f chain.Factory) Option {
	return func(r *Registry) {
		r.factory = f
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithContractReader replaces os.ReadFile for contract sources.
func WithContractReader(read ContractReader) Option {
	return func(r *Registry) {
		r.read = read
	}
}

// New creates an empty registry. The first session gets id 0.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[uint64]*Session),
		factory:  chain.OpenMemory,
		read:     os.ReadFile,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create loads every contract named by the manifest, validates every
// account in the chain settings, seeds a fresh simulator and registers a
// new session.
//
// Contract paths are resolved against root. Accounts and contracts are
// ordered by name. Any config problem is a ConfigError; a simulator that
// fails to start is a SimulatorError.
func (r *Registry) Create(ctx context.Context, main *config.MainConfig, chainCfg *config.ChainConfig, root string) (*Session, error) {
	if main == nil || chainCfg == nil {
		return nil, fault.Config(nil, "missing project manifest or chain settings")
	}

	contracts := make([]chain.Contract, 0, len(main.Contracts))
	for _, name := range main.ContractNames() {
		path := main.Contracts[name].Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, filepath.FromSlash(path))
		}
		code, err := r.read(path)
		if err != nil {
			return nil, fault.Config(err, "contract %q: read %s", name, path)
		}
		contracts = append(contracts, chain.Contract{
			Name:     name,
			Code:     string(code),
			Deployer: main.DeployerFor(name),
		})
	}

	accounts := make([]chain.Account, 0, len(chainCfg.Accounts))
	owners := make(map[string]string, len(chainCfg.Accounts))
	for _, name := range chainCfg.AccountNames() {
		a := chainCfg.Accounts[name]
		if err := config.ValidateAccount(name, a); err != nil {
			return nil, err
		}
		if other, dup := owners[a.Address]; dup {
			return nil, fault.Config(nil, "accounts %q and %q share address %s", other, name, a.Address)
		}
		owners[a.Address] = name
		accounts = append(accounts, chain.Account{
			Name:       name,
			Address:    a.Address,
			Balance:    a.Balance,
			Mnemonic:   a.Mnemonic,
			Derivation: a.Derivation,
		})
	}

	// The simulator is built outside the lock; only id assignment and
	// insertion are serialized.
	sim, err := r.factory(ctx, chain.Settings{
		Accounts:  accounts,
		Contracts: contracts,
		TxSender:  config.DefaultDeployer,
	})
	if err != nil {
		return nil, &fault.Error{Code: fault.CodeSimulator, Message: "start simulator", Err: err}
	}

	s := &Session{
		Accounts:  accounts,
		Contracts: contracts,
		sim:       sim,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sim.Close()
		return nil, &fault.Error{Code: fault.CodeSimulator, Message: "create session", Err: ErrClosed}
	}
	s.ID = r.ids.next()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.logger.Debug("session created",
		"session_id", s.ID,
		"accounts", len(accounts),
		"contracts", len(contracts))

	return s, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id uint64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(id)
}

// With runs fn on the session with the given id while holding the
// registry lock. fn must not call back into the registry.
func (r *Registry) With(id uint64, fn func(*Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	return fn(s)
}

func (r *Registry) lookup(id uint64) (*Session, error) {
	if r.closed {
		return nil, fault.Simulator(id, ErrClosed, "lookup session")
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, fault.SessionNotFound(id)
	}
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// NextID returns the id the next Create will assign.
func (r *Registry) NextID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids.peek()
}

// Close closes every simulator. The registry is unusable afterwards.
// Safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for id, s := range r.sessions {
		if err := s.sim.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %d: %w", id, err))
		}
	}
	r.sessions = nil

	return errors.Join(errs...)
}
