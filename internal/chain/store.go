package chain

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const keyTxSender = "tx_sender"

// SQLSimulator is the SQLite-backed Simulator.
type SQLSimulator struct {
	db *sql.DB
}

var _ Simulator = (*SQLSimulator)(nil)

// OpenMemory is the default Factory: a private in-memory database per
// simulator.
func OpenMemory(ctx context.Context, s Settings) (Simulator, error) {
	return Open(ctx, ":memory:", s)
}

// Open creates a simulator backed by the database at path and seeds it
// with genesis state.
//
// The pool is pinned to a single connection. For ":memory:" this is
// required: every new connection would open a different empty database.
func Open(ctx context.Context, path string, s Settings) (*SQLSimulator, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	sim := &SQLSimulator{db: db}
	if err := sim.genesis(ctx, s); err != nil {
		db.Close()
		return nil, fmt.Errorf("genesis: %w", err)
	}

	return sim, nil
}

// Close closes the database. Safe to call more than once.
func (s *SQLSimulator) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = OFF",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// genesis seeds accounts, deploys contracts at height 0 and records the
// initial tx sender, atomically.
func (s *SQLSimulator) genesis(ctx context.Context, settings Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO blocks (height, tx_count) VALUES (0, 0)`); err != nil {
		return fmt.Errorf("insert genesis block: %w", err)
	}

	for _, a := range settings.Accounts {
		if a.Balance > math.MaxInt64 {
			return fmt.Errorf("account %q: balance %d exceeds %d", a.Name, a.Balance, int64(math.MaxInt64))
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (address, name, balance) VALUES (?, ?, ?)
		`, a.Address, a.Name, int64(a.Balance))
		if err != nil {
			return fmt.Errorf("insert account %q: %w", a.Name, err)
		}
	}

	for _, c := range settings.Contracts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contracts (name, deployer, code, deployed_at) VALUES (?, ?, ?, 0)
		`, c.Name, c.Deployer, c.Code)
		if err != nil {
			return fmt.Errorf("deploy contract %q: %w", c.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chain_state (key, value) VALUES (?, ?)
	`, keyTxSender, settings.TxSender)
	if err != nil {
		return fmt.Errorf("set tx sender: %w", err)
	}

	return tx.Commit()
}
