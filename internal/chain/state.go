package chain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// BlockHeight returns the height of the last mined block.
func (s *SQLSimulator) BlockHeight(ctx context.Context) (uint64, error) {
	var height int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM blocks`).Scan(&height); err != nil {
		return 0, fmt.Errorf("block height: %w", err)
	}
	return uint64(height), nil
}

// SetTxSender replaces the default sender.
func (s *SQLSimulator) SetTxSender(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, keyTxSender, address)
	if err != nil {
		return fmt.Errorf("set tx sender: %w", err)
	}
	return nil
}

// TxSender returns the default sender.
func (s *SQLSimulator) TxSender(ctx context.Context) (string, error) {
	var sender string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM chain_state WHERE key = ?`, keyTxSender).Scan(&sender)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tx sender: %w", err)
	}
	return sender, nil
}

// QueueTx validates tx and appends it to the pending queue. An empty
// sender is filled from the current default sender at queue time.
func (s *SQLSimulator) QueueTx(ctx context.Context, tx Tx) (int64, error) {
	if err := validateTx(tx); err != nil {
		return 0, err
	}

	if tx.Sender == "" {
		sender, err := s.TxSender(ctx)
		if err != nil {
			return 0, err
		}
		if sender == "" {
			return 0, fmt.Errorf("%w: no sender and no default tx sender", ErrInvalidTx)
		}
		tx.Sender = sender
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return 0, fmt.Errorf("encode tx: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (kind, sender, payload) VALUES (?, ?, ?)
	`, string(tx.Kind), tx.Sender, string(payload))
	if err != nil {
		return 0, fmt.Errorf("queue tx: %w", err)
	}
	return res.LastInsertId()
}

// Balance returns the balance of address, 0 if the address is unknown.
func (s *SQLSimulator) Balance(ctx context.Context, address string) (uint64, error) {
	return balance(ctx, s.db, address)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balance(ctx context.Context, q queryer, address string) (uint64, error) {
	var bal int64
	err := q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE address = ?`, address).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", address, err)
	}
	return uint64(bal), nil
}

func validateTx(tx Tx) error {
	switch tx.Kind {
	case TxTransfer:
		if tx.Recipient == "" {
			return fmt.Errorf("%w: transfer requires recipient", ErrInvalidTx)
		}
		if tx.Amount == 0 {
			return fmt.Errorf("%w: transfer requires a positive amount", ErrInvalidTx)
		}
		if tx.Amount > math.MaxInt64 {
			return fmt.Errorf("%w: amount %d out of range", ErrInvalidTx, tx.Amount)
		}
	case TxContractCall:
		if tx.Contract == "" || tx.Function == "" {
			return fmt.Errorf("%w: contract_call requires contract and function", ErrInvalidTx)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTx, tx.Kind)
	}
	return nil
}
