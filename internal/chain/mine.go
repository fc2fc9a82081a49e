package chain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type pendingTx struct {
	id int64
	tx Tx
}

// MineBlock applies every pending transaction in queue order and commits
// a new block. A failed transaction produces an unsuccessful receipt; only
// storage failures return an error, in which case nothing is committed.
func (s *SQLSimulator) MineBlock(ctx context.Context) (Block, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Block{}, fmt.Errorf("mine block: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var height int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM blocks`).Scan(&height); err != nil {
		return Block{}, fmt.Errorf("mine block: read height: %w", err)
	}
	next := height + 1

	pending, err := readPending(ctx, tx)
	if err != nil {
		return Block{}, fmt.Errorf("mine block: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO blocks (height, tx_count) VALUES (?, ?)`, next, len(pending)); err != nil {
		return Block{}, fmt.Errorf("mine block: insert block: %w", err)
	}

	receipts := make([]Receipt, 0, len(pending))
	for _, p := range pending {
		ok, result, err := apply(ctx, tx, p.tx)
		if err != nil {
			return Block{}, fmt.Errorf("mine block: apply tx %d: %w", p.id, err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE transactions SET block_height = ?, success = ?, result = ? WHERE id = ?
		`, next, ok, result, p.id)
		if err != nil {
			return Block{}, fmt.Errorf("mine block: record receipt %d: %w", p.id, err)
		}

		receipts = append(receipts, Receipt{
			TxIndex: p.id,
			Kind:    p.tx.Kind,
			Sender:  p.tx.Sender,
			Success: ok,
			Result:  result,
		})
	}

	if err := tx.Commit(); err != nil {
		return Block{}, fmt.Errorf("mine block: commit: %w", err)
	}

	return Block{Height: uint64(next), Receipts: receipts}, nil
}

// readPending loads queued transactions fully before any are applied, so
// no result set is open while the same transaction writes.
func readPending(ctx context.Context, tx *sql.Tx) ([]pendingTx, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload FROM transactions
		WHERE block_height IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}
	defer rows.Close()

	var pending []pendingTx
	for rows.Next() {
		var (
			p       pendingTx
			payload string
		)
		if err := rows.Scan(&p.id, &payload); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &p.tx); err != nil {
			return nil, fmt.Errorf("decode pending %d: %w", p.id, err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func apply(ctx context.Context, tx *sql.Tx, t Tx) (bool, string, error) {
	switch t.Kind {
	case TxTransfer:
		return applyTransfer(ctx, tx, t)
	case TxContractCall:
		return applyContractCall(ctx, tx, t)
	default:
		return false, fmt.Sprintf("(err \"unknown kind %s\")", t.Kind), nil
	}
}

func applyTransfer(ctx context.Context, tx *sql.Tx, t Tx) (bool, string, error) {
	from, err := balance(ctx, tx, t.Sender)
	if err != nil {
		return false, "", err
	}
	if from < t.Amount {
		return false, "(err u1)", nil
	}

	to, err := balance(ctx, tx, t.Recipient)
	if err != nil {
		return false, "", err
	}
	if t.Sender != t.Recipient && to > math.MaxInt64-t.Amount {
		return false, "(err u4)", nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - ? WHERE address = ?
	`, int64(t.Amount), t.Sender); err != nil {
		return false, "", fmt.Errorf("debit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (address, name, balance) VALUES (?, '', ?)
		ON CONFLICT(address) DO UPDATE SET balance = balance + excluded.balance
	`, t.Recipient, int64(t.Amount)); err != nil {
		return false, "", fmt.Errorf("credit: %w", err)
	}

	return true, "(ok true)", nil
}

func applyContractCall(ctx context.Context, tx *sql.Tx, t Tx) (bool, string, error) {
	var name string
	err := tx.QueryRowContext(ctx, `SELECT name FROM contracts WHERE name = ?`, t.Contract).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Sprintf("(err \"contract %s not found\")", t.Contract), nil
	}
	if err != nil {
		return false, "", fmt.Errorf("lookup contract: %w", err)
	}
	return true, "(ok true)", nil
}
