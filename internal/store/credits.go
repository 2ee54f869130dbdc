package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LedgerEntry describes the transaction written alongside a balance change.
type LedgerEntry struct {
	Type        TransactionType
	Description string
	JobID       string
	ClipID      string
}

const accountColumns = "user_id, total, used, created_at, updated_at"

func scanAccount(scanner rowScanner) (*CreditAccount, error) {
	var (
		account    CreditAccount
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&account.UserID, &account.Total, &account.Used, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		account.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		account.UpdatedAt = updated
	}
	return &account, nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureAccount(ctx context.Context, q queryer, userID string, openingBalance int64) error {
	now := formatTime(time.Now())
	_, err := q.ExecContext(ctx,
		`INSERT INTO credit_accounts (user_id, total, used, created_at, updated_at)
         VALUES (?, ?, 0, ?, ?)
         ON CONFLICT(user_id) DO NOTHING`,
		userID, openingBalance, now, now,
	)
	return err
}

func loadAccount(ctx context.Context, q queryer, userID string) (*CreditAccount, error) {
	return scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = ?`, userID))
}

// EnsureAccount returns the user's account, creating it with openingBalance
// credits on first access.
func (s *Store) EnsureAccount(ctx context.Context, userID string, openingBalance int64) (*CreditAccount, error) {
	ctx = ensureContext(ctx)
	var account *CreditAccount
	err := retryOnBusy(ctx, func() error {
		if err := ensureAccount(ctx, s.db, userID, openingBalance); err != nil {
			return err
		}
		loaded, err := loadAccount(ctx, s.db, userID)
		if err != nil {
			return err
		}
		account = loaded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ensure credit account: %w", err)
	}
	return account, nil
}

// Debit spends amount from the user's balance and appends the ledger entry in
// one transaction. When amount exceeds the remaining balance nothing is
// written and ErrInsufficientFunds is returned together with the unchanged
// account.
func (s *Store) Debit(ctx context.Context, userID string, amount, openingBalance int64, entry LedgerEntry) (*CreditAccount, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	ctx = ensureContext(ctx)
	if entry.Type == "" {
		entry.Type = TransactionSpent
	}
	var account *CreditAccount
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureAccount(ctx, tx, userID, openingBalance); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE credit_accounts SET used = used + ?, updated_at = ?
             WHERE user_id = ? AND total - used >= ?`,
			amount, formatTime(time.Now()), userID, amount,
		)
		if err != nil {
			return err
		}
		if err := requireAffected(res, ErrInsufficientFunds); err != nil {
			loaded, loadErr := loadAccount(ctx, tx, userID)
			if loadErr == nil {
				account = loaded
			}
			return err
		}
		if err := insertTransaction(ctx, tx, userID, amount, entry); err != nil {
			return err
		}
		loaded, err := loadAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		account = loaded
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return account, err
		}
		return nil, fmt.Errorf("debit credits: %w", err)
	}
	return account, nil
}

// Credit adds amount to the user's total and appends the ledger entry in one
// transaction.
func (s *Store) Credit(ctx context.Context, userID string, amount, openingBalance int64, entry LedgerEntry) (*CreditAccount, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	ctx = ensureContext(ctx)
	if entry.Type == "" {
		entry.Type = TransactionPurchased
	}
	var account *CreditAccount
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureAccount(ctx, tx, userID, openingBalance); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE credit_accounts SET total = total + ?, updated_at = ? WHERE user_id = ?`,
			amount, formatTime(time.Now()), userID,
		); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, userID, amount, entry); err != nil {
			return err
		}
		loaded, err := loadAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		account = loaded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("credit credits: %w", err)
	}
	return account, nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, userID string, amount int64, entry LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (user_id, type, amount, description, job_id, clip_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID,
		entry.Type,
		amount,
		nullableString(entry.Description),
		nullableString(entry.JobID),
		nullableString(entry.ClipID),
		formatTime(time.Now()),
	)
	return err
}

// ListTransactions returns the user's ledger newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*CreditTransaction, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, user_id, type, amount, description, job_id, clip_id, created_at
         FROM credit_transactions WHERE user_id = ?
         ORDER BY id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*CreditTransaction
	for rows.Next() {
		var (
			txn         CreditTransaction
			typ         string
			description sql.NullString
			jobID       sql.NullString
			clipID      sql.NullString
			createdRaw  string
		)
		if err := rows.Scan(&txn.ID, &txn.UserID, &typ, &txn.Amount, &description, &jobID, &clipID, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txn.Type = TransactionType(typ)
		txn.Description = description.String
		txn.JobID = jobID.String
		txn.ClipID = clipID.String
		if created, err := parseTimeString(createdRaw); err == nil {
			txn.CreatedAt = created
		}
		txns = append(txns, &txn)
	}
	return txns, rows.Err()
}

// CountJobTransactions counts ledger entries of the given type tied to a job.
func (s *Store) CountJobTransactions(ctx context.Context, jobID string, typ TransactionType) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM credit_transactions WHERE job_id = ? AND type = ?`,
		jobID, typ,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count job transactions: %w", err)
	}
	return count, nil
}
