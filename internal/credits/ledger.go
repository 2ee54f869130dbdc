package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"clipforge/internal/faults"
	"clipforge/internal/logging"
	"clipforge/internal/services"
	"clipforge/internal/store"
)

// Balance is a user's credit position.
type Balance struct {
	UserID    string
	Total     int64
	Used      int64
	Remaining int64
}

func balanceFrom(account *store.CreditAccount) Balance {
	if account == nil {
		return Balance{}
	}
	return Balance{
		UserID:    account.UserID,
		Total:     account.Total,
		Used:      account.Used,
		Remaining: account.Remaining(),
	}
}

// Meta annotates a ledger transaction.
type Meta struct {
	Type        store.TransactionType
	Description string
	JobID       string
	ClipID      string
}

// Ledger meters credits against the store.
type Ledger struct {
	store          *store.Store
	openingBalance int64
	logger         *slog.Logger
}

// NewLedger constructs a ledger. New accounts open with openingBalance credits.
func NewLedger(st *store.Store, openingBalance int64, logger *slog.Logger) *Ledger {
	if openingBalance < 0 {
		openingBalance = 0
	}
	return &Ledger{
		store:          st,
		openingBalance: openingBalance,
		logger:         logging.NewComponentLogger(logger, "credits"),
	}
}

// Balance returns the user's balance, opening an account on first access.
func (l *Ledger) Balance(ctx context.Context, userID string) (Balance, error) {
	if err := validateUser(userID); err != nil {
		return Balance{}, err
	}
	account, err := l.store.EnsureAccount(ctx, userID, l.openingBalance)
	if err != nil {
		return Balance{}, faults.Wrap(faults.TypeDatastore, err, "load credit balance", faults.WithOperation("credits", "balance"))
	}
	return balanceFrom(account), nil
}

// Debit spends amount. When amount exceeds the remaining balance it returns a
// credit-system error and leaves the account untouched.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, meta Meta) (Balance, error) {
	if err := validateUser(userID); err != nil {
		return Balance{}, err
	}
	if amount <= 0 {
		return Balance{}, faults.New(faults.TypeValidation, fmt.Sprintf("debit amount must be positive, got %d", amount),
			faults.WithOperation("credits", "debit"))
	}
	meta.Type = store.TransactionSpent
	account, err := l.store.Debit(ctx, userID, amount, l.openingBalance, ledgerEntry(meta))
	if err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			remaining := int64(0)
			if account != nil {
				remaining = account.Remaining()
			}
			return balanceFrom(account), faults.New(faults.TypeCreditSystem,
				fmt.Sprintf("insufficient credits: need %d, have %d", amount, remaining),
				faults.WithCause(services.ErrInsufficientCredits),
				faults.WithCode("insufficient_credits"),
				faults.WithOperation("credits", "debit"),
				faults.WithJob(meta.JobID),
			)
		}
		return Balance{}, faults.Wrap(faults.TypeDatastore, err, "debit credits", faults.WithOperation("credits", "debit"))
	}
	l.logger.Info("credits debited",
		logging.String(logging.FieldUserID, userID),
		logging.Int64("amount", amount),
		logging.Int64("remaining", account.Remaining()),
		logging.String(logging.FieldEventType, "credits_debited"),
	)
	return balanceFrom(account), nil
}

// Credit adds amount. Meta.Type defaults to purchased and must not be spent.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, meta Meta) (Balance, error) {
	if err := validateUser(userID); err != nil {
		return Balance{}, err
	}
	if amount <= 0 {
		return Balance{}, faults.New(faults.TypeValidation, fmt.Sprintf("credit amount must be positive, got %d", amount),
			faults.WithOperation("credits", "credit"))
	}
	if meta.Type == "" {
		meta.Type = store.TransactionPurchased
	}
	if meta.Type == store.TransactionSpent {
		return Balance{}, faults.New(faults.TypeValidation, "credit transactions cannot be of type spent",
			faults.WithOperation("credits", "credit"))
	}
	account, err := l.store.Credit(ctx, userID, amount, l.openingBalance, ledgerEntry(meta))
	if err != nil {
		return Balance{}, faults.Wrap(faults.TypeDatastore, err, "credit credits", faults.WithOperation("credits", "credit"))
	}
	l.logger.Info("credits added",
		logging.String(logging.FieldUserID, userID),
		logging.Int64("amount", amount),
		logging.String("transaction_type", string(meta.Type)),
		logging.Int64("remaining", account.Remaining()),
		logging.String(logging.FieldEventType, "credits_added"),
	)
	if err := l.store.RecordActivity(ctx, store.ActivityEntry{
		UserID: userID,
		JobID:  meta.JobID,
		Action: "credit",
		Detail: fmt.Sprintf("%s %d", meta.Type, amount),
	}); err != nil {
		l.logger.Debug("activity record failed", logging.Error(err))
	}
	return balanceFrom(account), nil
}

// Refund returns the credits charged for a job. It is a no-op when the job
// was never charged or has already been refunded.
func (l *Ledger) Refund(ctx context.Context, job *store.Job, reason string) (bool, error) {
	if job == nil || job.CreditsCharged <= 0 {
		return false, nil
	}
	refunded, err := l.store.CountJobTransactions(ctx, job.ID, store.TransactionEarned)
	if err != nil {
		return false, faults.Wrap(faults.TypeDatastore, err, "check prior refunds", faults.WithOperation("credits", "refund"), faults.WithJob(job.ID))
	}
	if refunded > 0 {
		return false, nil
	}
	description := "Refund for failed job"
	if reason = strings.TrimSpace(reason); reason != "" {
		description += ": " + reason
	}
	if _, err := l.Credit(ctx, job.UserID, job.CreditsCharged, Meta{
		Type:        store.TransactionEarned,
		Description: description,
		JobID:       job.ID,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// History returns the user's transactions newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit, offset int) ([]*store.CreditTransaction, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	txns, err := l.store.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, faults.Wrap(faults.TypeDatastore, err, "list credit history", faults.WithOperation("credits", "history"))
	}
	return txns, nil
}

func ledgerEntry(meta Meta) store.LedgerEntry {
	return store.LedgerEntry{
		Type:        meta.Type,
		Description: meta.Description,
		JobID:       meta.JobID,
		ClipID:      meta.ClipID,
	}
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return faults.New(faults.TypeValidation, "user id is required", faults.WithOperation("credits", "lookup"))
	}
	return nil
}
