package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/repository"
)

type ledgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) repository.LedgerRepository {
	return &ledgerRepository{db: db}
}

const txColumns = `id, account_id, kind, amount, status, balance_after, COALESCE(reference_id, ''),
	COALESCE(reference_type, ''), idempotency_key, COALESCE(reason_code, ''), COALESCE(description, ''),
	created_on, completed_on`

func (r *ledgerRepository) CreateAccount(ctx context.Context, accountID string) error {
	query := `INSERT INTO account_balances (account_id, current_balance, total_purchased, total_used, total_refunded, version, created_on, updated_on)
	          VALUES ($1, 0, 0, 0, 0, 0, NOW(), NOW()) ON CONFLICT (account_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, accountID)
	return err
}

func (r *ledgerRepository) GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	query := `SELECT account_id, current_balance, total_purchased, total_used, total_refunded,
	                 last_purchase_at, last_usage_at, version, created_on, updated_on
	          FROM account_balances WHERE account_id = $1`
	b := &domain.AccountBalance{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&b.AccountID, &b.CurrentBalance, &b.TotalPurchased, &b.TotalUsed, &b.TotalRefunded,
		&b.LastPurchaseAt, &b.LastUsageAt, &b.Version, &b.CreatedOn, &b.UpdatedOn,
	)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Entity: "account", ID: accountID}
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Debit performs the read-check-write-append sequence inside one database
// transaction, serialized per account by the row lock on account_balances.
func (r *ledgerRepository) Debit(ctx context.Context, p repository.DebitParams) (*domain.CreditTransaction, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if existing, err := r.findByIdempotencyKey(ctx, tx, p.IdempotencyKey); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT current_balance FROM account_balances WHERE account_id = $1 FOR UPDATE`,
		p.AccountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, false, &domain.NotFoundError{Entity: "account", ID: p.AccountID}
	}
	if err != nil {
		return nil, false, translateConflict(p.AccountID, err)
	}

	if p.Amount > balance {
		return nil, false, &domain.InsufficientBalanceError{Requested: p.Amount, Available: balance}
	}
	newBalance := balance - p.Amount

	_, err = tx.ExecContext(ctx,
		`UPDATE account_balances
		 SET current_balance = $2, total_used = total_used + $3, last_usage_at = NOW(),
		     version = version + 1, updated_on = NOW()
		 WHERE account_id = $1`,
		p.AccountID, newBalance, p.Amount)
	if err != nil {
		return nil, false, translateConflict(p.AccountID, err)
	}

	entry := &domain.CreditTransaction{
		ID:             uuid.NewString(),
		AccountID:      p.AccountID,
		Kind:           domain.TransactionKindUsage,
		Amount:         p.Amount,
		Status:         domain.TransactionStatusCompleted,
		BalanceAfter:   newBalance,
		ReferenceID:    p.ReferenceID,
		ReferenceType:  p.ReferenceType,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
	}
	if err := r.insertTransaction(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			// Lost the idempotency race; the winner's row is the result.
			tx.Rollback()
			return r.replayByIdempotencyKey(ctx, p.IdempotencyKey)
		}
		return nil, false, translateConflict(p.AccountID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, translateConflict(p.AccountID, err)
	}
	return entry, false, nil
}

// Credit mirrors Debit for balance increments. The transaction kind selects
// which accumulator moves alongside the balance.
func (r *ledgerRepository) Credit(ctx context.Context, p repository.CreditParams) (*domain.CreditTransaction, bool, error) {
	if !domain.CreditKinds[p.Kind] {
		return nil, false, &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("%s is not a credit kind", p.Kind)}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if existing, err := r.findByIdempotencyKey(ctx, tx, p.IdempotencyKey); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT current_balance FROM account_balances WHERE account_id = $1 FOR UPDATE`,
		p.AccountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, false, &domain.NotFoundError{Entity: "account", ID: p.AccountID}
	}
	if err != nil {
		return nil, false, translateConflict(p.AccountID, err)
	}
	newBalance := balance + p.Amount

	if err := applyCreditAccumulator(ctx, tx, p.AccountID, p.Kind, p.Amount, newBalance); err != nil {
		return nil, false, translateConflict(p.AccountID, err)
	}

	entry := &domain.CreditTransaction{
		ID:             uuid.NewString(),
		AccountID:      p.AccountID,
		Kind:           p.Kind,
		Amount:         p.Amount,
		Status:         domain.TransactionStatusCompleted,
		BalanceAfter:   newBalance,
		ReferenceID:    p.ReferenceID,
		ReferenceType:  p.ReferenceType,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
	}
	if err := r.insertTransaction(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			tx.Rollback()
			return r.replayByIdempotencyKey(ctx, p.IdempotencyKey)
		}
		return nil, false, translateConflict(p.AccountID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, translateConflict(p.AccountID, err)
	}
	return entry, false, nil
}

// applyCreditAccumulator moves the balance and the kind's accumulator in one
// statement. Refunds feed total_refunded; every other credit kind feeds
// total_purchased.
func applyCreditAccumulator(ctx context.Context, tx *sql.Tx, accountID string, kind domain.TransactionKind, amount, newBalance int64) error {
	if kind == domain.TransactionKindRefund {
		_, err := tx.ExecContext(ctx,
			`UPDATE account_balances
			 SET current_balance = $2, total_refunded = total_refunded + $3,
			     version = version + 1, updated_on = NOW()
			 WHERE account_id = $1`,
			accountID, newBalance, amount)
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE account_balances
		 SET current_balance = $2, total_purchased = total_purchased + $3, last_purchase_at = NOW(),
		     version = version + 1, updated_on = NOW()
		 WHERE account_id = $1`,
		accountID, newBalance, amount)
	return err
}

func (r *ledgerRepository) CreatePending(ctx context.Context, p repository.CreditParams) (*domain.CreditTransaction, error) {
	if !domain.CreditKinds[p.Kind] {
		return nil, &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("%s is not a credit kind", p.Kind)}
	}
	entry := &domain.CreditTransaction{
		ID:             uuid.NewString(),
		AccountID:      p.AccountID,
		Kind:           p.Kind,
		Amount:         p.Amount,
		Status:         domain.TransactionStatusPending,
		ReferenceID:    p.ReferenceID,
		ReferenceType:  p.ReferenceType,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
	}
	query := `INSERT INTO credit_transactions (id, account_id, kind, amount, status, balance_after, reference_id, reference_type, idempotency_key, description, created_on)
	          VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, NOW()) RETURNING created_on`
	err := r.db.QueryRowContext(ctx, query,
		entry.ID, entry.AccountID, entry.Kind, entry.Amount, entry.Status,
		entry.ReferenceID, entry.ReferenceType, entry.IdempotencyKey, entry.Description,
	).Scan(&entry.CreatedOn)
	if err != nil {
		if isUniqueViolation(err) {
			existing, _, ferr := r.replayByIdempotencyKey(ctx, p.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			return existing, nil
		}
		return nil, err
	}
	return entry, nil
}

func (r *ledgerRepository) CompletePending(ctx context.Context, transactionID string) (*domain.CreditTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry := &domain.CreditTransaction{}
	err = scanTransaction(tx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM credit_transactions WHERE id = $1 FOR UPDATE`, transactionID), entry)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: transactionID}
	}
	if err != nil {
		return nil, err
	}
	if entry.Status != domain.TransactionStatusPending {
		return nil, &domain.InvalidStateTransitionError{
			TransactionID: transactionID,
			From:          entry.Status,
			To:            domain.TransactionStatusCompleted,
		}
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT current_balance FROM account_balances WHERE account_id = $1 FOR UPDATE`,
		entry.AccountID).Scan(&balance)
	if err != nil {
		return nil, translateConflict(entry.AccountID, err)
	}
	newBalance := balance + entry.Amount

	if err := applyCreditAccumulator(ctx, tx, entry.AccountID, entry.Kind, entry.Amount, newBalance); err != nil {
		return nil, translateConflict(entry.AccountID, err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE credit_transactions SET status = $2, balance_after = $3, completed_on = $4 WHERE id = $1`,
		transactionID, domain.TransactionStatusCompleted, newBalance, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, translateConflict(entry.AccountID, err)
	}

	entry.Status = domain.TransactionStatusCompleted
	entry.BalanceAfter = newBalance
	entry.CompletedOn = &now
	return entry, nil
}

func (r *ledgerRepository) CancelPending(ctx context.Context, transactionID, reason string) (*domain.CreditTransaction, error) {
	entry := &domain.CreditTransaction{}
	err := scanTransaction(r.db.QueryRowContext(ctx,
		`UPDATE credit_transactions SET status = $2, reason_code = $3
		 WHERE id = $1 AND status = $4
		 RETURNING `+txColumns,
		transactionID, domain.TransactionStatusCancelled, reason, domain.TransactionStatusPending), entry)
	if err == sql.ErrNoRows {
		// Distinguish a missing row from an illegal transition.
		current, gerr := r.GetTransaction(ctx, transactionID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &domain.InvalidStateTransitionError{
			TransactionID: transactionID,
			From:          current.Status,
			To:            domain.TransactionStatusCancelled,
		}
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *ledgerRepository) GetTransaction(ctx context.Context, transactionID string) (*domain.CreditTransaction, error) {
	entry := &domain.CreditTransaction{}
	err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM credit_transactions WHERE id = $1`, transactionID), entry)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Entity: "transaction", ID: transactionID}
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *ledgerRepository) ListTransactions(ctx context.Context, accountID string, filter domain.TransactionFilter, page, pageSize int32) ([]domain.CreditTransaction, int32, error) {
	where := "WHERE account_id = $1"
	args := []interface{}{accountID}

	if filter.Kind != "" {
		args = append(args, filter.Kind)
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where += fmt.Sprintf(" AND created_on >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where += fmt.Sprintf(" AND created_on < $%d", len(args))
	}

	var count int32
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM credit_transactions "+where, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize
	listArgs := append(args, pageSize, offset)
	query := fmt.Sprintf("SELECT %s FROM credit_transactions %s ORDER BY created_on DESC, id DESC LIMIT $%d OFFSET $%d",
		txColumns, where, len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []domain.CreditTransaction
	for rows.Next() {
		var entry domain.CreditTransaction
		if err := scanTransaction(rows, &entry); err != nil {
			return nil, 0, err
		}
		txs = append(txs, entry)
	}
	return txs, count, rows.Err()
}

func (r *ledgerRepository) SumRefunds(ctx context.Context, originalTransactionID string) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions
	          WHERE reference_id = $1 AND kind = $2 AND status = $3`
	err := r.db.QueryRowContext(ctx, query,
		originalTransactionID, domain.TransactionKindRefund, domain.TransactionStatusCompleted).Scan(&total)
	return total, err
}

// Refund serializes refunds against one original by locking its row, then
// re-checks the running refund total inside the same transaction before
// crediting. Two concurrent refunds therefore see each other's totals and the
// sum can never exceed the original amount.
func (r *ledgerRepository) Refund(ctx context.Context, p repository.RefundParams) (*domain.CreditTransaction, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if existing, err := r.findByIdempotencyKey(ctx, tx, p.IdempotencyKey); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	original := &domain.CreditTransaction{}
	err = scanTransaction(tx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM credit_transactions WHERE id = $1 FOR UPDATE`,
		p.OriginalTransactionID), original)
	if err == sql.ErrNoRows {
		return nil, false, &domain.NotFoundError{Entity: "transaction", ID: p.OriginalTransactionID}
	}
	if err != nil {
		return nil, false, translateConflict("", err)
	}
	if original.Kind != domain.TransactionKindUsage {
		return nil, false, &domain.ValidationError{Field: "transaction_id", Reason: "only usage debits are refundable"}
	}
	if original.Status != domain.TransactionStatusCompleted {
		return nil, false, &domain.InvalidStateTransitionError{
			TransactionID: p.OriginalTransactionID,
			From:          original.Status,
			To:            domain.TransactionStatusRefunded,
		}
	}

	var prior int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions
		 WHERE reference_id = $1 AND kind = $2 AND status = $3`,
		p.OriginalTransactionID, domain.TransactionKindRefund, domain.TransactionStatusCompleted).Scan(&prior)
	if err != nil {
		return nil, false, translateConflict(original.AccountID, err)
	}
	remaining := original.Amount - prior
	if p.Amount > remaining {
		return nil, false, &domain.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("refund of %d exceeds remaining refundable %d", p.Amount, remaining),
		}
	}

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT current_balance FROM account_balances WHERE account_id = $1 FOR UPDATE`,
		original.AccountID).Scan(&balance)
	if err != nil {
		return nil, false, translateConflict(original.AccountID, err)
	}
	newBalance := balance + p.Amount

	if err := applyCreditAccumulator(ctx, tx, original.AccountID, domain.TransactionKindRefund, p.Amount, newBalance); err != nil {
		return nil, false, translateConflict(original.AccountID, err)
	}

	entry := &domain.CreditTransaction{
		ID:             uuid.NewString(),
		AccountID:      original.AccountID,
		Kind:           domain.TransactionKindRefund,
		Amount:         p.Amount,
		Status:         domain.TransactionStatusCompleted,
		BalanceAfter:   newBalance,
		ReferenceID:    p.OriginalTransactionID,
		ReferenceType:  "transaction",
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
	}
	if err := r.insertTransaction(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			tx.Rollback()
			return r.replayByIdempotencyKey(ctx, p.IdempotencyKey)
		}
		return nil, false, translateConflict(original.AccountID, err)
	}

	if prior+p.Amount == original.Amount {
		_, err = tx.ExecContext(ctx,
			`UPDATE credit_transactions SET status = $2 WHERE id = $1`,
			p.OriginalTransactionID, domain.TransactionStatusRefunded)
		if err != nil {
			return nil, false, translateConflict(original.AccountID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, translateConflict(original.AccountID, err)
	}
	return entry, false, nil
}

func (r *ledgerRepository) CountUsageSince(ctx context.Context, accountID string, since time.Time) (int32, error) {
	var n int32
	query := `SELECT count(*) FROM credit_transactions
	          WHERE account_id = $1 AND kind = $2 AND status IN ($3, $4) AND created_on >= $5`
	err := r.db.QueryRowContext(ctx, query,
		accountID, domain.TransactionKindUsage,
		domain.TransactionStatusCompleted, domain.TransactionStatusRefunded, since).Scan(&n)
	return n, err
}

func (r *ledgerRepository) ListAccountIDs(ctx context.Context, offset, limit int32) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT account_id FROM account_balances ORDER BY account_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner, t *domain.CreditTransaction) error {
	return row.Scan(
		&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.Status, &t.BalanceAfter,
		&t.ReferenceID, &t.ReferenceType, &t.IdempotencyKey, &t.ReasonCode,
		&t.Description, &t.CreatedOn, &t.CompletedOn,
	)
}

func (r *ledgerRepository) insertTransaction(ctx context.Context, tx *sql.Tx, t *domain.CreditTransaction) error {
	query := `INSERT INTO credit_transactions (id, account_id, kind, amount, status, balance_after, reference_id, reference_type, idempotency_key, reason_code, description, created_on, completed_on)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW()) RETURNING created_on, completed_on`
	return tx.QueryRowContext(ctx, query,
		t.ID, t.AccountID, t.Kind, t.Amount, t.Status, t.BalanceAfter,
		t.ReferenceID, t.ReferenceType, t.IdempotencyKey, t.ReasonCode, t.Description,
	).Scan(&t.CreatedOn, &t.CompletedOn)
}

func (r *ledgerRepository) findByIdempotencyKey(ctx context.Context, tx *sql.Tx, key string) (*domain.CreditTransaction, error) {
	entry := &domain.CreditTransaction{}
	err := scanTransaction(tx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM credit_transactions WHERE idempotency_key = $1`, key), entry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *ledgerRepository) replayByIdempotencyKey(ctx context.Context, key string) (*domain.CreditTransaction, bool, error) {
	entry := &domain.CreditTransaction{}
	err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM credit_transactions WHERE idempotency_key = $1`, key), entry)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// translateConflict maps Postgres serialization and deadlock failures, which
// are retried by the service layer, to the domain conflict error.
func translateConflict(accountID string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "40001" || pqErr.Code == "40P01") {
		return &domain.ConcurrencyConflictError{AccountID: accountID, Attempts: 1}
	}
	return err
}
