package postgres

import (
	"context"
	"database/sql"
	"time"

	"tradehub-backend/internal/domain"
	"tradehub-backend/internal/repository"
)

type topupPolicyRepository struct {
	db *sql.DB
}

func NewTopupPolicyRepository(db *sql.DB) repository.TopupPolicyRepository {
	return &topupPolicyRepository{db: db}
}

func (r *topupPolicyRepository) Upsert(ctx context.Context, p *domain.AutoTopupPolicy) error {
	query := `INSERT INTO auto_topup_policies (account_id, enabled, status, trigger_balance, topup_amount, package_type, failure_count, processing, created_on, updated_on)
	          VALUES ($1, $2, $3, $4, $5, $6, 0, FALSE, NOW(), NOW())
	          ON CONFLICT (account_id) DO UPDATE
	          SET enabled = EXCLUDED.enabled, status = EXCLUDED.status,
	              trigger_balance = EXCLUDED.trigger_balance, topup_amount = EXCLUDED.topup_amount,
	              package_type = EXCLUDED.package_type, failure_count = 0, updated_on = NOW()`
	_, err := r.db.ExecContext(ctx, query,
		p.AccountID, p.Enabled, p.Status, p.TriggerBalance, p.TopupAmount, p.PackageType)
	return err
}

func (r *topupPolicyRepository) Get(ctx context.Context, accountID string) (*domain.AutoTopupPolicy, error) {
	query := `SELECT account_id, enabled, status, trigger_balance, topup_amount, package_type,
	                 failure_count, processing, processing_started_at, last_triggered_at, created_on, updated_on
	          FROM auto_topup_policies WHERE account_id = $1`
	p := &domain.AutoTopupPolicy{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&p.AccountID, &p.Enabled, &p.Status, &p.TriggerBalance, &p.TopupAmount, &p.PackageType,
		&p.FailureCount, &p.Processing, &p.ProcessingStartedAt, &p.LastTriggeredAt, &p.CreatedOn, &p.UpdatedOn,
	)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Entity: "auto-topup policy", ID: accountID}
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *topupPolicyRepository) SetEnabled(ctx context.Context, accountID string, enabled bool) error {
	// Re-enabling also lifts a suspension and resets the failure streak.
	query := `UPDATE auto_topup_policies
	          SET enabled = $2,
	              status = CASE WHEN $2 THEN 'ACTIVE' ELSE status END,
	              failure_count = CASE WHEN $2 THEN 0 ELSE failure_count END,
	              updated_on = NOW()
	          WHERE account_id = $1`
	res, err := r.db.ExecContext(ctx, query, accountID, enabled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "auto-topup policy", ID: accountID}
	}
	return nil
}

// AcquireProcessing is the single serialization point preventing two
// concurrent debits from both firing a top-up for the same account.
func (r *topupPolicyRepository) AcquireProcessing(ctx context.Context, accountID string, now time.Time) (bool, error) {
	query := `UPDATE auto_topup_policies
	          SET processing = TRUE, processing_started_at = $2, updated_on = NOW()
	          WHERE account_id = $1 AND enabled = TRUE AND status = $3 AND processing = FALSE`
	res, err := r.db.ExecContext(ctx, query, accountID, now, domain.TopupPolicyStatusActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *topupPolicyRepository) MarkSuccess(ctx context.Context, accountID string, at time.Time) error {
	query := `UPDATE auto_topup_policies
	          SET failure_count = 0, last_triggered_at = $2,
	              processing = FALSE, processing_started_at = NULL, updated_on = NOW()
	          WHERE account_id = $1`
	_, err := r.db.ExecContext(ctx, query, accountID, at)
	return err
}

func (r *topupPolicyRepository) MarkFailure(ctx context.Context, accountID string) (int32, bool, error) {
	query := `UPDATE auto_topup_policies
	          SET failure_count = failure_count + 1,
	              status = CASE WHEN failure_count + 1 >= $2 THEN 'SUSPENDED' ELSE status END,
	              processing = FALSE, processing_started_at = NULL, updated_on = NOW()
	          WHERE account_id = $1
	          RETURNING failure_count, status`
	var count int32
	var status domain.TopupPolicyStatus
	err := r.db.QueryRowContext(ctx, query, accountID, domain.MaxTopupFailures).Scan(&count, &status)
	if err == sql.ErrNoRows {
		return 0, false, &domain.NotFoundError{Entity: "auto-topup policy", ID: accountID}
	}
	if err != nil {
		return 0, false, err
	}
	return count, status == domain.TopupPolicyStatusSuspended, nil
}

// ReapStale releases processing gates whose charge call never reported back,
// booking each as a failure so repeated hangs eventually suspend the policy.
func (r *topupPolicyRepository) ReapStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `UPDATE auto_topup_policies
	          SET processing = FALSE, processing_started_at = NULL,
	              failure_count = failure_count + 1,
	              status = CASE WHEN failure_count + 1 >= $2 THEN 'SUSPENDED' ELSE status END,
	              updated_on = NOW()
	          WHERE processing = TRUE AND processing_started_at < $1
	          RETURNING account_id`
	rows, err := r.db.QueryContext(ctx, query, cutoff, domain.MaxTopupFailures)
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
