package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"tradehub-backend/internal/domain"
)

func TestTopupPolicyRepository_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()
	repo := NewTopupPolicyRepository(db)

	mock.ExpectExec("INSERT INTO auto_topup_policies").
		WithArgs("acct-1", true, domain.TopupPolicyStatusActive, int64(10), int64(60), "STANDARD").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Upsert(context.Background(), &domain.AutoTopupPolicy{
		AccountID:      "acct-1",
		Enabled:        true,
		Status:         domain.TopupPolicyStatusActive,
		TriggerBalance: 10,
		TopupAmount:    60,
		PackageType:    "STANDARD",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopupPolicyRepository_AcquireProcessing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	t.Run("GateFree", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
		}
		defer db.Close()
		repo := NewTopupPolicyRepository(db)

		mock.ExpectExec("UPDATE auto_topup_policies").
			WithArgs("acct-1", now, domain.TopupPolicyStatusActive).
			WillReturnResult(sqlmock.NewResult(0, 1))

		acquired, err := repo.AcquireProcessing(ctx, "acct-1", now)
		assert.NoError(t, err)
		assert.True(t, acquired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GateHeld", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
		}
		defer db.Close()
		repo := NewTopupPolicyRepository(db)

		mock.ExpectExec("UPDATE auto_topup_policies").
			WithArgs("acct-1", now, domain.TopupPolicyStatusActive).
			WillReturnResult(sqlmock.NewResult(0, 0))

		acquired, err := repo.AcquireProcessing(ctx, "acct-1", now)
		assert.NoError(t, err)
		assert.False(t, acquired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTopupPolicyRepository_MarkFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("BelowThreshold", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
		}
		defer db.Close()
		repo := NewTopupPolicyRepository(db)

		mock.ExpectQuery("UPDATE auto_topup_policies").
			WithArgs("acct-1", domain.MaxTopupFailures).
			WillReturnRows(sqlmock.NewRows([]string{"failure_count", "status"}).AddRow(2, "ACTIVE"))

		count, suspended, err := repo.MarkFailure(ctx, "acct-1")
		assert.NoError(t, err)
		assert.Equal(t, int32(2), count)
		assert.False(t, suspended)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ThresholdSuspends", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
		}
		defer db.Close()
		repo := NewTopupPolicyRepository(db)

		mock.ExpectQuery("UPDATE auto_topup_policies").
			WithArgs("acct-1", domain.MaxTopupFailures).
			WillReturnRows(sqlmock.NewRows([]string{"failure_count", "status"}).AddRow(3, "SUSPENDED"))

		count, suspended, err := repo.MarkFailure(ctx, "acct-1")
		assert.NoError(t, err)
		assert.Equal(t, int32(3), count)
		assert.True(t, suspended)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingPolicy", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
		}
		defer db.Close()
		repo := NewTopupPolicyRepository(db)

		mock.ExpectQuery("UPDATE auto_topup_policies").
			WithArgs("ghost", domain.MaxTopupFailures).
			WillReturnError(sql.ErrNoRows)

		_, _, err = repo.MarkFailure(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTopupPolicyRepository_SetEnabled(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()
	repo := NewTopupPolicyRepository(db)

	mock.ExpectExec("UPDATE auto_topup_policies").
		WithArgs("acct-1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.SetEnabled(ctx, "acct-1", true))

	mock.ExpectExec("UPDATE auto_topup_policies").
		WithArgs("ghost", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.SetEnabled(ctx, "ghost", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopupPolicyRepository_ReapStale(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()
	repo := NewTopupPolicyRepository(db)

	cutoff := time.Date(2026, 8, 20, 9, 50, 0, 0, time.UTC)
	mock.ExpectQuery("UPDATE auto_topup_policies").
		WithArgs(cutoff, domain.MaxTopupFailures).
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("acct-1").AddRow("acct-2"))

	ids, err := repo.ReapStale(ctx, cutoff)
	assert.NoError(t, err)
	assert.Equal(t, []string{"acct-1", "acct-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopupPolicyRepository_Get(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()
	repo := NewTopupPolicyRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT account_id, enabled, status").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"account_id", "enabled", "status", "trigger_balance", "topup_amount", "package_type",
			"failure_count", "processing", "processing_started_at", "last_triggered_at", "created_on", "updated_on",
		}).AddRow("acct-1", true, "ACTIVE", 10, 60, "STANDARD", 0, false, nil, nil, now, now))

	p, err := repo.Get(ctx, "acct-1")
	assert.NoError(t, err)
	assert.True(t, p.Enabled)
	assert.Equal(t, int64(10), p.TriggerBalance)
	assert.Nil(t, p.ProcessingStartedAt)

	mock.ExpectQuery("SELECT account_id, enabled, status").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
