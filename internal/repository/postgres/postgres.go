package postgres

import (
	"database/sql"

	"tradehub-backend/internal/repository"

	_ "github.com/lib/pq"
)

type Store struct {
	db *sql.DB
	repository.LedgerRepository
	repository.TopupPolicyRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                    db,
		LedgerRepository:      NewLedgerRepository(db),
		TopupPolicyRepository: NewTopupPolicyRepository(db),
	}
}
