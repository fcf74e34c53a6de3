package postgres

import (
	repo "github.com/baharkarakas/cirqle-payments/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repositories struct {
	Transactions repo.Transactions
	AuditLogs    repo.AuditLogs
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions: &transactionsRepo{pool},
		AuditLogs:    &auditLogsRepo{pool},
	}
}
