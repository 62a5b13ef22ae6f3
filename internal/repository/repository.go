// Package repository provides data access interfaces and implementations
// for the Interaction Discovery Service.
//
// # Overview
//
// This package defines repository interfaces and their PostgreSQL implementations
// following the repository pattern to abstract data persistence from business logic.
//
// # Repository Interfaces
//
// The package provides the following repository interfaces:
//
//   - JobRepository: Manages discovery job lifecycle, progress and cancellation state
//   - InteractionRepository: Manages extracted interaction persistence and listing
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple goroutines.
// The underlying pgxpool handles connection pooling and synchronization.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package.
// Wrap database errors with context using fmt.Errorf with %w verb.
// Common errors include:
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrAlreadyExists: Unique constraint violation
//   - domain.ErrInvalidInput: Invalid parameters provided
//
// # Transactions
//
// Use the DBTX interface to support both pool and transaction contexts.
// Pass transaction from database.DB.WithTransaction for atomic operations.
//
// # Usage Pattern
//
// Repositories are typically created at application startup and passed to services:
//
//	db, _ := database.New(ctx, cfg, logger)
//	jobRepo := repository.NewPgJobRepository(db)
//	interactionRepo := repository.NewPgInteractionRepository(db)
package repository

import (
	"strings"

	"github.com/google/uuid"

	"github.com/helixir/interaction-discovery-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
// This allows repositories to work with both direct pool connections and transactions.
//
// # Constructor Pattern
//
// Repository implementations follow a constructor pattern that accepts DBTX:
//
//	type PgJobRepository struct {
//	    db DBTX
//	}
//
//	func NewPgJobRepository(db DBTX) *PgJobRepository {
//	    return &PgJobRepository{db: db}
//	}
//
// This design enables:
//   - Direct usage with a connection pool for standard operations
//   - Transaction support by passing a transaction (pgx.Tx) instead
//   - Easy testing with mock implementations of DBTX
//
// # Transaction Usage Example
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    // Create a transactional repository instance
//	    txRepo := repository.NewPgJobRepository(tx)
//	    // All operations within this function use the same transaction
//	    return txRepo.Create(ctx, job)
//	})
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

// JobLogChannel returns the LISTEN/NOTIFY channel name carrying log lines for
// a job. PostgreSQL identifiers are capped at 63 characters, so the UUID is
// embedded with hyphens replaced to keep the name a plain identifier.
func JobLogChannel(jobID uuid.UUID) string {
	return "discovery_job_" + strings.ReplaceAll(jobID.String(), "-", "_")
}
