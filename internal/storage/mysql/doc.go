// Package mysql provides repositories and data access helpers backed by MySQL.
// It encapsulates schema setup, connection pooling and strongly typed queries
// for the append-only audit ledger that records every refusal, execution and
// partial execution failure.
package mysql
