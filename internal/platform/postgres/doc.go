// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store and internal/job packages.
// It handles the details of query execution, JSONB mapping between domain
// entities and database records, and translation of driver errors into the
// store package's sentinel errors.
package postgres
