// Package postgres provides PostgreSQL implementations of the store
// interfaces. All implementations map database errors to store sentinel
// errors through MapError so callers never depend on driver error types.
package postgres
