// Package repository persists the analysis journal in Postgres.
package repository

import "errors"

var (
	// ErrNotFound is returned when no journal row has the requested id.
	ErrNotFound = errors.New("journal record not found")
	// ErrNotConfigured is returned by a repository built without a pool.
	ErrNotConfigured = errors.New("journal database not configured")
)
