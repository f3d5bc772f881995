// Package store declares persistence contracts for run bookkeeping.
// Implementations live elsewhere; this package must not import database
// drivers or concrete clients.
package store
