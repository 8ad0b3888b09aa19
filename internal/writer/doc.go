// Package writer persists ticker snapshots to TimescaleDB in batches.
//
// Rows are append-only: a (market, symbol, close_time) that already exists
// is counted as a conflict and skipped. Decimal fields are written as
// NUMERIC without rounding.
package writer
