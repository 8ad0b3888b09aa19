// Package model defines shared data types used across tickergate.
//
// Conventions:
//   - Prices and volumes: decimal.Decimal parsed from the exchange's string fields
//   - Exchange timestamps: int64 milliseconds since Unix epoch
//   - Local timestamps: time.Time
//   - Symbols: upper-case exchange symbols (e.g., "BTCUSDT")
package model
