// Package poller implements the ticker poll-and-cache loop.
//
// The poller:
//   - Fetches spot (and optionally futures) 24h tickers every few seconds
//   - Keeps only symbols in the configured quote asset
//   - Stores each filtered snapshot in the TTL cache
//   - Skips a spot cycle when the exchange request weight budget is nearly spent
//   - Logs and swallows fetch failures, leaving the previous snapshot in place
package poller
