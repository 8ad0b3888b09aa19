// Package cache implements a process-local TTL cache.
//
// Entries are keyed by string and considered fresh for a fixed duration after
// they were stored. GetOrFetch collapses concurrent refreshes of the same key
// into one call and falls back to the previous value when a refresh fails.
package cache
