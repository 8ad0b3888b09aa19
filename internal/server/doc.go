// Package server exposes cached ticker data over HTTP.
//
// Reads go through the TTL cache with an on-demand refresh as the fetch
// function. When a refresh fails the last snapshot is served with
// "stale": true; with no snapshot at all the handler returns 503.
package server
