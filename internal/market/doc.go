// Package market filters raw ticker lists down to one quote asset and builds
// the read-only views the HTTP layer serves (sorted lists, top movers,
// breadth summary).
package market
