// Package database provides the TimescaleDB connection pool and schema for
// ticker snapshot history.
//
// Persistence is optional: the gateway serves from its in-memory cache and
// only connects when database.enabled is set.
package database
