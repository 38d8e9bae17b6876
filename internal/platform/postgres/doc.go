// Package postgres provides PostgreSQL implementations of the store
// interfaces. All cross-worker coordination (claiming, heartbeat recovery,
// fan-out) is expressed as atomic conditional updates here, so the database
// remains the only synchronization primitive in the system.
package postgres
