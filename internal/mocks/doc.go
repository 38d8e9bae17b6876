// Package mocks provides in-memory store implementations for testing.
//
// The memory stores implement the store interfaces over plain maps with a
// mutex, including the claim protocol semantics the postgres stores provide
// (atomic claim, ownership checks, heartbeat compare-and-set). Tests across
// packages share them instead of defining inline fakes.
//
// Usage:
//
//	jobs := mocks.NewMemoryJobStore()
//	tasks := mocks.NewMemoryTaskStore()
package mocks
