// Package testutil provides in-memory doubles shared by package tests.
//
// MemoryStore implements storage.Store with per-operation failure injection:
//
//	store := testutil.NewMemoryStore()
//	store.FailOn(testutil.OpInsertReading, errors.ErrStorageUnavailable)
//
// RecordingPublisher captures what the pipeline would fan out, and MockSource
// stands in for a message bus so tests can inject (topic, payload) pairs.
package testutil
