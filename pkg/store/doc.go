// Package store persists invites, pairings and tickets.
//
// Store is a small bucketed key/value interface with two implementations:
// MemoryStore for tests and single-process demos, and BadgerStore backed
// by github.com/dgraph-io/badger/v4. Records layers typed accessors on top
// and is what the state machines use.
//
// Every implementation must round-trip bytes exactly and support atomic
// per-key read-modify-write through Update.
package store
