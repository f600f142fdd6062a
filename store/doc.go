// Package store persists versioned artifacts and the command journal.
//
// Three Artifacts backends are provided: Memory for tests and one-shot use,
// SQLite for durable state, and Cached which fronts any backend with a read
// cache. SQLite also implements Journal, the append-only log of mutating
// commands that the CLI replays to rebuild registry state.
package store
