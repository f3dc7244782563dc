// Package store persists the editor text between sessions.
//
// Store is a plain string key-value interface with an in-memory and a SQLite
// (modernc.org/sqlite, no cgo) implementation. Sources keeps the one key the
// server uses and falls back to a sample program until the user saves.
package store
