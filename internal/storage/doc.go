// Package storage provides the durable blob store used for scheduler snapshots.
//
// Drivers:
//   - "file": blobs are files on the OS filesystem; the key is the path
//   - "memory": blobs live in an in-memory filesystem (tests, ephemeral runs)
//   - "sqlite": blobs are rows in a SQLite database at Config.Path
package storage
