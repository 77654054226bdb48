// Package snapshot keeps a local copy of the engagement index for the
// case where the final sync on shutdown cannot reach the store. The
// tracker merges it back on the next start and deletes it.
//
// Writes go through a temporary file, fsync and rename so a crash never
// leaves a truncated snapshot behind.
package snapshot
