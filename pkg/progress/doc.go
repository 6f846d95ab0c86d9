// Package progress persists the completion and XP ledger. The primary
// store is a SQLite file; when it cannot be opened the package degrades
// to an in-memory ledger so a corrupt database never blocks play.
package progress
