package storage

// Package storage persists reminders, per-user preferences and the audit
// trail.
//
// Drivers:
//   - "memory": dependency-free in-process store (tests, ephemeral runs)
//   - "sqlite": SQLite database file, the default for real deployments
