// Package store provides SQLite-backed history for programs and the passes
// applied to them.
//
// The store keeps two append-only tables:
//   - program_versions: serialized program descriptions, one row per
//     distinct fingerprint of a program id
//   - pass_runs: pass applications with their canonical configuration,
//     before and after fingerprints and summary
//
// # Ordering
//
// Rows are ordered by their integer sequence, never by timestamps, so two
// stores fed the same history list it identically. Timestamps come from an
// injected Clock and are informational only.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Configurations are stored as canonical JSON (internal/ir/canonical.go)
// and hashed with ir.ConfigHash, so equal configurations compare equal as
// text.
package store
