// Package store provides the SQLite-backed local database of the app.
//
// The store holds:
//   - Owned tables: user data rows, each tagged with the owning user_id
//   - Reference data: synced and local-only currency lists
//   - Upload queue: row changes captured while the sync variant is active
//   - KV cells: small blobs such as the crash-recovery record and the
//     identity session
//
// # Schema variants
//
// The local variant is the plain schema. The sync variant additionally
// installs triggers that append every insert, update and delete on an
// owned table to the upload queue. Switching variants only creates or
// drops triggers; rows are never touched.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Multi-table mutations (seeding, guest migration, clearing synced data)
// each run in one transaction and are all-or-nothing.
package store
