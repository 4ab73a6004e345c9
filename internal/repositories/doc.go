// Package repositories implements SQLite persistence for all domain entities.
//
// All repositories support soft deletes via deleted_at timestamps and exclude deleted records from queries by default.
// Times are written in UTC so the text encoding used by go-sqlite3 sorts chronologically.
//
// Key Implementations:
//   - [OwnerRepository] : Owner accounts with email-based lookups
//   - [CredentialRepository] : Sealed refresh credentials and revocation
//   - [ScheduleRepository] : Schedules, due selection, row claims and run bookkeeping
//   - [ExecutionRepository] : The execution ledger; at most one running record per schedule
//   - [PairRepository] : Production/archive playlist pairs for rotation
//   - [SourceRepository] : Upstream raid sources and their snapshots
//   - [LockRepository] : TTL-bounded per-playlist locks
package repositories
