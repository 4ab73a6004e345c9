// Package models defines domain entities and persistence interfaces for the cadence playlist job scheduler.
//
// The package contains two categories of types:
//
// 1. Provider Objects: Lightweight structs representing data returned by the playlist provider
//   - [Track] : Playlist item with artists, explicit flag and the time it was added
//   - [AudioFeatures] : Per-track audio analysis used by raid filters
//
// 2. Persistent Entities: Database-backed models owned by the scheduler
//   - [Owner] : Account that owns schedules, pairs and sources
//   - [Credential] : Sealed refresh credential for an owner
//   - [Schedule] : Recurring job configuration (trigger, job type, targets, params)
//   - [JobExecution] : One durable attempt record for a schedule
//   - [PlaylistPair] : Production/archive playlist pair used by rotation
//   - [UpstreamSource] : Watched playlist or artist feeding raid jobs
//   - [TargetLock] : Per-playlist mutual exclusion across schedules
//
// Persistent entities implement the [Model] interface for validation.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
