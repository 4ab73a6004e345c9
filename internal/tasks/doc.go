// Package tasks runs scheduled playlist jobs with real-time progress reporting.
//
// # Strategies
//
// Each [models.JobType] maps to one [Strategy] in a static registry:
//
//  1. shuffle : reorders a playlist with a [shuffle.Algorithm] and commits one replace
//  2. raid : copies tracks that are new since each source's last snapshot into a destination
//     - audio-feature and explicit filters
//     - dedup against the destination and against tracks queued earlier in the run
//     - a global max_per_run cap across sources, oldest sync first
//  3. raid_and_shuffle : raid, then shuffle the destination if the raid did not fail
//  4. rotate : moves stale tracks from a production playlist into its archive
//     - add to archive, re-read archive, then remove from production
//     - optional additive replenish from a pool playlist
//
// # Execution
//
// [Executor.Execute] reloads the schedule, writes a running execution (at most one per
// schedule), locks the target playlists, obtains an access token and runs the strategy
// under a deadline. Every outcome is classified into an [models.ErrorKind], the execution
// is finalized and next_run_at always moves forward.
//
// # Progress Reporting
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks
