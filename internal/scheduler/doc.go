// Package scheduler drives schedules on time and exposes the management surface.
//
// [Engine] ticks on an interval, claims due schedules and dispatches them to the
// [tasks.Executor] under global and per-owner limits. [Sweeper] fails executions left
// running past their timeout. [Service] creates, toggles and inspects schedules and the
// pairs, sources and owners they reference.
package scheduler
