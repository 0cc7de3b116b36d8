// Package logging assembles the slog loggers used across lectern.
//
// It owns the console and JSON handlers, the level and output plumbing, and
// the context helpers that tag records with run IDs, stage names, and archive
// paths. RunLogger tees a run's records into a per-run file next to the
// archive so a failed run can be inspected without the daemon log.
package logging
