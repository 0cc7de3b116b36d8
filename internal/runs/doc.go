// Package runs turns one recording into an archive.
//
// A Service owns the long-lived pieces (result cache, stage registry,
// archive lock, notifier) and builds a workflow runner per run so each run
// gets its own log file. Run takes the archive lock before the runner
// touches the cache and releases it after the archive writer finishes; the
// progress stream's result frame is held back until the archive files exist.
package runs
