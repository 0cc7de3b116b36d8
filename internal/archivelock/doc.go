// Package archivelock serializes runs that target the same archive path.
//
// The result cache assigns versions per (archive path, stage) and relies on
// callers never saving the same stage for one archive from two runs at once.
// A Locker provides that exclusion: an in-process keyed mutex for runs that
// share a process, backed by a flock file under the state directory for runs
// started by separate lectern processes (CLI next to serve or watch).
package archivelock
