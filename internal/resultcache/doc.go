// Package resultcache persists stage results as immutable, versioned entries
// keyed by (archive path, stage) in SQLite.
//
// Save appends version max+1 and never rewrites history. Load without a
// version returns the pinned current version, or the newest when nothing is
// pinned, and reports a miss through its found flag rather than an error.
// Asking for a version that was never saved fails with ErrVersionNotFound.
// SetCurrentVersion pins an older version, which is how a stage is rolled
// back; the next Save unpins so fresh output becomes current again.
//
// The store does not serialize runs that target the same archive path across
// processes; callers hold an archivelock for that.
package resultcache
