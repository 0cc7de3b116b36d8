// Package preflight provides readiness checks for the filesystem paths and
// providers a run depends on.
//
// These checks run in two contexts:
//   - The CLI "lectern preflight" command renders every result as a table.
//   - "lectern serve" and "lectern watch" call RunAll at startup and refuse
//     to start when a directory check fails.
//
// Provider checks issue one small request each and can be skipped with
// Options.SkipProviders for offline use.
package preflight
