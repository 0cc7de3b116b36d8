// Package watcher starts pipeline runs for recordings dropped into the inbox.
//
// The inbox root runs recordings with the configured default content type;
// the educational and leadership subdirectories select the type explicitly.
// A recording is started once no write has been seen for the settle delay.
package watcher
