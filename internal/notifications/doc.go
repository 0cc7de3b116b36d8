// Package notifications delivers run events via ntfy.
//
// The ntfy implementation posts to the topic URL configured in config.toml and
// degrades to a no-op when no topic is set. Completion and failure messages
// can be switched off individually; events without a template are dropped.
package notifications
