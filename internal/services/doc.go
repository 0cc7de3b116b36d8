// Package services defines shared utilities consumed by pipeline stages and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, archive paths, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Details which turns a
//     marked error into the kind/message/hint triple shown to operators.
//
// Model clients live in subpackages (llm, gemini). Stages depend on the narrow
// interfaces they need rather than on these concrete clients.
package services
