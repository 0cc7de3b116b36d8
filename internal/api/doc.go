// Package api serves lectern over HTTP.
//
// Runs are started by opening a progress stream, either Server-Sent Events
// (GET /api/runs/stream) or a WebSocket (GET /api/runs/ws). Both carry the
// same JSON frames: progress frames followed by one result or error frame.
// Closing the connection cancels the run; stages already cached stay cached.
//
// Cache endpoints list archives, per-stage summaries and versions, show a
// stored payload, and roll a stage back to an earlier version.
//
// DTOs use camelCase JSON tags. Frames are passed through in their own
// snake_case wire format so CLI and HTTP consumers see identical streams.
package api
