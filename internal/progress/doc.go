// Package progress aggregates weighted stage progress into a single 0-100
// value and emits it as a frame stream.
//
// progress = (sum of weight*fraction over the run's stages) / (sum of
// weights) * 100, floored. Frames are only emitted when the value rises, so
// the stream is strictly increasing; 100 is reserved for the terminal result
// frame. A stream always ends with exactly one result or error frame.
//
// Stream adapts the frames to a channel for HTTP transports.
package progress
