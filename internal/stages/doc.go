// Package stages holds the builtin stage catalogue: parse, transcribe, clean,
// slides, longread, summarize, story, and chunk.
//
// Each stage is a small struct embedding pipeline.Descriptor and receiving
// its model collaborators through Deps. NewRegistry wires the full catalogue
// in scheduling order. Stages own their timeouts; a deadline surfaces as an
// ErrTimeout-marked error and is never retried here.
package stages
