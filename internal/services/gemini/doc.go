// Package gemini adapts the google genai SDK to the collaborator interfaces
// used by pipeline stages: text generation, audio/video transcription, and
// slide image reading.
//
// Media up to roughly 18 MiB is sent inline; larger recordings are uploaded
// through the Files API and referenced by URI.
package gemini
