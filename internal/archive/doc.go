// Package archive writes the artifacts of a finished run into its archive
// directory.
//
// The aggregated run document (pipeline_results.json) merges every stage
// result keyed by stage name. Human-readable documents are written as
// markdown with a YAML frontmatter block, and the longread or story may
// additionally be exported as DOCX. All files are replaced atomically so a
// reader never sees half of a rewrite.
package archive
