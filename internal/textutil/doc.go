// Package textutil holds small text helpers shared by stages, the chunker,
// and the archive writer: word counting, paragraph splitting, and filename
// sanitation.
package textutil
