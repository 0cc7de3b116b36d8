// Package chunker splits a generated markdown document into bounded-size
// topic chunks without calling any model.
//
// Sections start at level-2 headings ("## "). A section whose body fits the
// word ceiling becomes one chunk. Larger bodies are split greedily at blank
// lines; a paragraph that alone exceeds the ceiling is kept whole. Split
// chunks carry a " (i/N)" suffix on their display header while Topic keeps
// the original heading. Sections with an empty body produce no chunk.
//
// Output depends only on the document and the ceiling.
package chunker
