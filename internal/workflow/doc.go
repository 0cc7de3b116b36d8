// Package workflow runs a resolved stage graph for one recording.
//
// Runner.Run resolves the requested stages, then walks them in order: each
// stage is skipped, replayed from the result cache, or executed, and its
// result is appended to the run Context exactly once before any dependent
// runs. Optional stages that declare themselves concurrent start in the
// background and only gate the stages that depend on them.
//
// Mandatory failures end the run with a PipelineError and a terminal error
// frame. Optional failures are logged and replaced by the stage's default
// result. There is no retry and no alternate backend at this level; cache
// entries written before a failure or cancellation stay valid for the next
// run.
package workflow
