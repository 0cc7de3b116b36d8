// Package pipeline defines the stage contract and the pieces the orchestrator
// composes around it.
//
// Stage names form a closed set (StageName). A Registry holds one Stage
// implementation per name and resolves a requested subset plus its transitive
// dependencies into a deterministic execution order, breaking ties by
// registration order. Malformed graphs fail with *ConfigError.
//
// Context is the append-only result store for one run. Stages receive it read
// only; the orchestrator owns the Writer returned by NewContext. Decode gives
// typed access to results whether they were produced in this run or replayed
// from the cache as JSON.
//
// A mandatory stage failure crosses the run boundary as *PipelineError.
package pipeline
