// Package main hosts the lectern CLI entrypoint and command graph.
//
// Commands run recordings through the stage pipeline in-process, inspect and
// roll back the result cache, serve the HTTP progress API, and watch the
// inbox for new recordings. Configuration resolution and logger setup live
// in commandContext so subcommands stay declarative; the heavy lifting
// belongs in the internal packages.
package main
