package preflight

import (
	"context"
	"fmt"
	"strings"

	"lectern/internal/config"
	"lectern/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Critical results block serve and watch from starting.
	Critical bool
}

// Options tunes which checks RunAll performs.
type Options struct {
	SkipProviders bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		critical(CheckDirectoryAccess("Archive root", cfg.Paths.ArchiveRoot)),
		critical(CheckDirectoryAccess("State directory", cfg.Paths.StateDir)),
		CheckDirectoryAccess("Inbox directory", cfg.Paths.InboxDir),
		CheckCredentials(cfg),
	}
	if opts.SkipProviders {
		return results
	}

	results = append(results, CheckGemini(ctx, cfg))
	// Gemini also serves text generation in that mode, so one check covers both.
	if cfg.LLM.Provider == config.ProviderOpenRouter {
		results = append(results, CheckLLM(ctx, "OpenRouter", cfg.LLM))
	}
	return results
}

// CheckCredentials reports provider keys that are not configured.
func CheckCredentials(cfg *config.Config) Result {
	const name = "Credentials"
	missing := cfg.MissingCredentials()
	if len(missing) == 0 {
		return Result{Name: name, Passed: true, Detail: "API keys present"}
	}
	return Result{Name: name, Detail: "missing " + strings.Join(missing, ", ")}
}

// Err returns an error naming every failed critical check, or nil.
func Err(results []Result) error {
	var failed []string
	for _, r := range results {
		if r.Critical && !r.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "", "preflight", strings.Join(failed, "; "), nil)
}

// Summary counts passed and failed results.
func Summary(results []Result) (passed, failed int) {
	for _, r := range results {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

func critical(r Result) Result {
	r.Critical = true
	return r
}
