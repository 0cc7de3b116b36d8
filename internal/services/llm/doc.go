// Package llm provides an OpenRouter chat client used as the text generation
// collaborator for the clean, longread, summarize, and story stages.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Generate: send system/user prompts, receive markdown/plain text.
// Client.CompleteJSON: send system/user prompts, receive a JSON payload.
// Client.HealthCheck: verify API key and model availability.
//
// # Retry Behaviour
//
// One request is sent per call by default. WithRetryMaxAttempts enables
// resending the same request to the same provider on HTTP 429/5xx or empty
// content, with exponential backoff. Client timeouts and context cancellation
// are never retried. There is no fallback to a different provider.
package llm
