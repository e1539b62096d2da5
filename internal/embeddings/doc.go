// Package embeddings turns text into vectors.
//
// A Provider wraps one embedding backend (local FastEmbed models, a
// text-embeddings-inference server, or an OpenAI-compatible API) and is
// selected once at startup by NewProvider. The Gateway sits in front of a
// Provider and is what the rest of ragstore talks to: it batches input,
// applies the configured rate limit, retries transient failures and checks
// that every returned vector has the expected dimension.
package embeddings
