// Package logging provides context-aware structured logging on top of zap.
//
// Every method takes a context.Context first. Fields carried by the context
// (trace and span ids of the active OpenTelemetry span, request id, store
// name, operation) are prepended to the entry so pipeline logs can be joined
// with traces:
//
//	ctx = logging.WithStore(logging.WithOperation(ctx, "merge"), name)
//	logger.Info(ctx, "store merged", zap.Int("records", n))
//
// Output goes to a console/JSON core on stderr and, when a log provider is
// supplied, to OpenTelemetry through the otelzap bridge. Keys that name
// credentials and values that look like bearer tokens or API keys are
// redacted by the encoder. Levels below error are sampled; errors never are.
//
// Tests use NewTestLogger to capture entries in memory.
package logging
