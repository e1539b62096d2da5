// Package mcp exposes store listing and retrieval as MCP tools.
//
// Tools are registered with the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and call the store manager and retriever directly. Retrieved passages are
// passed through the secret scrubber before they leave the process.
package mcp
