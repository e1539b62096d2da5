package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"required,Regex pattern or search query matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Restrict results to one category (stores, retrieval, search)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type toolSearchOutput struct {
	Query      string          `json:"query" jsonschema:"Search query used"`
	Results    []*SearchResult `json:"results" jsonschema:"Matching tools with score and match reason"`
	Count      int             `json:"count" jsonschema:"Number of tools found"`
	TotalTools int             `json:"total_tools" jsonschema:"Total number of tools in registry"`
}

type toolListInput struct {
	Category string `json:"category,omitempty" jsonschema:"Filter to a specific category"`
}

type toolListOutput struct {
	Tools []*ToolMetadata `json:"tools" jsonschema:"Registered tools"`
	Count int             `json:"count" jsonschema:"Number of tools returned"`
}

func (s *Server) toolSearch(_ context.Context, args toolSearchInput) (toolSearchOutput, string, error) {
	if args.Query == "" {
		return toolSearchOutput{}, "", fmt.Errorf("%w: query is required", ragerr.ErrInvalidParameter)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 5
	}

	var results []*SearchResult
	for _, r := range s.toolRegistry.Search(args.Query) {
		if args.Category != "" && r.Tool.Category != ToolCategory(args.Category) {
			continue
		}
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}

	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Tool.Name
	}
	summary := fmt.Sprintf("No tools found matching: %s", args.Query)
	if len(names) > 0 {
		summary = fmt.Sprintf("Found %d tool(s) for query '%s': %s", len(names), args.Query, strings.Join(names, ", "))
	}
	return toolSearchOutput{
		Query:      args.Query,
		Results:    results,
		Count:      len(results),
		TotalTools: s.toolRegistry.Count(),
	}, summary, nil
}

func (s *Server) toolList(_ context.Context, args toolListInput) (toolListOutput, string, error) {
	tools := s.toolRegistry.List(ToolCategory(args.Category))
	return toolListOutput{Tools: tools, Count: len(tools)}, fmt.Sprintf("Found %d tools", len(tools)), nil
}
