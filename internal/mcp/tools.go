package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/retriever"
	"github.com/fyrsmithlabs/ragstore/internal/storemanager"
)

type listStoresInput struct{}

// storeInfo carries timestamps as RFC 3339 strings so the output schema
// stays plain JSON types.
type storeInfo struct {
	Name        string `json:"name" jsonschema:"Store name"`
	RecordCount int    `json:"record_count" jsonschema:"Number of records"`
	Dimension   int    `json:"dimension" jsonschema:"Vector dimension"`
	CreatedAt   string `json:"created_at" jsonschema:"Creation time (RFC 3339, UTC)"`
	UpdatedAt   string `json:"updated_at" jsonschema:"Last write time (RFC 3339, UTC)"`
	Revision    string `json:"revision" jsonschema:"Changes on every write"`
}

func toStoreInfo(md storemanager.StoreMetadata) storeInfo {
	return storeInfo{
		Name:        md.Name,
		RecordCount: md.RecordCount,
		Dimension:   md.Dimension,
		CreatedAt:   md.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   md.UpdatedAt.UTC().Format(time.RFC3339),
		Revision:    md.Revision,
	}
}

type listStoresOutput struct {
	Stores []storeInfo `json:"stores" jsonschema:"Stores ordered by name"`
	Count  int         `json:"count" jsonschema:"Number of stores"`
}

type statStoreInput struct {
	Store string `json:"store" jsonschema:"required,Store name, e.g. vectorstore(1)"`
}

type retrieveInput struct {
	Store string `json:"store" jsonschema:"required,Store to search"`
	Query string `json:"query" jsonschema:"required,Natural language query"`
	K     int    `json:"k,omitempty" jsonschema:"Number of passages (default: configured top_k)"`
}

type retrieveOutput struct {
	Passages []retriever.ScoredPassage `json:"passages" jsonschema:"Passages best first with cosine similarity"`
	Count    int                       `json:"count" jsonschema:"Number of passages returned"`
}

type buildContextInput struct {
	Store    string `json:"store" jsonschema:"required,Store to search"`
	Question string `json:"question" jsonschema:"required,Question the prompt should answer"`
	K        int    `json:"k,omitempty" jsonschema:"Number of passages (default: configured top_k)"`
}

type buildContextOutput struct {
	Prompt   string              `json:"prompt" jsonschema:"Rendered prompt with retrieved context"`
	Passages []retriever.Passage `json:"passages" jsonschema:"Passages used to build the prompt"`
}

// tool wraps fn with metrics, logging and the text summary the SDK
// returns alongside structured output.
func tool[In, Out any](s *Server, name string, fn func(context.Context, In) (Out, string, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		ctx = logging.WithOperation(ctx, name)
		s.metrics.IncrementActive(ctx, name)

		out, summary, err := fn(ctx, args)

		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn(ctx, "tool call failed", zap.String("tool", name), zap.String("kind", ragerr.Kind(err)), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: summary}},
		}, out, nil
	}
}

func (s *Server) add(meta *ToolMetadata, register func(*mcp.Tool)) error {
	if err := s.toolRegistry.Register(meta); err != nil {
		return err
	}
	register(&mcp.Tool{Name: meta.Name, Description: meta.Description})
	return nil
}

func (s *Server) registerTools() error {
	regs := []struct {
		meta     *ToolMetadata
		register func(*mcp.Tool)
	}{
		{
			&ToolMetadata{Name: "list_stores", Category: CategoryStores, Keywords: []string{"collections", "index"},
				Description: "List vector stores with record counts, dimensions and timestamps"},
			func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, tool(s, t.Name, s.listStores)) },
		},
		{
			&ToolMetadata{Name: "stat_store", Category: CategoryStores, Keywords: []string{"metadata", "manifest"},
				Description: "Describe one vector store"},
			func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, tool(s, t.Name, s.statStore)) },
		},
		{
			&ToolMetadata{Name: "retrieve", Category: CategoryRetrieval, Keywords: []string{"search", "similarity", "rag"},
				Description: "Retrieve the passages of a store most similar to a query"},
			func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, tool(s, t.Name, s.retrieve)) },
		},
		{
			&ToolMetadata{Name: "build_context", Category: CategoryRetrieval, Keywords: []string{"prompt", "rag", "answer"},
				Description: "Retrieve passages for a question and render them into an answer prompt"},
			func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, tool(s, t.Name, s.buildContext)) },
		},
		{
			&ToolMetadata{Name: "tool_search", Category: CategorySearch, Keywords: []string{"discover"},
				Description: "Search available tools by name, description or keyword (regex allowed)"},
			func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, tool(s, t.Name, s.toolSearch)) },
		},
		{
			&ToolMetadata{Name: "tool_list", Category: CategorySearch,
				Description: "List available tools, optionally within one category"},
			func(t *mcp.Tool) { mcp.AddTool(s.mcp, t, tool(s, t.Name, s.toolList)) },
		},
	}
	for _, r := range regs {
		if err := s.add(r.meta, r.register); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) listStores(ctx context.Context, _ listStoresInput) (listStoresOutput, string, error) {
	list, err := s.stores.List(ctx)
	if err != nil {
		return listStoresOutput{}, "", err
	}
	names := make([]string, len(list))
	infos := make([]storeInfo, len(list))
	for i, md := range list {
		names[i] = md.Name
		infos[i] = toStoreInfo(md)
	}
	summary := "No stores"
	if len(list) > 0 {
		summary = fmt.Sprintf("%d store(s): %s", len(list), strings.Join(names, ", "))
	}
	return listStoresOutput{Stores: infos, Count: len(infos)}, summary, nil
}

func (s *Server) statStore(ctx context.Context, args statStoreInput) (storeInfo, string, error) {
	md, err := s.stores.Stat(ctx, args.Store)
	if err != nil {
		return storeInfo{}, "", err
	}
	return toStoreInfo(md), fmt.Sprintf("%s: %d records of dimension %d", md.Name, md.RecordCount, md.Dimension), nil
}

func (s *Server) retrieve(ctx context.Context, args retrieveInput) (retrieveOutput, string, error) {
	if args.K < 0 {
		return retrieveOutput{}, "", fmt.Errorf("%w: k must not be negative", ragerr.ErrInvalidParameter)
	}
	ctx = logging.WithStore(ctx, args.Store)
	scored, err := s.retriever.RetrieveScored(ctx, args.Query, args.Store, args.K)
	if err != nil {
		return retrieveOutput{}, "", err
	}
	for i := range scored {
		if scored[i].Text, err = s.scrub(ctx, scored[i].Source, scored[i].Text); err != nil {
			return retrieveOutput{}, "", err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d passage(s) in %s", len(scored), args.Store)
	for i, p := range scored {
		fmt.Fprintf(&b, "\n\n[%d] %s (%.3f)\n%s", i+1, p.Source, p.Score, p.Text)
	}
	return retrieveOutput{Passages: scored, Count: len(scored)}, b.String(), nil
}

func (s *Server) buildContext(ctx context.Context, args buildContextInput) (buildContextOutput, string, error) {
	res, _, err := s.retrieve(ctx, retrieveInput{Store: args.Store, Query: args.Question, K: args.K})
	if err != nil {
		return buildContextOutput{}, "", err
	}
	passages := make([]retriever.Passage, len(res.Passages))
	for i, p := range res.Passages {
		passages[i] = p.Passage
	}
	text, err := s.prompt.Build(args.Question, passages)
	if err != nil {
		return buildContextOutput{}, "", err
	}
	return buildContextOutput{Prompt: text, Passages: passages}, text, nil
}

func (s *Server) scrub(ctx context.Context, source, text string) (string, error) {
	out, _, err := s.scrubber.Scrub(ctx, source, text)
	return out, err
}
