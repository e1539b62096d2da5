// Package prompt assembles retrieved passages and a question into the text
// handed to an external generator.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/retriever"
)

// DefaultTemplate is the question-answering prompt. It uses f-string
// placeholders.
const DefaultTemplate = "Answer the question based only on the following context:\n{context}\n\nQuestion: {question}"

// Separator joins passages in the context block.
const Separator = "\n\n"

// Retriever fetches passages. *retriever.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query, store string, k int) ([]retriever.Passage, error)
}

// Builder renders prompts from a template.
type Builder struct {
	template prompts.PromptTemplate
}

// New parses template, which must reference {context} and {question}. An
// empty template selects DefaultTemplate.
func New(template string) (*Builder, error) {
	if template == "" {
		template = DefaultTemplate
	}
	for _, v := range []string{"{context}", "{question}"} {
		if !strings.Contains(template, v) {
			return nil, fmt.Errorf("%w: prompt template lacks %s", ragerr.ErrInvalidParameter, v)
		}
	}
	t := prompts.PromptTemplate{
		Template:       template,
		InputVariables: []string{"context", "question"},
		TemplateFormat: prompts.TemplateFormatFString,
	}
	if _, err := t.Format(map[string]any{"context": "", "question": ""}); err != nil {
		return nil, fmt.Errorf("%w: prompt template: %v", ragerr.ErrInvalidParameter, err)
	}
	return &Builder{template: t}, nil
}

// JoinContext concatenates passage texts in rank order.
func JoinContext(passages []retriever.Passage) string {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	return strings.Join(texts, Separator)
}

// Build renders the prompt for question over passages.
func (b *Builder) Build(question string, passages []retriever.Passage) (string, error) {
	return b.template.Format(map[string]any{
		"context":  JoinContext(passages),
		"question": question,
	})
}

// Context is an assembled prompt with the passages behind it.
type Context struct {
	Prompt   string              `json:"prompt"`
	Passages []retriever.Passage `json:"passages"`
}

// Assemble retrieves k passages for question from store and renders the
// prompt.
func (b *Builder) Assemble(ctx context.Context, r Retriever, store, question string, k int) (Context, error) {
	passages, err := r.Retrieve(ctx, question, store, k)
	if err != nil {
		return Context{}, err
	}
	text, err := b.Build(question, passages)
	if err != nil {
		return Context{}, err
	}
	return Context{Prompt: text, Passages: passages}, nil
}
