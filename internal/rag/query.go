package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"ragpdf/internal/ai"
	"ragpdf/internal/flow"
)

var ErrMissingQuestion = errors.New("query event has no question")

// searchOutput is the memoized output of the embed-and-search step.
type searchOutput struct {
	Contexts []string `json:"contexts"`
	Sources  []string `json:"sources"`
}

// QueryFunction builds the workflow that embeds a question, retrieves
// the closest chunks and asks the LLM for an answer grounded in them.
func QueryFunction(deps *Deps) *flow.Function {
	return &flow.Function{
		ID:        FunctionQueryID,
		Name:      "RAG: Query PDF",
		EventName: EventQueryPDF,
		Handler: func(fctx *flow.Context) (interface{}, error) {
			var evt QueryEvent
			if err := fctx.UnmarshalData(&evt); err != nil {
				return nil, fmt.Errorf("decode query event failed: %w", err)
			}
			if strings.TrimSpace(evt.Question) == "" {
				return nil, ErrMissingQuestion
			}
			topK := evt.TopK
			if topK <= 0 {
				topK = deps.topK()
			}

			found, err := flow.Step(fctx, "embed-and-search", func(ctx context.Context) (searchOutput, error) {
				return searchChunks(ctx, deps, evt.Question, topK)
			})
			if err != nil {
				return nil, err
			}

			messages := buildPrompt(evt.Question, found.Contexts)

			answer, err := flow.Step(fctx, "llm-answer", func(ctx context.Context) (string, error) {
				completion, err := deps.Chat.Complete(ctx, messages)
				if err != nil {
					return "", fmt.Errorf("llm completion failed: %w", err)
				}
				return strings.TrimSpace(completion), nil
			})
			if err != nil {
				return nil, err
			}

			return QueryResult{
				Answer:      answer,
				Sources:     found.Sources,
				NumContexts: len(found.Contexts),
			}, nil
		},
	}
}

// searchChunks embeds the question and returns the retrieved chunk
// texts plus their source ids, deduplicated in first-seen order.
func searchChunks(ctx context.Context, deps *Deps, question string, topK int) (searchOutput, error) {
	vector, err := deps.Embedder.Embed(ctx, question)
	if err != nil {
		return searchOutput{}, fmt.Errorf("embed question failed: %w", err)
	}

	hits, err := deps.Store.Search(ctx, vector, topK)
	if err != nil {
		return searchOutput{}, fmt.Errorf("vector search failed: %w", err)
	}

	out := searchOutput{
		Contexts: make([]string, 0, len(hits)),
		Sources:  make([]string, 0, len(hits)),
	}
	seen := make(map[string]bool, len(hits))
	for _, hit := range hits {
		out.Contexts = append(out.Contexts, hit.Payload.Text)
		if !seen[hit.Payload.Source] {
			seen[hit.Payload.Source] = true
			out.Sources = append(out.Sources, hit.Payload.Source)
		}
	}
	log.Printf("found %d contexts from %d sources", len(out.Contexts), len(out.Sources))
	return out, nil
}

func buildPrompt(question string, contexts []string) []ai.ChatMessage {
	lines := make([]string, len(contexts))
	for i, c := range contexts {
		lines[i] = "- " + c
	}
	block := strings.Join(lines, "\n\n")

	userContent := "Use the following context to answer the question.\n\n" +
		"Context:\n" + block + "\n\n" +
		"Question: " + question + "\n" +
		"Answer concisely using the context above."

	return []ai.ChatMessage{
		{Role: "system", Content: "You answer questions using only the provided context."},
		{Role: "user", Content: userContent},
	}
}
