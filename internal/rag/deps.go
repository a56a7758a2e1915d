package rag

import (
	"context"

	"ragpdf/internal/ai"
	"ragpdf/internal/vectorstore"
)

const (
	defaultTopK        = 5
	embeddingBatchSize = 10 // most embedding APIs limit batch size
)

// Loader turns a PDF on disk into text chunks.
type Loader interface {
	LoadAndChunkPDF(path string) ([]string, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer produces a chat completion for the given messages.
type Completer interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// Deps carries everything the workflow functions call out to. The
// functions themselves never construct clients.
type Deps struct {
	Loader   Loader
	Embedder Embedder
	Chat     Completer
	Store    vectorstore.Store

	// EmbedBatchSize caps how many chunks go to the embedding API per
	// request; zero means the package default.
	EmbedBatchSize int
	// DefaultTopK is used when a query event carries no top_k.
	DefaultTopK int
}

func (d *Deps) embedBatchSize() int {
	if d.EmbedBatchSize > 0 {
		return d.EmbedBatchSize
	}
	return embeddingBatchSize
}

func (d *Deps) topK() int {
	if d.DefaultTopK > 0 {
		return d.DefaultTopK
	}
	return defaultTopK
}
