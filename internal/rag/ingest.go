package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ragpdf/internal/flow"
	"ragpdf/internal/vectorstore"
)

var ErrMissingPDFPath = errors.New("ingest event has no pdf_path")

// chunkedSource is the memoized output of the load-and-chunk step.
type chunkedSource struct {
	SourceID string   `json:"source_id"`
	Chunks   []string `json:"chunks"`
}

// IngestFunction builds the workflow that loads a PDF, chunks it,
// embeds the chunks and upserts them into the vector store. Ingests are
// throttled to two starts a minute, and a given source_id is only
// accepted once every four hours.
func IngestFunction(deps *Deps) *flow.Function {
	return &flow.Function{
		ID:        FunctionIngestID,
		Name:      "RAG: Ingest PDF",
		EventName: EventIngestPDF,
		Throttle:  &flow.Throttle{Limit: 2, Period: time.Minute},
		RateLimit: &flow.RateLimit{Limit: 1, Period: 4 * time.Hour, Key: "event.data.source_id"},
		Handler: func(fctx *flow.Context) (interface{}, error) {
			var evt IngestEvent
			if err := fctx.UnmarshalData(&evt); err != nil {
				return nil, fmt.Errorf("decode ingest event failed: %w", err)
			}
			if evt.PDFPath == "" {
				return nil, ErrMissingPDFPath
			}
			if evt.SourceID == "" {
				evt.SourceID = evt.PDFPath
			}

			chunked, err := flow.Step(fctx, "load-and-chunk", func(ctx context.Context) (chunkedSource, error) {
				chunks, err := deps.Loader.LoadAndChunkPDF(evt.PDFPath)
				if err != nil {
					return chunkedSource{}, err
				}
				log.Printf("loaded %d chunks from %s", len(chunks), evt.PDFPath)
				return chunkedSource{SourceID: evt.SourceID, Chunks: chunks}, nil
			})
			if err != nil {
				return nil, err
			}

			result, err := flow.Step(fctx, "embed-and-upsert", func(ctx context.Context) (IngestResult, error) {
				return upsertChunks(ctx, deps, chunked)
			})
			if err != nil {
				return nil, err
			}
			return result, nil
		},
	}
}

// upsertChunks embeds the chunks and writes them to the vector store
// under deterministic ids.
func upsertChunks(ctx context.Context, deps *Deps, src chunkedSource) (IngestResult, error) {
	if len(src.Chunks) == 0 {
		return IngestResult{}, nil
	}

	// Call the embedding API in batches to stay under provider limits.
	batchSize := deps.embedBatchSize()
	vectors := make([][]float32, 0, len(src.Chunks))
	for start := 0; start < len(src.Chunks); start += batchSize {
		end := start + batchSize
		if end > len(src.Chunks) {
			end = len(src.Chunks)
		}
		batch, err := deps.Embedder.EmbedBatch(ctx, src.Chunks[start:end])
		if err != nil {
			return IngestResult{}, fmt.Errorf("embed chunks failed: %w", err)
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(src.Chunks) {
		return IngestResult{}, fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(vectors), len(src.Chunks))
	}

	if err := deps.Store.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return IngestResult{}, fmt.Errorf("ensure collection failed: %w", err)
	}

	points := make([]vectorstore.Point, len(src.Chunks))
	for i, chunk := range src.Chunks {
		points[i] = vectorstore.Point{
			ID:     PointID(src.SourceID, i),
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				Source: src.SourceID,
				Text:   chunk,
			},
		}
	}
	if err := deps.Store.Upsert(ctx, points); err != nil {
		return IngestResult{}, fmt.Errorf("upsert points failed: %w", err)
	}
	log.Printf("upserted %d chunks for %s", len(points), src.SourceID)

	return IngestResult{Ingested: len(points)}, nil
}
