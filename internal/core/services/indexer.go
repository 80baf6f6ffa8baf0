package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/postprocessors"
	"github.com/custodia-labs/clinical-core/internal/runtime"
)

const (
	mimeHighlight  = "text/markdown"
	mimeExtraction = "application/vnd.clinical.extraction+json"

	defaultEmbedBatchSize   = 16
	defaultEmbedConcurrency = 4
)

// Indexer writes a document's highlight and extraction into the vector index.
// It never fails a pipeline run; the outcome is reported as a VectorizeStatus.
type Indexer struct {
	services    *runtime.Services
	index       driven.VectorIndex
	normalisers driven.NormaliserRegistry
	pipeline    driven.PostProcessorPipeline
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// IndexerConfig holds dependencies for Indexer.
type IndexerConfig struct {
	Services    *runtime.Services
	Index       driven.VectorIndex
	Normalisers driven.NormaliserRegistry
	Pipeline    driven.PostProcessorPipeline
	BatchSize   int // texts per Embed call (default 16)
	Concurrency int // Embed calls in flight (default 4)
	Logger      *slog.Logger
}

// NewIndexer creates a new indexer.
func NewIndexer(cfg IndexerConfig) *Indexer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultEmbedBatchSize
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = defaultEmbedConcurrency
	}
	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = postprocessors.DefaultPipeline()
	}
	return &Indexer{
		services:    cfg.Services,
		index:       cfg.Index,
		normalisers: cfg.Normalisers,
		pipeline:    pipeline,
		batchSize:   batch,
		concurrency: conc,
		logger:      logger,
	}
}

// Index replaces the document's chunks in the vector index.
//
// Returns skipped when no embedding service or index is wired or the document has no text,
// failed (with the cause) when embedding or the index write fails, completed otherwise.
func (x *Indexer) Index(ctx context.Context, doc *domain.Document) (domain.VectorizeStatus, error) {
	if x.index == nil || x.services == nil || x.services.EmbeddingService() == nil {
		return domain.VectorizeStatusSkipped, nil
	}
	embedder := x.services.EmbeddingService()

	text := x.IndexText(doc)
	if text == "" {
		return domain.VectorizeStatusSkipped, nil
	}
	pieces := x.pipeline.Process(text)
	if len(pieces) == 0 {
		return domain.VectorizeStatusSkipped, nil
	}

	now := time.Now()
	chunks := make([]*domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &domain.Chunk{
			ID:         domain.GenerateID(),
			DocumentID: doc.ID,
			PatientID:  doc.PatientID,
			Content:    p.Content,
			Position:   p.Position,
			StartChar:  p.StartOffset,
			EndChar:    p.EndOffset,
			CreatedAt:  now,
		}
	}

	if err := x.embed(ctx, embedder, chunks); err != nil {
		x.logger.Warn("embedding failed", "document_id", doc.ID, "chunks", len(chunks), "error", err)
		return domain.VectorizeStatusFailed, err
	}

	if err := x.index.DeleteByDocument(ctx, doc.ID); err != nil {
		x.logger.Warn("failed to clear previous chunks", "document_id", doc.ID, "error", err)
		return domain.VectorizeStatusFailed, err
	}
	if err := x.index.Upsert(ctx, chunks); err != nil {
		x.logger.Warn("failed to write chunks", "document_id", doc.ID, "error", err)
		return domain.VectorizeStatusFailed, err
	}

	x.logger.Debug("document indexed", "document_id", doc.ID, "chunks", len(chunks), "model", embedder.Model())
	return domain.VectorizeStatusCompleted, nil
}

// Purge removes a document's chunks. A missing index is a no-op.
func (x *Indexer) Purge(ctx context.Context, documentID string) error {
	if x.index == nil {
		return nil
	}
	return x.index.DeleteByDocument(ctx, documentID)
}

// IndexText builds the text that gets chunked: the normalised highlight followed by the
// normalised extraction payload.
func (x *Indexer) IndexText(doc *domain.Document) string {
	var parts []string
	if h := x.normalise(doc.MedicalHighlight, mimeHighlight); h != "" {
		parts = append(parts, h)
	}
	if doc.ExtractedData != nil {
		if payload, err := json.Marshal(doc.ExtractedData); err == nil {
			if e := x.normalise(string(payload), mimeExtraction); e != "" {
				parts = append(parts, e)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func (x *Indexer) normalise(content, mimeType string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if x.normalisers != nil {
		return x.normalisers.Normalise(content, mimeType)
	}
	return strings.TrimSpace(content)
}

// embed fills chunk embeddings in fixed-size batches, a bounded number at a time.
func (x *Indexer) embed(ctx context.Context, embedder driven.EmbeddingService, chunks []*domain.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)

	for start := 0; start < len(chunks); start += x.batchSize {
		batch := chunks[start:min(start+x.batchSize, len(chunks))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}
			vectors, err := embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding service returned %d vectors for %d texts", len(vectors), len(batch))
			}
			for i, c := range batch {
				c.Embedding = vectors[i]
			}
			return nil
		})
	}
	return g.Wait()
}
