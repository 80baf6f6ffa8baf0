package postprocessors

import (
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.PostProcessorPipeline = (*Pipeline)(nil)

// Pipeline implements PostProcessorPipeline.
// Processors run in Order(); chunk positions are renumbered once all of them have run,
// so filters that drop chunks never leave gaps.
type Pipeline struct {
	mu         sync.RWMutex
	processors []driven.PostProcessor
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Add adds a processor and keeps the list sorted by Order.
func (p *Pipeline) Add(processor driven.PostProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processors = append(p.processors, processor)
	sort.SliceStable(p.processors, func(i, j int) bool {
		return p.processors[i].Order() < p.processors[j].Order()
	})
}

// Process turns indexing text into chunks ready for embedding.
// Blank input yields no chunks.
func (p *Pipeline) Process(content string) []driven.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	p.mu.RLock()
	processors := make([]driven.PostProcessor, len(p.processors))
	copy(processors, p.processors)
	p.mu.RUnlock()

	chunks := []driven.Chunk{{
		Content:   content,
		EndOffset: len(content),
	}}
	for _, proc := range processors {
		chunks = proc.Process(chunks)
	}

	for i := range chunks {
		chunks[i].Position = i
	}
	return chunks
}

// List returns processor names in order.
func (p *Pipeline) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.processors))
	for i, proc := range p.processors {
		names[i] = proc.Name()
	}
	return names
}

// DefaultPipeline splits on clinical sections, sizes the chunks, cleans whitespace and drops repeats.
func DefaultPipeline() *Pipeline {
	return NewPipelineWithConfig(DefaultChunkConfig())
}

// NewPipelineWithConfig builds the default processor chain with a custom chunk size.
func NewPipelineWithConfig(cfg ChunkConfig) *Pipeline {
	p := NewPipeline()
	p.Add(NewSectionSplitter())
	p.Add(NewChunker(cfg))
	p.Add(NewWhitespaceNormalizer())
	p.Add(NewDeduplicator(DefaultDeduplicatorConfig()))
	return p
}
