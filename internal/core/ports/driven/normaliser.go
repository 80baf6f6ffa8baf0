package driven

// Normaliser turns one kind of indexing input into plain text.
// The indexer feeds it the medical highlight (Markdown) and the
// serialised extraction payload.
type Normaliser interface {
	Normalise(content string, mimeType string) string

	// SupportedTypes lists media types, with "type/*" and "*/*" wildcards allowed.
	SupportedTypes() []string

	// Priority breaks ties between matching normalisers; higher wins.
	Priority() int
}

// NormaliserRegistry picks the normaliser for a media type.
type NormaliserRegistry interface {
	Register(normalisers ...Normaliser)

	// Resolve returns the highest-priority match, or nil.
	Resolve(mimeType string) Normaliser

	// Normalise runs the resolved normaliser. Unmatched content is only trimmed.
	Normalise(content string, mimeType string) string
}

// PostProcessor is one stage of the chunking pipeline. The first stage
// receives a single chunk spanning the whole text.
type PostProcessor interface {
	Process(chunks []Chunk) []Chunk
	Name() string

	// Order positions the stage; lower runs first.
	Order() int
}

// Chunk is a span of indexing text before it is embedded.
type Chunk struct {
	Content string

	// Position is renumbered by the pipeline after every stage has run.
	Position int

	// StartOffset and EndOffset are byte offsets into the indexing text.
	StartOffset int
	EndOffset   int

	// Metadata carries stage annotations such as the clinical section name.
	Metadata map[string]string
}

// PostProcessorPipeline chains post-processors by Order.
type PostProcessorPipeline interface {
	// Process splits content into chunks ready for embedding.
	Process(content string) []Chunk
	Add(processor PostProcessor)

	// List returns stage names in run order.
	List() []string
}
