package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.PipelineService = (*Orchestrator)(nil)

// Orchestrator runs the enrichment pipeline for a single document.
type Orchestrator struct {
	documents    driven.DocumentStore
	files        driven.FileStore
	gateway      *ProviderGateway
	synchronizer *EntitySynchronizer
	indexer      *Indexer
	logs         driven.ProcessingLogStore
	timeline     driven.TimelineStore
	sections     driven.ClinicalSectionStore

	highlightNonFatal bool
	sectionNonFatal   bool
	logger            *slog.Logger
}

// OrchestratorConfig holds dependencies for Orchestrator.
// Logs, Timeline and Sections are optional; the stages that use them are skipped when nil.
type OrchestratorConfig struct {
	Documents    driven.DocumentStore
	Files        driven.FileStore
	Gateway      *ProviderGateway
	Synchronizer *EntitySynchronizer
	Indexer      *Indexer
	Logs         driven.ProcessingLogStore
	Timeline     driven.TimelineStore
	Sections     driven.ClinicalSectionStore

	// HighlightNonFatal lets a run continue when highlight extraction fails.
	HighlightNonFatal bool
	// SectionNonFatal lets a run continue when the clinical section upsert fails.
	SectionNonFatal bool

	Logger *slog.Logger
}

// NewOrchestrator creates a new pipeline orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		documents:         cfg.Documents,
		files:             cfg.Files,
		gateway:           cfg.Gateway,
		synchronizer:      cfg.Synchronizer,
		indexer:           cfg.Indexer,
		logs:              cfg.Logs,
		timeline:          cfg.Timeline,
		sections:          cfg.Sections,
		highlightNonFatal: cfg.HighlightNonFatal,
		sectionNonFatal:   cfg.SectionNonFatal,
		logger:            logger,
	}
}

// pipelineRun carries the state of one Process call.
type pipelineRun struct {
	doc      *domain.Document
	mode     domain.ProcessingMode
	provider string
	model    string
	backend  *Backend
	usage    domain.TokenUsage
	sync     []domain.SyncResult
	started  time.Time
}

// Process runs the pipeline synchronously.
//
// The document moves pending -> processing -> completed. Any fatal error moves it to
// failed with the error text and is returned to the caller. Parse failures, timeline
// extraction and indexing never fail the run.
func (o *Orchestrator) Process(ctx context.Context, documentID string, opts domain.ProcessingOptions) (*domain.ProcessingResult, error) {
	mode := opts.Mode
	if mode == "" {
		mode = domain.ProcessingModeFull
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown processing mode %q", domain.ErrInvalidInput, mode)
	}

	// Step 1: Load document
	doc, err := o.documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	run := &pipelineRun{doc: doc, mode: mode, started: time.Now()}
	doc.MarkProcessing()
	if err := o.documents.Save(ctx, doc); err != nil {
		return nil, o.fail(ctx, run, fmt.Errorf("mark processing: %w", err))
	}

	o.logger.Info("processing document",
		"document_id", doc.ID,
		"patient_id", doc.PatientID,
		"mode", mode,
		"requested_provider", opts.Provider,
	)

	if err := o.run(ctx, run, opts.Provider); err != nil {
		return nil, o.fail(ctx, run, err)
	}
	return o.complete(ctx, run)
}

func (o *Orchestrator) run(ctx context.Context, run *pipelineRun, requested string) error {
	doc := run.doc

	providerID, backend, err := o.gateway.Select(requested)
	if err != nil {
		return err
	}
	run.provider, run.backend, run.model = providerID, backend, backend.Model()

	// Step 2: Fetch file bytes
	file, err := o.files.Get(ctx, doc.StorageKey)
	if err != nil {
		return err
	}
	if file.MimeType == "" {
		file.MimeType = doc.MimeType
	}
	if file.Name == "" {
		file.Name = doc.DisplayName
	}

	// Step 3: Highlight
	if run.mode != domain.ProcessingModeIncremental || doc.MedicalHighlight == "" {
		if err := o.extractHighlight(ctx, run, file); err != nil {
			return err
		}
	}

	if run.mode == domain.ProcessingModeFast {
		doc.TokensUsed, doc.Provider, doc.Model = run.usage, run.provider, run.model
		return o.documents.Save(ctx, doc)
	}

	// Step 4: Structured extraction (parse failures keep the raw text)
	kind := doc.Kind
	if !kind.IsValid() {
		kind = domain.DocumentKindOther
	}
	gen, err := backend.ExtractStructured(ctx, file, kind)
	if err != nil {
		return err
	}
	o.account(run, gen)
	data, perr := domain.ParseExtraction(gen.Text, kind)
	if perr != nil {
		o.logger.Warn("structured extraction did not parse, keeping raw response",
			"document_id", doc.ID, "provider", run.provider, "error", perr)
	} else if len(data.ValidationErrors) > 0 {
		o.logger.Warn("structured extraction has schema violations",
			"document_id", doc.ID, "violations", len(data.ValidationErrors))
	}
	doc.ExtractedData = data
	doc.RawExtraction = gen.Text

	// Step 5: Persist payload, usage and provider identity
	doc.TokensUsed, doc.Provider, doc.Model = run.usage, run.provider, run.model
	if err := o.documents.Save(ctx, doc); err != nil {
		return fmt.Errorf("persist extraction: %w", err)
	}

	// Step 6: Clinical section
	if err := o.upsertSection(ctx, doc); err != nil {
		if !o.sectionNonFatal {
			return err
		}
		o.logger.Warn("clinical section update failed", "document_id", doc.ID, "error", err)
	}

	// Step 7: Entity sync
	if o.synchronizer != nil {
		results, err := o.synchronizer.Sync(ctx, SyncInput{
			PatientID:  doc.PatientID,
			DocumentID: doc.ID,
			Provider:   run.provider,
			Data:       data,
		})
		run.sync = results
		if err != nil {
			return fmt.Errorf("entity sync: %w", err)
		}
	}

	// Step 8: Timeline (never fatal)
	o.extractTimeline(ctx, run)
	return nil
}

func (o *Orchestrator) extractHighlight(ctx context.Context, run *pipelineRun, file *domain.File) error {
	gen, err := run.backend.ExtractHighlight(ctx, file)
	if err != nil {
		if !o.highlightNonFatal {
			return err
		}
		o.logger.Warn("highlight extraction failed, continuing", "document_id", run.doc.ID, "error", err)
		return nil
	}
	o.account(run, gen)
	run.doc.MedicalHighlight = strings.TrimSpace(gen.Text)
	return nil
}

func (o *Orchestrator) account(run *pipelineRun, gen *driven.Generation) {
	if gen == nil {
		return
	}
	run.usage.Add(gen.Usage)
	if gen.Model != "" {
		run.model = gen.Model
	}
}

func (o *Orchestrator) upsertSection(ctx context.Context, doc *domain.Document) error {
	if o.sections == nil {
		return nil
	}
	summary := doc.MedicalHighlight
	if doc.ExtractedData.IsParsed() && strings.TrimSpace(doc.ExtractedData.Summary) != "" {
		summary = doc.ExtractedData.Summary
	}
	if strings.TrimSpace(summary) == "" {
		return nil
	}
	kind := doc.Kind
	if !kind.IsValid() {
		kind = domain.DocumentKindOther
	}
	return o.sections.Upsert(ctx, &domain.ClinicalSection{
		PatientID:        doc.PatientID,
		Kind:             kind,
		Summary:          strings.TrimSpace(summary),
		SourceDocumentID: doc.ID,
		UpdatedAt:        time.Now(),
	})
}

func (o *Orchestrator) extractTimeline(ctx context.Context, run *pipelineRun) {
	doc := run.doc
	if o.timeline == nil || !doc.ExtractedData.IsParsed() {
		return
	}
	prompt, err := TimelinePrompt(doc.ExtractedData)
	if err != nil {
		o.logger.Warn("timeline prompt failed", "document_id", doc.ID, "error", err)
		return
	}
	gen, err := run.backend.GenerateContent(ctx, prompt)
	if err != nil {
		o.logger.Warn("timeline extraction failed", "document_id", doc.ID, "error", err)
		return
	}
	o.account(run, gen)
	events, err := domain.ParseTimeline(gen.Text, doc.PatientID, doc.ID)
	if err != nil {
		o.logger.Warn("timeline response did not parse", "document_id", doc.ID, "error", err)
		return
	}
	if err := o.timeline.ReplaceForDocument(ctx, doc.ID, events); err != nil {
		o.logger.Warn("failed to store timeline", "document_id", doc.ID, "error", err)
	}
}

// complete runs the indexing stage, finalizes the document and writes the processing log.
func (o *Orchestrator) complete(ctx context.Context, run *pipelineRun) (*domain.ProcessingResult, error) {
	doc := run.doc

	doc.VectorizeStatus = domain.VectorizeStatusSkipped
	if o.indexer != nil {
		status, err := o.indexer.Index(ctx, doc)
		if err != nil {
			o.logger.Warn("indexing failed", "document_id", doc.ID, "error", err)
		}
		doc.VectorizeStatus = status
	}

	doc.TokensUsed, doc.Provider, doc.Model = run.usage, run.provider, run.model
	doc.MarkCompleted()
	if err := o.documents.Save(ctx, doc); err != nil {
		return nil, o.fail(ctx, run, fmt.Errorf("finalize document: %w", err))
	}

	elapsed := time.Since(run.started)
	o.appendLog(ctx, run, domain.ProcessingStatusCompleted, elapsed, nil)
	o.logger.Info("document processed",
		"document_id", doc.ID,
		"provider", run.provider,
		"model", run.model,
		"tokens", run.usage.Total,
		"vectorize_status", doc.VectorizeStatus,
		"duration", elapsed,
	)

	return &domain.ProcessingResult{
		DocumentID:       doc.ID,
		ExtractedData:    doc.ExtractedData,
		MedicalHighlight: doc.MedicalHighlight,
		TokensUsed:       run.usage,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Provider:         run.provider,
		Model:            run.model,
		VectorizeStatus:  doc.VectorizeStatus,
		Sync:             run.sync,
	}, nil
}

// fail marks the document failed, logs the run and returns err unchanged.
// The failure is persisted even when ctx is already cancelled.
func (o *Orchestrator) fail(ctx context.Context, run *pipelineRun, err error) error {
	ctx = context.WithoutCancel(ctx)
	doc := run.doc

	if run.usage.Total > 0 {
		doc.TokensUsed = run.usage
	}
	if run.provider != "" {
		doc.Provider, doc.Model = run.provider, run.model
	}
	doc.MarkFailed(err.Error())
	if saveErr := o.documents.Save(ctx, doc); saveErr != nil {
		o.logger.Error("failed to persist document failure",
			"document_id", doc.ID, "error", err, "save_error", saveErr)
	}

	o.appendLog(ctx, run, domain.ProcessingStatusFailed, time.Since(run.started), err)
	o.logger.Error("document processing failed",
		"document_id", doc.ID,
		"provider", run.provider,
		"error_kind", domain.ErrorKind(err),
		"error", err,
	)
	return err
}

func (o *Orchestrator) appendLog(ctx context.Context, run *pipelineRun, status domain.ProcessingStatus, elapsed time.Duration, cause error) {
	if o.logs == nil {
		return
	}
	entry := &domain.ProcessingLog{
		ID:         domain.GenerateID(),
		DocumentID: run.doc.ID,
		PatientID:  run.doc.PatientID,
		Provider:   run.provider,
		Model:      run.model,
		Mode:       run.mode,
		Status:     status,
		TokensUsed: run.usage,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if cause != nil {
		entry.ErrorKind = domain.ErrorKind(cause)
		entry.ErrorMessage = cause.Error()
	}
	if err := o.logs.Append(ctx, entry); err != nil {
		o.logger.Warn("failed to write processing log", "document_id", run.doc.ID, "error", err)
	}
}

const timelineInstructions = `From the structured clinical extraction below, list every dated clinical event
(diagnosis, staging, procedures, treatment starts and stops, cycles, imaging, lab results, medication changes).
Respond with a JSON array only. Each item: {"date": "YYYY-MM-DD", "type": "diagnosis|staging|treatment|procedure|imaging|lab|medication|other", "title": "...", "description": "..."}.
Omit events without a date. Respond with [] when there are none.

Extraction:
`

// TimelinePrompt builds the generation prompt for timeline extraction.
func TimelinePrompt(data *domain.ExtractedData) (string, error) {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return timelineInstructions + string(payload), nil
}
