package domain

import "time"

// ProcessingStatus is the per-document pipeline state.
// Values are read verbatim by the UI layer.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// VectorizeStatus records the outcome of the indexing stage.
type VectorizeStatus string

const (
	VectorizeStatusPending   VectorizeStatus = "pending"
	VectorizeStatusCompleted VectorizeStatus = "completed"
	VectorizeStatusFailed    VectorizeStatus = "failed"
	VectorizeStatusSkipped   VectorizeStatus = "skipped"
)

// DocumentKind classifies a clinical document for prompting and summaries.
type DocumentKind string

const (
	DocumentKindPathology DocumentKind = "pathology_report"
	DocumentKindImaging   DocumentKind = "imaging_report"
	DocumentKindLab       DocumentKind = "lab_report"
	DocumentKindNote      DocumentKind = "clinical_note"
	DocumentKindDischarge DocumentKind = "discharge_summary"
	DocumentKindPrescribe DocumentKind = "prescription"
	DocumentKindGenomic   DocumentKind = "genomic_report"
	DocumentKindOther     DocumentKind = "other"
)

// IsValid reports whether k is a known document kind.
func (k DocumentKind) IsValid() bool {
	switch k {
	case DocumentKindPathology, DocumentKindImaging, DocumentKindLab, DocumentKindNote,
		DocumentKindDischarge, DocumentKindPrescribe, DocumentKindGenomic, DocumentKindOther:
		return true
	}
	return false
}

// Document is an uploaded clinical document and its processing state.
// Created on upload (externally), mutated only by the pipeline.
type Document struct {
	ID          string       `json:"id"`
	PatientID   string       `json:"patient_id"`
	StorageKey  string       `json:"storage_key"`
	MimeType    string       `json:"mime_type"`
	Kind        DocumentKind `json:"kind"`
	DisplayName string       `json:"display_name,omitempty"`

	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ProcessingError  *string          `json:"processing_error,omitempty"`
	VectorizeStatus  VectorizeStatus  `json:"vectorize_status"`

	// ExtractedData is the parsed payload; RawExtraction the provider's raw text.
	ExtractedData    *ExtractedData `json:"extracted_data,omitempty"`
	RawExtraction    string         `json:"raw_extraction,omitempty"`
	MedicalHighlight string         `json:"medical_highlight,omitempty"`

	TokensUsed TokenUsage `json:"tokens_used"`
	Provider   string     `json:"provider,omitempty"`
	Model      string     `json:"model,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MarkProcessing moves the document into processing and stamps the start time.
func (d *Document) MarkProcessing() {
	now := time.Now()
	d.ProcessingStatus = ProcessingStatusProcessing
	d.ProcessingError = nil
	d.StartedAt = &now
	d.UpdatedAt = now
}

// MarkCompleted finalizes a successful run.
func (d *Document) MarkCompleted() {
	now := time.Now()
	d.ProcessingStatus = ProcessingStatusCompleted
	d.ProcessingError = nil
	d.CompletedAt = &now
	d.UpdatedAt = now
}

// MarkFailed records a fatal error on the document.
func (d *Document) MarkFailed(msg string) {
	now := time.Now()
	d.ProcessingStatus = ProcessingStatusFailed
	d.ProcessingError = &msg
	d.UpdatedAt = now
}

// File is a document's bytes as fetched from object storage.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// TokenUsage counts provider tokens for one or more calls.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates another usage into u.
func (u *TokenUsage) Add(o TokenUsage) {
	u.Prompt += o.Prompt
	u.Completion += o.Completion
	if o.Total == 0 {
		o.Total = o.Prompt + o.Completion
	}
	u.Total += o.Total
}

// ProcessingLog is one audit entry per pipeline run.
type ProcessingLog struct {
	ID           string           `json:"id"`
	DocumentID   string           `json:"document_id"`
	PatientID    string           `json:"patient_id"`
	Provider     string           `json:"provider"`
	Model        string           `json:"model"`
	Mode         ProcessingMode   `json:"mode"`
	Status       ProcessingStatus `json:"status"`
	TokensUsed   TokenUsage       `json:"tokens_used"`
	DurationMs   int64            `json:"duration_ms"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ClinicalSection is a denormalized paragraph per patient and document kind.
type ClinicalSection struct {
	PatientID        string       `json:"patient_id"`
	Kind             DocumentKind `json:"kind"`
	Summary          string       `json:"summary"`
	SourceDocumentID string       `json:"source_document_id"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// TimelineEvent is a dated clinical event extracted from a document.
type TimelineEvent struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	DocumentID  string    `json:"document_id"`
	EventDate   string    `json:"event_date"`
	EventType   string    `json:"event_type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
