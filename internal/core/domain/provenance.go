package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Non-document provenance sources. Any other source value is a document ID.
const (
	SourceAIInferred     = "ai_inferred"
	SourceManualEntry    = "manual_entry"
	SourceManualOverride = "manual_override"
)

// ProvenanceEntry records where a field's current value came from.
type ProvenanceEntry struct {
	Value      any       `json:"value"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// ProvenanceMap is keyed by field name; at most one entry per field.
type ProvenanceMap map[string]ProvenanceEntry

// TrackedValue is one input to TrackFields.
type TrackedValue struct {
	Value      any
	Source     string
	Confidence *float64
}

// IsDocumentSource reports whether source names a document rather than a fixed source.
func IsDocumentSource(source string) bool {
	switch source {
	case "", SourceAIInferred, SourceManualEntry, SourceManualOverride:
		return false
	}
	return true
}

// IsManualSource reports whether source came from a human edit.
func IsManualSource(source string) bool {
	return source == SourceManualEntry || source == SourceManualOverride
}

// SourceAuthority ranks sources for the overwrite policy.
func SourceAuthority(source string) int {
	switch source {
	case SourceManualOverride:
		return 3
	case SourceManualEntry:
		return 2
	case SourceAIInferred, "":
		return 0
	default:
		return 1
	}
}

// TrackField sets the entry for field unconditionally. Last write wins;
// the existing timestamp is not compared. The input map is not modified.
func TrackField(m ProvenanceMap, field string, value any, source string, confidence *float64) ProvenanceMap {
	out := m.Clone()
	out[field] = ProvenanceEntry{
		Value:      value,
		Source:     source,
		Timestamp:  time.Now().UTC(),
		Confidence: confidence,
	}
	return out
}

// TrackFields applies TrackField for each entry.
func TrackFields(m ProvenanceMap, fields map[string]TrackedValue) ProvenanceMap {
	out := m.Clone()
	now := time.Now().UTC()
	for name, v := range fields {
		out[name] = ProvenanceEntry{
			Value:      v.Value,
			Source:     v.Source,
			Timestamp:  now,
			Confidence: v.Confidence,
		}
	}
	return out
}

// Clone returns a shallow copy. A nil map clones to an empty one.
func (m ProvenanceMap) Clone() ProvenanceMap {
	out := make(ProvenanceMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SourceOf returns the source for field, or "" if untracked.
func (m ProvenanceMap) SourceOf(field string) string {
	if m == nil {
		return ""
	}
	return m[field].Source
}

// FieldsBySource returns the entries whose source equals source.
func FieldsBySource(m ProvenanceMap, source string) ProvenanceMap {
	out := ProvenanceMap{}
	for k, v := range m {
		if v.Source == source {
			out[k] = v
		}
	}
	return out
}

// ProvenanceSummary is a read-time view of a ProvenanceMap.
type ProvenanceSummary struct {
	Total                   int            `json:"total"`
	PerSource               map[string]int `json:"per_source"`
	DistinctDocumentSources []string       `json:"distinct_document_sources"`
	// LatestField is the field with the newest timestamp.
	LatestField string     `json:"latest_field,omitempty"`
	LatestAt    *time.Time `json:"latest_at,omitempty"`
}

// Summarize counts entries per source and lists distinct source documents.
func Summarize(m ProvenanceMap) ProvenanceSummary {
	s := ProvenanceSummary{
		Total:                   len(m),
		PerSource:               map[string]int{},
		DistinctDocumentSources: []string{},
	}
	docs := map[string]struct{}{}
	for field, e := range m {
		s.PerSource[e.Source]++
		if IsDocumentSource(e.Source) {
			docs[e.Source] = struct{}{}
		}
		if s.LatestAt == nil || e.Timestamp.After(*s.LatestAt) ||
			(e.Timestamp.Equal(*s.LatestAt) && field < s.LatestField) {
			ts := e.Timestamp
			s.LatestAt = &ts
			s.LatestField = field
		}
	}
	for d := range docs {
		s.DistinctDocumentSources = append(s.DistinctDocumentSources, d)
	}
	sort.Strings(s.DistinctDocumentSources)
	return s
}

// MarshalProvenance serializes a map to its stored JSON form.
func MarshalProvenance(m ProvenanceMap) ([]byte, error) {
	if m == nil {
		m = ProvenanceMap{}
	}
	return json.Marshal(m)
}

// ParseProvenance parses the stored JSON form. Empty input yields an empty map.
func ParseProvenance(data []byte) (ProvenanceMap, error) {
	m := ProvenanceMap{}
	if len(data) == 0 || string(data) == "null" {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: provenance: %v", ErrParse, err)
	}
	return m, nil
}
