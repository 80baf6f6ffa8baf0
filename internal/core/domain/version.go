package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// VersionRecord is an immutable change record for one tracked field.
type VersionRecord struct {
	ID             string     `json:"id"`
	RecordType     RecordType `json:"record_type"`
	RecordID       string     `json:"record_id"`
	PatientID      string     `json:"patient_id"`
	FieldName      string     `json:"field_name"`
	OldValue       *string    `json:"old_value"`
	NewValue       *string    `json:"new_value"`
	EditedBy       string     `json:"edited_by"`
	EditedAt       time.Time  `json:"edited_at"`
	EditReason     string     `json:"edit_reason,omitempty"`
	OriginalSource string     `json:"original_source,omitempty"`
	OverrideSource string     `json:"override_source,omitempty"`
}

// VersionInput describes one change to record.
type VersionInput struct {
	RecordType     RecordType `validate:"required"`
	RecordID       string     `validate:"required"`
	PatientID      string     `validate:"required"`
	FieldName      string     `validate:"required"`
	OldValue       any
	NewValue       any
	EditedBy       string `validate:"required"`
	Reason         string
	OriginalSource string
	OverrideSource string
}

// FieldChange is one field of a multi-field edit sharing the same metadata.
type FieldChange struct {
	FieldName string
	OldValue  any
	NewValue  any
}

// NewVersionRecord builds a record from input with canonical string values.
func NewVersionRecord(in VersionInput) *VersionRecord {
	return &VersionRecord{
		ID:             GenerateID(),
		RecordType:     in.RecordType,
		RecordID:       in.RecordID,
		PatientID:      in.PatientID,
		FieldName:      in.FieldName,
		OldValue:       CanonicalValue(in.OldValue),
		NewValue:       CanonicalValue(in.NewValue),
		EditedBy:       in.EditedBy,
		EditedAt:       time.Now().UTC(),
		EditReason:     in.Reason,
		OriginalSource: in.OriginalSource,
		OverrideSource: in.OverrideSource,
	}
}

// CanonicalValue renders v as the string stored in version rows. nil stays nil.
func CanonicalValue(v any) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case *string:
		if x == nil {
			return nil
		}
		s = *x
	case string:
		s = x
	case *int:
		if x == nil {
			return nil
		}
		s = strconv.Itoa(*x)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	case time.Time:
		s = x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		s = x.String()
	default:
		data, err := json.Marshal(x)
		if err != nil {
			s = fmt.Sprint(x)
		} else {
			s = string(data)
		}
	}
	return &s
}

// EqualValues compares two canonical values, treating nil and "" alike.
func EqualValues(a, b *string) bool {
	return Deref(a) == Deref(b)
}

// SystemActor is the editedBy value used for automated changes from a provider.
func SystemActor(provider string) string {
	if provider == "" {
		return "system"
	}
	return "system:" + provider
}
