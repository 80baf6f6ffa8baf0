package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalValue(t *testing.T) {
	s := "x"
	var nilStr *string
	grade := 3
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want *string
	}{
		{"nil", nil, nil},
		{"nil string pointer", nilStr, nil},
		{"string", "Breast Cancer", StringPtr("Breast Cancer")},
		{"string pointer", &s, StringPtr("x")},
		{"int", 4, StringPtr("4")},
		{"int pointer", &grade, StringPtr("3")},
		{"float", 1.5, StringPtr("1.5")},
		{"bool", true, StringPtr("true")},
		{"time", ts, StringPtr("2025-01-02T03:04:05Z")},
		{"map", map[string]int{"a": 1}, StringPtr(`{"a":1}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalValue(tt.in))
		})
	}

	empty := CanonicalValue("")
	require.NotNil(t, empty)
	assert.Equal(t, "", *empty)
}

func TestNewVersionRecord(t *testing.T) {
	v := NewVersionRecord(VersionInput{
		RecordType: RecordTypeDiagnosis,
		RecordID:   "rec-1",
		PatientID:  "pat-1",
		FieldName:  "primary_cancer_type",
		OldValue:   "Breast Cancer",
		NewValue:   "X",
		EditedBy:   "admin@example.com",
		Reason:     "correction",
	})

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, "Breast Cancer", *v.OldValue)
	assert.Equal(t, "X", *v.NewValue)
	assert.Equal(t, "correction", v.EditReason)
	assert.False(t, v.EditedAt.IsZero())
}

func TestEqualValues(t *testing.T) {
	assert.True(t, EqualValues(nil, StringPtr("")))
	assert.True(t, EqualValues(StringPtr("a"), StringPtr("a")))
	assert.False(t, EqualValues(StringPtr("a"), nil))
}

func TestSystemActor(t *testing.T) {
	assert.Equal(t, "system:gemini", SystemActor("gemini"))
	assert.Equal(t, "system", SystemActor(""))
}
