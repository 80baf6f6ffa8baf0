package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_ProcessingJob(t *testing.T) {
	job := NewProcessingJob("doc-1", ProcessingModeFast, "")
	assert.NoError(t, Validate(job))

	job.DocumentID = ""
	err := Validate(job)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "DocumentID=required")

	job.DocumentID = "doc-1"
	job.Mode = "slow"
	err = Validate(job)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "Mode=oneof")
}

func TestValidate_VersionInput(t *testing.T) {
	err := Validate(VersionInput{RecordType: RecordTypeDiagnosis, RecordID: "r1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "PatientID=required")
	assert.Contains(t, err.Error(), "EditedBy=required")
}
