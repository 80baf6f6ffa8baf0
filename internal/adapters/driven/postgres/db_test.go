package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pq.Error{Code: "23505", Detail: "Key (id)=(v1) already exists."}, domain.ErrConflict},
		{"foreign key", &pq.Error{Code: "23503"}, domain.ErrInvalidInput},
		{"not null", &pq.Error{Code: "23502"}, domain.ErrInvalidInput},
		{"other driver error", &pq.Error{Code: "57014"}, domain.ErrStorage},
		{"plain error", errors.New("connection reset"), domain.ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err, "insert version v1"), tt.want)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, classify(nil, "anything"))
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNullStringRoundTrip(t *testing.T) {
	assert.False(t, NullString(nil).Valid)
	assert.Nil(t, StringPtr(NullString(nil)))

	v := "Grade 2"
	got := StringPtr(NullString(&v))
	if assert.NotNil(t, got) {
		assert.Equal(t, v, *got)
	}
}
