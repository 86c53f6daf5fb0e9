package errors_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	inkerrs "inkwell/internal/errors"
)

func TestEConstructor(t *testing.T) {
	got := inkerrs.E(
		"count must be positive",
		inkerrs.Detail{Field: "count", Error: "was negative"},
		http.StatusBadRequest,
	)
	want := &inkerrs.Error{
		Err: errors.New("count must be positive"),
		Details: []inkerrs.Detail{
			{Field: "count", Error: "was negative"},
		},
		Status: http.StatusBadRequest,
	}

	assert.Equal(t, want, got)
}

func TestEDefaultsToInternal(t *testing.T) {
	got := inkerrs.E(errors.New("store unavailable"))

	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.EqualError(t, got.Err, "store unavailable")
}
