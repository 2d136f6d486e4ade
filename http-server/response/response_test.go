package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cutting-erp/internal/storage"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("op: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("op: %w", storage.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("op: %w", storage.ErrInvalidTransition), http.StatusUnprocessableEntity},
		{storage.ErrInsufficientStock, http.StatusConflict},
		{storage.ErrConflict, http.StatusConflict},
		{storage.ErrPartialFailure, http.StatusMultiStatus},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestDecode(t *testing.T) {
	var body struct {
		IDs  []int64 `json:"requisition_ids" validate:"required,min=1,dive,gt=0"`
		Name string  `json:"name" validate:"required"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"requisition_ids":[1,2],"name":"x"}`))
	require.NoError(t, Decode(r, &body))
	assert.Equal(t, []int64{1, 2}, body.IDs)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"requisition_ids":[]}`))
	err := Decode(r, &body)
	assert.ErrorIs(t, err, storage.ErrValidation)
	assert.Contains(t, err.Error(), "requisition_ids")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.ErrorIs(t, Decode(r, &body), storage.ErrValidation)
}
