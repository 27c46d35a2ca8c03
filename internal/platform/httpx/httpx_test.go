package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusOf(fmt.Errorf("%w: run 4", ErrNotFound)))
	assert.Equal(t, http.StatusConflict, StatusOf(ErrConflict))
	assert.Equal(t, http.StatusBadRequest, StatusOf(ErrValidation))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(ErrUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("db down")))
}

func TestRespondError(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("%w: company_id required", ErrValidation))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":false,"error":"validation failed: company_id required"}`, rr.Body.String())
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		CompanyID int64 `json:"company_id"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"company_id":3}`))
	require.NoError(t, DecodeJSON(req, &target))
	assert.Equal(t, int64(3), target.CompanyID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"company_id":3,"x":1}`))
	assert.ErrorIs(t, DecodeJSON(req, &target), ErrValidation)
}
