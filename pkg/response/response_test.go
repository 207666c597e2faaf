package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/staff-transfer-api/pkg/errors"
)

func TestOutcomeFor(t *testing.T) {
	cases := map[int]string{
		http.StatusOK:                  OutcomeSuccess,
		http.StatusCreated:             OutcomeSuccess,
		http.StatusBadRequest:          OutcomeValidationFailed,
		http.StatusUnauthorized:        OutcomeUnauthorized,
		http.StatusForbidden:           OutcomeForbidden,
		http.StatusNotFound:            OutcomeNotFound,
		http.StatusConflict:            OutcomeConflict,
		http.StatusBadGateway:          OutcomeError,
		http.StatusInternalServerError: OutcomeError,
	}
	for status, want := range cases {
		assert.Equal(t, want, OutcomeFor(status), "status %d", status)
	}
}

func TestErrorWithDataCarriesPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ErrorWithData(c, appErrors.ErrSideEffect, map[string]string{"id": "tr-1"})

	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body struct {
		Outcome string            `json:"outcome"`
		Data    map[string]string `json:"data"`
		Error   appErrors.Error   `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, OutcomeError, body.Outcome)
	assert.Equal(t, "tr-1", body.Data["id"])
	assert.Equal(t, "SIDE_EFFECT_FAILED", body.Error.Code)
}
