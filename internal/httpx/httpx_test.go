package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	resp, err := JSON(http.StatusCreated, map[string]string{"code": "4821"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.JSONEq(t, `{"code":"4821"}`, resp.Body)
}

func TestError(t *testing.T) {
	resp, err := Error(http.StatusNotFound, "no agent found for this email")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"no agent found for this email"}`, resp.Body)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteError(w, http.StatusConflict, "invalid transition"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"invalid transition"}`, w.Body.String())
}
