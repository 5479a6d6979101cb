package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrForbidden.WithDetail("resource 3: delete"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FORBIDDEN", body["code"])
	assert.Equal(t, "resource 3: delete", body["detail"])

	// el predefinido no se muta
	assert.Empty(t, ErrForbidden.Detail)
}

func TestWriteError_WrappedAndGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("ctx: %w", ErrNotFound))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	WriteError(rec, io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "unexpected EOF")
}

func TestAppError_Unwrap(t *testing.T) {
	err := ErrBadGateway.WithCause(io.EOF)
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "BAD_GATEWAY")
}
