package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegister_ExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := Register(reg)
	require.NoError(t, err)

	// idempotente
	_, err = Register(reg)
	require.NoError(t, err)

	before := testutil.ToFloat64(AuthorizeTotal.WithLabelValues("edit", "denied"))
	ObserveAuthorize("edit", "denied")
	require.Equal(t, before+1, testutil.ToFloat64(AuthorizeTotal.WithLabelValues("edit", "denied")))

	ObserveHTTP(http.MethodGet, "/v1/authorize", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "permgate_authorize_total"))
	require.True(t, strings.Contains(rec.Body.String(), "permgate_http_requests_total"))
}
