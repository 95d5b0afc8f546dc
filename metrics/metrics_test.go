package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/identity-sdk/metrics"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := metrics.New("testsvc")

	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/v1/members/{memberID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(router)
	defer ts.Close()

	for _, id := range []string{"m:1", "m:2"} {
		resp, err := http.Get(ts.URL + "/v1/members/" + id)
		require.NoError(t, err)
		resp.Body.Close()
	}

	exposition := httptest.NewServer(m.Handler())
	defer exposition.Close()

	resp, err := http.Get(exposition.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// Both requests collapse into one series labeled by route pattern.
	assert.Contains(t, string(body), `testsvc_http_requests_total{code="200",method="GET",path="/v1/members/{memberID}"} 2`)
	assert.Contains(t, string(body), "testsvc_http_request_duration_seconds")
}
