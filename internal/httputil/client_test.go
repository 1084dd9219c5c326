package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockReplaysQueuedResponsesInOrder(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"ok":true}`)
	mock.AddResponse(http.StatusServiceUnavailable, "upstream overloaded")

	req, err := http.NewRequest(http.MethodGet, "https://predictor.example/predict", nil)
	require.NoError(t, err)

	resp, err := mock.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	resp, err = mock.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMockAnswersEmptyOKWhenQueueDrained(t *testing.T) {
	mock := NewMockHTTPClient()

	req, err := http.NewRequest(http.MethodGet, "https://relay.example/sondes/telemetry", nil)
	require.NoError(t, err)

	resp, err := mock.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestMockReturnsQueuedTransportError(t *testing.T) {
	wantErr := errors.New("dial tcp: connection refused")
	mock := NewMockHTTPClient()
	mock.AddErrorResponse(wantErr)

	req, err := http.NewRequest(http.MethodGet, "https://predictor.example/predict", nil)
	require.NoError(t, err)

	_, err = mock.Do(req)
	assert.ErrorIs(t, err, wantErr)
}

func TestMockRecordsRequestsWithBodiesIntact(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "")

	req, err := http.NewRequest(http.MethodPost, "https://predictor.example/predict",
		strings.NewReader(`{"subject":"V2541022"}`))
	require.NoError(t, err)
	_, err = mock.Do(req)
	require.NoError(t, err)

	assert.Equal(t, 1, mock.RequestCount())
	recorded := mock.GetRequest(0)
	require.NotNil(t, recorded)
	assert.Equal(t, "https://predictor.example/predict", recorded.URL.String())

	// The mock must not consume the body: callers decode it to assert on
	// the outbound payload.
	body, err := io.ReadAll(recorded.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"V2541022"}`, string(body))

	assert.Nil(t, mock.GetRequest(1))
	assert.Nil(t, mock.GetRequest(-1))
}

func TestStandardClientDelegates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := NewStandardClient(srv.Client())
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestStandardClientNilFallsBackToDefault(t *testing.T) {
	client := NewStandardClient(nil)
	assert.Same(t, http.DefaultClient, client.client)
}
