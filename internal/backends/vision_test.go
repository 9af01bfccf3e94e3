package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/clients"
)

func mageAgentServer(t *testing.T, extract http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/internal/vision/extract-text", extract)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVisionTiersSendAccuracyPreference(t *testing.T) {
	seen := make(chan bool, 2)
	srv := mageAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req clients.VisionOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen <- req.PreferAccuracy
		_, _ = w.Write([]byte(`{"success":true,"data":{"text":"Invoice 42\n\n  Total: 10 EUR  \n","confidence":0.93,"modelUsed":"claude"}}`))
	})
	client := clients.NewMageAgentClient(srv.URL, 0)

	fast, err := NewVisionFast(context.Background(), client)
	require.NoError(t, err)
	accurate, err := NewVisionAccurate(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, VisionFastBackendName, fast.Name())
	assert.Equal(t, VisionAccurateBackendName, accurate.Name())

	res, err := fast.Recognize(context.Background(), []byte("img"), "en")
	require.NoError(t, err)
	assert.False(t, <-seen)
	assert.Equal(t, VisionFastBackendName, res.Backend)
	assert.Equal(t, "Invoice 42\n\n  Total: 10 EUR", res.Text)
	assert.Equal(t, 0.93, res.Confidence)
	require.Len(t, res.Blocks, 2)
	assert.Equal(t, "Total: 10 EUR", res.Blocks[1].Text)
	assert.Equal(t, 1, res.Blocks[1].LineIndex)

	_, err = accurate.Recognize(context.Background(), []byte("img"), "en")
	require.NoError(t, err)
	assert.True(t, <-seen)
}

func TestVisionRemoteFailureIsResultError(t *testing.T) {
	srv := mageAgentServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	})

	v, err := NewVisionFast(context.Background(), clients.NewMageAgentClient(srv.URL, 0))
	require.NoError(t, err)

	res, err := v.Recognize(context.Background(), []byte("img"), "en")
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "502")
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.Text)
}

func TestVisionUnreachableFailsConstruction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewVisionAccurate(context.Background(), clients.NewMageAgentClient(srv.URL, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), VisionAccurateBackendName)

	_, err = NewVisionFast(context.Background(), nil)
	assert.Error(t, err)
}

func TestBuildVisionResult(t *testing.T) {
	empty := buildVisionResult("vision-fast", "  \n ", 0.8)
	assert.Empty(t, empty.Text)
	assert.Zero(t, empty.Confidence)
	assert.NotNil(t, empty.Blocks)
	assert.Empty(t, empty.Blocks)

	clamped := buildVisionResult("vision-fast", "hello", 1.7)
	assert.Equal(t, 1.0, clamped.Confidence)
}
