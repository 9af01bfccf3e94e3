package recognition

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPreprocessor struct {
	rejects []byte
}

func (s stubPreprocessor) Preprocess(ctx context.Context, image []byte) ([]byte, *PreprocessingInfo, error) {
	if bytes.Equal(image, s.rejects) {
		return nil, nil, errors.New("not an image")
	}
	return append([]byte("prepared:"), image...), &PreprocessingInfo{
		AppliedOperations: []string{"grayscale"},
		OriginalSize:      ImageSize{Width: 10, Height: 20},
	}, nil
}

func TestBatchIsolatesFailingItem(t *testing.T) {
	backend := okBackend("tesseract", 0.9, 30, 1)
	backend.failOn = []byte("img-bad")
	driver := NewBatchDriver(NewOrchestrator(registryWith(backend), nil), nil)

	results := driver.Recognize(context.Background(), BatchRequest{
		Images:  [][]byte{[]byte("img-ok"), []byte("img-bad"), []byte("img-ok2")},
		Backend: "tesseract",
	})

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.Empty(t, results[0].Error)
	assert.NotEmpty(t, results[1].Error)
	assert.Empty(t, results[1].Text)
	assert.Zero(t, results[1].Confidence)
	assert.Empty(t, results[2].Error)
}

func TestBatchSelectionErrorTagsEveryItem(t *testing.T) {
	driver := NewBatchDriver(NewOrchestrator(registryWith(okBackend("tesseract", 0.9, 30, 1)), nil), nil)

	results := driver.Recognize(context.Background(), BatchRequest{
		Images:  [][]byte{[]byte("a"), []byte("b")},
		Backend: "missing",
	})

	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Contains(t, r.Error, "BACKEND_NOT_FOUND")
		assert.Equal(t, "missing", r.Backend)
	}
}

func TestBatchPreprocessesEnhancedItems(t *testing.T) {
	backend := okBackend("tesseract", 0.9, 30, 1)
	backend.failOn = []byte("prepared:poison")
	driver := NewBatchDriver(NewOrchestrator(registryWith(backend), nil), &BatchConfig{
		Preprocessor: stubPreprocessor{rejects: []byte("garbage")},
	})

	results := driver.Recognize(context.Background(), BatchRequest{
		Images:   [][]byte{[]byte("page"), []byte("garbage"), []byte("poison")},
		Backend:  "tesseract",
		Enhanced: true,
	})

	require.Len(t, results, 3)
	require.NotNil(t, results[0].Preprocessing)
	assert.Equal(t, []string{"grayscale"}, results[0].Preprocessing.AppliedOperations)
	assert.Contains(t, results[1].Error, "preprocessing failed")
	assert.Equal(t, "unreadable image", results[2].Error)
}

func TestBatchSkipsPreprocessingWhenNotEnhanced(t *testing.T) {
	driver := NewBatchDriver(NewOrchestrator(registryWith(okBackend("tesseract", 0.9, 30, 1)), nil), &BatchConfig{
		Preprocessor: stubPreprocessor{rejects: []byte("page")},
	})

	results := driver.Recognize(context.Background(), BatchRequest{Images: [][]byte{[]byte("page")}, Backend: "tesseract"})

	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.Nil(t, results[0].Preprocessing)
}

func TestBatchVotingMode(t *testing.T) {
	bad := failingBackend("b", "boom")
	driver := NewBatchDriver(NewOrchestrator(registryWith(
		okBackend("fast", 0.7, 120, 1.0),
		okBackend("accurate", 0.95, 80, 4.0),
		bad,
	), nil), nil)

	results := driver.Recognize(context.Background(), BatchRequest{
		Images: [][]byte{[]byte("one"), []byte("two")},
		Voting: true,
	})

	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, "accurate", r.Backend)
		require.NotNil(t, r.Voting)
		assert.Equal(t, []string{"fast", "accurate"}, r.Voting.EnginesUsed)
	}
}

func TestBatchVotingTotalFailureIsPerItem(t *testing.T) {
	driver := NewBatchDriver(NewOrchestrator(registryWith(
		failingBackend("a", "x"),
		failingBackend("b", "y"),
	), nil), nil)

	results := driver.Recognize(context.Background(), BatchRequest{Images: [][]byte{[]byte("one")}, Voting: true})

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "ALL_BACKENDS_FAILED")
	assert.Equal(t, "voting", results[0].Backend)
}

func TestBatchConcurrentKeepsOrder(t *testing.T) {
	backend := okBackend("tesseract", 0.9, 30, 1)
	backend.delay = 50 * time.Millisecond
	backend.failOn = []byte("3")
	driver := NewBatchDriver(NewOrchestrator(registryWith(backend), nil), &BatchConfig{Concurrency: 4})

	images := [][]byte{[]byte("0"), []byte("1"), []byte("2"), []byte("3"), []byte("4"), []byte("5"), []byte("6"), []byte("7")}
	start := time.Now()
	results := driver.Recognize(context.Background(), BatchRequest{Images: images, Backend: "tesseract"})

	assert.Less(t, time.Since(start), 300*time.Millisecond)
	require.Len(t, results, len(images))
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		if i == 3 {
			assert.NotEmpty(t, r.Error)
		} else {
			assert.Empty(t, r.Error)
		}
	}
}

func TestBatchCancelledContext(t *testing.T) {
	driver := NewBatchDriver(NewOrchestrator(registryWith(okBackend("tesseract", 0.9, 30, 1)), nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := driver.Recognize(ctx, BatchRequest{Images: [][]byte{[]byte("a"), []byte("b")}, Backend: "tesseract"})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEmpty(t, r.Error)
	}
}

func TestBatchEmpty(t *testing.T) {
	driver := NewBatchDriver(NewOrchestrator(NewRegistry(), nil), nil)
	assert.Empty(t, driver.Recognize(context.Background(), BatchRequest{Backend: "tesseract"}))
}
