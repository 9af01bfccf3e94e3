package recognition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
)

func TestRegisterAbsorbsConstructionFailures(t *testing.T) {
	r := NewRegistry()

	r.Register("broken", func() (Backend, error) {
		return nil, errors.New("traineddata not found")
	})
	r.Register("panicky", func() (Backend, error) {
		panic("cgo init failed")
	})
	r.Register("nil", func() (Backend, error) {
		return nil, nil
	})
	r.Register("good", func() (Backend, error) {
		return okBackend("good", 0.9, 10, 1), nil
	})

	assert.Equal(t, []string{"broken", "panicky", "nil", "good"}, r.Names())

	available := r.AvailableBackends()
	require.Len(t, available, 1)
	assert.Equal(t, "good", available[0].Name())

	info := r.Describe()
	assert.False(t, info["broken"].Available)
	assert.False(t, info["panicky"].Available)
	assert.True(t, info["good"].Available)
	assert.NotContains(t, info, NoopBackendName)
}

func TestUnavailablePlaceholderRejectsRecognize(t *testing.T) {
	r := NewRegistry()
	b := r.Register("broken", func() (Backend, error) { return nil, errors.New("missing") })

	_, err := b.Recognize(context.Background(), []byte("img"), "en")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrorBackendUnavailable))
}

func TestFallbackToNoopWhenNothingAvailable(t *testing.T) {
	r := registryWith(&fakeBackend{name: "offline", available: false})

	available := r.AvailableBackends()
	require.Len(t, available, 1)
	assert.Equal(t, NoopBackendName, available[0].Name())
	assert.True(t, available[0].Available())

	b, ok := r.Get(NoopBackendName)
	require.True(t, ok)

	res, err := b.Recognize(context.Background(), []byte("img"), "en")
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Zero(t, res.Confidence)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.Blocks)

	info := r.Describe()
	assert.Contains(t, info, NoopBackendName)
	assert.True(t, info[NoopBackendName].Available)
	assert.False(t, info["offline"].Available)
}

func TestEmptyRegistryFallsBackToNoop(t *testing.T) {
	r := NewRegistry()

	available := r.AvailableBackends()
	require.Len(t, available, 1)
	assert.Equal(t, NoopBackendName, available[0].Name())
}

func TestNoopNotResolvableWhileRealBackendAvailable(t *testing.T) {
	r := registryWith(okBackend("tesseract", 0.8, 10, 1))

	_, ok := r.Get(NoopBackendName)
	assert.False(t, ok)
}

func TestDuplicateNameKeepsFirst(t *testing.T) {
	first := okBackend("dup", 0.9, 10, 1)
	second := okBackend("dup", 0.1, 10, 1)
	r := registryWith(first, second)

	b, ok := r.Get("dup")
	require.True(t, ok)
	assert.Same(t, first, b)
	assert.Len(t, r.Names(), 1)
}

func TestDescribeSortsAndDedupesLanguages(t *testing.T) {
	b := okBackend("multi", 0.9, 10, 1)
	b.languages = []string{"ru", "en", "de", "en"}
	r := registryWith(b, &fakeBackend{name: "offline", available: false, languages: []string{"en"}})

	info := r.Describe()
	assert.Equal(t, []string{"de", "en", "ru"}, info["multi"].SupportedLanguages)
	assert.Empty(t, info["offline"].SupportedLanguages)
}
