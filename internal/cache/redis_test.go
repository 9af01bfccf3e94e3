package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

func TestKeyDependsOnImageAndSettings(t *testing.T) {
	settings := Settings{Mode: "single", Backends: []string{"tesseract"}, Language: "en"}

	base := Key([]byte("page-1"), settings)
	assert.Equal(t, base, Key([]byte("page-1"), settings))
	assert.Contains(t, base, keyPrefix)

	assert.NotEqual(t, base, Key([]byte("page-2"), settings))

	enhanced := settings
	enhanced.Enhanced = true
	assert.NotEqual(t, base, Key([]byte("page-1"), enhanced))

	voting := Settings{Mode: "voting", Backends: []string{"a", "b"}, Language: "en"}
	reordered := Settings{Mode: "voting", Backends: []string{"b", "a"}, Language: "en"}
	assert.NotEqual(t, Key([]byte("page-1"), voting), Key([]byte("page-1"), reordered))

	upper := settings
	upper.Language = "EN"
	assert.Equal(t, base, Key([]byte("page-1"), upper))
}

func TestNewResultCacheRequiresURL(t *testing.T) {
	_, err := NewResultCache("", time.Minute)
	assert.Error(t, err)

	_, err = NewResultCache("://bad", time.Minute)
	assert.Error(t, err)
}

func TestResultCacheRoundTrip(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis integration test")
	}

	c, err := NewResultCache(redisURL, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := Key([]byte(t.Name()+time.Now().String()), Settings{Mode: "single"})

	_, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, key, recognition.ErrorResult("tesseract", "blank page", 0.1)))
	_, found, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, key, &recognition.Result{
		Text:       "Hello",
		Confidence: 0.9,
		Backend:    "tesseract",
		Index:      3,
		Blocks:     []recognition.TextBlock{{Text: "Hello", Confidence: 0.9}},
	}))

	got, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Hello", got.Text)
	assert.Equal(t, "tesseract", got.Backend)
	assert.Zero(t, got.Index)
	require.Len(t, got.Blocks, 1)

	c.client.Del(ctx, key)
}
