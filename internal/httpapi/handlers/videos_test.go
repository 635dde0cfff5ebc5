package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/streamcore/internal/models"
	"github.com/streamcore/streamcore/internal/registry"
)

func TestGetVideos_ReturnsTabsVisibleStreams(t *testing.T) {
	reg := registry.New()
	reg.Upsert(7, &models.Stream{
		URL:        "https://example.com/a.mp4",
		Canonical:  "https://example.com/a.mp4",
		TabID:      7,
		Kind:       models.KindDirect,
		DetectedAt: time.Now(),
	})
	reg.Upsert(9, &models.Stream{
		URL:        "https://example.com/b.mp4",
		Canonical:  "https://example.com/b.mp4",
		TabID:      9,
		Kind:       models.KindDirect,
		DetectedAt: time.Now(),
	})

	handler := NewVideosHandler(reg)

	out, err := handler.GetVideos(context.Background(), &GetVideosInput{TabID: 7})
	require.NoError(t, err)
	require.Len(t, out.Body.Streams, 1)
	assert.Equal(t, "https://example.com/a.mp4", out.Body.Streams[0].Canonical)
}

func TestGetVideos_UnknownTabReturnsEmpty(t *testing.T) {
	reg := registry.New()
	handler := NewVideosHandler(reg)

	out, err := handler.GetVideos(context.Background(), &GetVideosInput{TabID: 404})
	require.NoError(t, err)
	assert.Empty(t, out.Body.Streams)
}
