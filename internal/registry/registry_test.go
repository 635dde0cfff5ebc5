package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/streamcore/internal/models"
)

func TestUpsert_NewStreamEmitsAdd(t *testing.T) {
	r := New()
	var changes []Change
	r.Subscribe(func(c Change) { changes = append(changes, c) })

	res := r.Upsert(1, &models.Stream{Canonical: "https://cdn/a.m3u8", Kind: models.KindHLS})
	assert.True(t, res.New)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeAdd, changes[0].Kind)
}

func TestUpsert_NoDuplicateCanonical(t *testing.T) {
	// Invariant §8.1: no two Streams with the same (tabId, canonical).
	r := New()
	r.Upsert(1, &models.Stream{Canonical: "https://cdn/a.m3u8", Kind: models.KindHLS})
	res := r.Upsert(1, &models.Stream{Canonical: "https://cdn/a.m3u8", Kind: models.KindHLS, Title: "new title"})

	assert.False(t, res.New)
	assert.Len(t, r.VisibleStreams(1), 1)
	assert.Equal(t, "new title", res.Stream.Title)
}

func TestUpsert_MergePreservesDetectedAtAndExistingProbeMeta(t *testing.T) {
	r := New()
	first := r.Upsert(1, &models.Stream{
		Canonical: "https://cdn/a.mp4", Kind: models.KindDirect,
		ProbeMeta: &models.ProbeMeta{Width: 1920},
	})
	originalDetectedAt := first.Stream.DetectedAt

	merged := r.Upsert(1, &models.Stream{
		Canonical: "https://cdn/a.mp4", Kind: models.KindDirect,
		ProbeMeta: &models.ProbeMeta{Width: 1280}, // should NOT overwrite existing probeMeta
	})

	assert.Equal(t, originalDetectedAt, merged.Stream.DetectedAt)
	assert.Equal(t, 1920, merged.Stream.ProbeMeta.Width)
}

func TestAttachVariantsOfMaster_LinksStandaloneAndExcludesFromVisible(t *testing.T) {
	// Scenario 2: variant seen before master.
	r := New()
	r.Upsert(1, &models.Stream{Canonical: "https://cdn/1080.m3u8", Kind: models.KindHLS, Subtype: models.SubtypeVariant})
	r.Upsert(1, &models.Stream{Canonical: "https://cdn/master.m3u8", Kind: models.KindHLS, IsMaster: true})

	r.AttachVariantsOfMaster(1, "https://cdn/master.m3u8", []models.Variant{
		{URL: "https://cdn/1080.m3u8", Canonical: "https://cdn/1080.m3u8"},
	})

	visible := r.VisibleStreams(1)
	require.Len(t, visible, 1)
	assert.Equal(t, "https://cdn/master.m3u8", visible[0].Canonical)

	linked, ok := r.Get(1, "https://cdn/1080.m3u8")
	require.True(t, ok)
	assert.True(t, linked.HasKnownMaster)
	assert.Equal(t, "https://cdn/master.m3u8", linked.MasterCanonical)
}

func TestUpsert_VariantAfterMasterIsLinkedImmediately(t *testing.T) {
	r := New()
	r.Upsert(1, &models.Stream{Canonical: "https://cdn/master.m3u8", Kind: models.KindHLS, IsMaster: true})
	r.AttachVariantsOfMaster(1, "https://cdn/master.m3u8", []models.Variant{
		{URL: "https://cdn/720.m3u8", Canonical: "https://cdn/720.m3u8"},
	})

	res := r.Upsert(1, &models.Stream{Canonical: "https://cdn/720.m3u8", Kind: models.KindHLS})
	assert.True(t, res.Stream.HasKnownMaster)

	visible := r.VisibleStreams(1)
	require.Len(t, visible, 1)
	assert.Equal(t, "https://cdn/master.m3u8", visible[0].Canonical)
}

func TestVisibleStreams_SortedByDetectedAtDescending(t *testing.T) {
	r := New()
	r.now = func() time.Time { return time.Unix(100, 0) }
	r.Upsert(1, &models.Stream{Canonical: "https://cdn/old.mp4", Kind: models.KindDirect})

	r.now = func() time.Time { return time.Unix(200, 0) }
	r.Upsert(1, &models.Stream{Canonical: "https://cdn/new.mp4", Kind: models.KindDirect})

	visible := r.VisibleStreams(1)
	require.Len(t, visible, 2)
	assert.Equal(t, "https://cdn/new.mp4", visible[0].Canonical)
	assert.Equal(t, "https://cdn/old.mp4", visible[1].Canonical)
}

func TestDestroy_ClearsTabState(t *testing.T) {
	// Invariant §8.9: after destroy, visibleStreams returns empty.
	r := New()
	r.Upsert(7, &models.Stream{Canonical: "https://cdn/a.mp4", Kind: models.KindDirect})
	r.Destroy(7)
	assert.Empty(t, r.VisibleStreams(7))
}

func TestVisibleStreams_UnknownTabReturnsEmpty(t *testing.T) {
	r := New()
	assert.Empty(t, r.VisibleStreams(42))
}
