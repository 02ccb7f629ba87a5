package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestMergePostPreservesFieldsOmittedUpstream(t *testing.T) {
	published := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	existing := &models.Post{
		ID:           5,
		ExternalID:   "vid1",
		Title:        strPtr("Original title"),
		ThumbnailURL: strPtr("https://img/old"),
		EmbedURL:     strPtr("https://embed/old"),
		Views:        1000,
		Likes:        50,
		CommentCount: 10,
		PublishedAt:  &published,
	}
	incoming := &models.Post{
		ExternalID: "vid1",
		Views:      1500,
	}

	merged := MergePost(existing, incoming)

	assert.Equal(t, int64(1500), merged.Views, "reported counters overwrite")
	require.NotNil(t, merged.Title)
	assert.Equal(t, "Original title", *merged.Title)
	require.NotNil(t, merged.ThumbnailURL)
	assert.Equal(t, "https://img/old", *merged.ThumbnailURL)
	assert.Equal(t, int64(50), merged.Likes, "omitted counters keep stored values")
	assert.Equal(t, int64(10), merged.CommentCount)
	require.NotNil(t, merged.PublishedAt)
	assert.True(t, merged.PublishedAt.Equal(published))
	assert.Equal(t, int64(5), merged.ID, "identity fields are never touched")
}

func TestMergePostOverwritesWithFreshValues(t *testing.T) {
	existing := &models.Post{
		ExternalID: "vid1",
		Title:      strPtr("Old title"),
		Views:      1000,
	}
	newTime := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	incoming := &models.Post{
		ExternalID:   "vid1",
		Title:        strPtr("Renamed title"),
		ThumbnailURL: strPtr("https://img/new"),
		Views:        900, // lower but reported, still wins
		PublishedAt:  &newTime,
	}

	merged := MergePost(existing, incoming)

	assert.Equal(t, "Renamed title", *merged.Title)
	assert.Equal(t, "https://img/new", *merged.ThumbnailURL)
	assert.Equal(t, int64(900), merged.Views)
	assert.True(t, merged.PublishedAt.Equal(newTime))
}

func TestMergePostEmptyStringsDoNotErase(t *testing.T) {
	existing := &models.Post{
		ExternalID: "vid1",
		Title:      strPtr("Kept"),
	}
	incoming := &models.Post{
		ExternalID: "vid1",
		Title:      strPtr(""),
	}

	merged := MergePost(existing, incoming)
	require.NotNil(t, merged.Title)
	assert.Equal(t, "Kept", *merged.Title)
}

func TestMergePostDoesNotMutateInputs(t *testing.T) {
	existing := &models.Post{ExternalID: "vid1", Views: 1}
	incoming := &models.Post{ExternalID: "vid1", Views: 2}

	merged := MergePost(existing, incoming)
	merged.Views = 99

	assert.Equal(t, int64(1), existing.Views)
	assert.Equal(t, int64(2), incoming.Views)
}
