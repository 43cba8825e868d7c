package asset_test

import (
	"testing"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/asset"
	"github.com/stretchr/testify/assert"
)

func Test_NormalizeURL_Youtube(t *testing.T) {
	tests := []struct {
		summary string
		input   string
	}{
		{"standard watch URL", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"short URL", "https://youtu.be/dQw4w9WgXcQ"},
		{"shorts URL", "https://www.youtube.com/shorts/dQw4w9WgXcQ"},
		{"embed URL", "https://www.youtube.com/embed/dQw4w9WgXcQ"},
		{"watch URL with tracking and playlist params", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=30&list=PLrAXtmRdnEQy6nuLMHjMRrm3IYXq5X9Wl&index=1"},
		{"mobile URL", "https://m.youtube.com/watch?v=dQw4w9WgXcQ"},
	}

	for _, test := range tests {
		testCopy := test
		t.Run(testCopy.summary, func(t *testing.T) {
			t.Parallel()

			result := asset.NormalizeURL(testCopy.input)
			assert.Equal(t, asset.PlatformYoutube, result.Platform)
			assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", result.SourceURLNormalized)
			if assert.NotNil(t, result.ExternalID) {
				assert.Equal(t, "dQw4w9WgXcQ", *result.ExternalID)
			}
		})
	}
}

func Test_NormalizeURL_YoutubeInvalidVideoID_DegradesToOther(t *testing.T) {
	result := asset.NormalizeURL("https://www.youtube.com/watch?v=invalid")
	assert.Equal(t, asset.PlatformOther, result.Platform)
	assert.Equal(t, "https://www.youtube.com/watch?v=invalid", result.SourceURLNormalized)
	assert.Nil(t, result.ExternalID)
}

func Test_NormalizeURL_XStatuses(t *testing.T) {
	tests := []struct {
		summary string
		input   string
	}{
		{"twitter.com status", "https://twitter.com/user/status/1234567890"},
		{"x.com canonicalised to twitter.com", "https://x.com/user/status/1234567890"},
		{"mobile twitter", "https://mobile.twitter.com/user/status/1234567890"},
		{"status with photo suffix", "https://twitter.com/user/status/1234567890/photo/1"},
	}

	for _, test := range tests {
		testCopy := test
		t.Run(testCopy.summary, func(t *testing.T) {
			t.Parallel()

			result := asset.NormalizeURL(testCopy.input)
			assert.Equal(t, asset.PlatformX, result.Platform)
			assert.Equal(t, "https://twitter.com/user/status/1234567890", result.SourceURLNormalized)
			if assert.NotNil(t, result.ExternalID) {
				assert.Equal(t, "1234567890", *result.ExternalID)
			}
		})
	}
}

func Test_NormalizeURL_XProfileWithoutStatus_DegradesToOther(t *testing.T) {
	result := asset.NormalizeURL("https://twitter.com/user")
	assert.Equal(t, asset.PlatformOther, result.Platform)
	assert.Equal(t, "https://twitter.com/user", result.SourceURLNormalized)
}

func Test_NormalizeURL_Reddit(t *testing.T) {
	tests := []struct {
		summary string
		input   string
	}{
		{"standard post URL", "https://www.reddit.com/r/videos/comments/abc123/title/"},
		{"old reddit", "https://old.reddit.com/r/videos/comments/abc123/title/"},
		{"new reddit", "https://new.reddit.com/r/videos/comments/abc123"},
	}

	for _, test := range tests {
		testCopy := test
		t.Run(testCopy.summary, func(t *testing.T) {
			t.Parallel()

			result := asset.NormalizeURL(testCopy.input)
			assert.Equal(t, asset.PlatformReddit, result.Platform)
			assert.Equal(t, "https://www.reddit.com/r/videos/comments/abc123/", result.SourceURLNormalized)
			if assert.NotNil(t, result.ExternalID) {
				assert.Equal(t, "abc123", *result.ExternalID)
			}
		})
	}
}

func Test_NormalizeURL_RedditSubredditOnly_DegradesToOther(t *testing.T) {
	result := asset.NormalizeURL("https://reddit.com/r/videos")
	assert.Equal(t, asset.PlatformOther, result.Platform)
}

func Test_NormalizeURL_Generic(t *testing.T) {
	t.Run("strips tracking params", func(t *testing.T) {
		result := asset.NormalizeURL("https://example.com/video?utm_source=test&fbclid=123")
		assert.Equal(t, asset.PlatformOther, result.Platform)
		assert.Equal(t, "https://example.com/video", result.SourceURLNormalized)
		assert.Nil(t, result.ExternalID)
	})

	t.Run("retains non-tracking params", func(t *testing.T) {
		result := asset.NormalizeURL("https://example.com/video?id=42&utm_medium=social")
		assert.Equal(t, "https://example.com/video?id=42", result.SourceURLNormalized)
	})

	t.Run("removes www prefix", func(t *testing.T) {
		result := asset.NormalizeURL("https://www.example.com/video")
		assert.Equal(t, "https://example.com/video", result.SourceURLNormalized)
	})

	t.Run("removes mobile prefix", func(t *testing.T) {
		result := asset.NormalizeURL("https://mobile.example.com/video")
		assert.Equal(t, "https://example.com/video", result.SourceURLNormalized)
	})

	t.Run("forces https", func(t *testing.T) {
		result := asset.NormalizeURL("http://example.com/video")
		assert.Equal(t, "https://example.com/video", result.SourceURLNormalized)
	})

	t.Run("unparseable input passed through trimmed", func(t *testing.T) {
		result := asset.NormalizeURL("  not a url at all  ")
		assert.Equal(t, asset.PlatformOther, result.Platform)
		assert.Equal(t, "not a url at all", result.SourceURLNormalized)
	})
}

func Test_NormalizeURL_EquivalentFormsShareOneKey(t *testing.T) {
	forms := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ&utm_source=share",
	}

	first := asset.NormalizeURL(forms[0])
	firstKey := asset.IdempotencyKey(first.SourceURLNormalized)
	for _, form := range forms[1:] {
		normalized := asset.NormalizeURL(form)
		assert.Equal(t, first.SourceURLNormalized, normalized.SourceURLNormalized)
		assert.Equal(t, firstKey, asset.IdempotencyKey(normalized.SourceURLNormalized))
	}
}

func Test_IdempotencyKey_IsStableHex(t *testing.T) {
	key := asset.IdempotencyKey("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	assert.Len(t, key, 64)
	assert.Equal(t, key, asset.IdempotencyKey("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.NotEqual(t, key, asset.IdempotencyKey("https://www.youtube.com/watch?v=xxxxxxxxxxx"))
}
