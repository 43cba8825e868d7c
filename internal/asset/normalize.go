package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

// NormalizedURL is the canonical form of a submitted media URL. Two
// submissions which normalize to the same (Platform, SourceURLNormalized)
// pair refer to the same underlying media and share one asset.
type NormalizedURL struct {
	Platform            Platform
	SourceURLNormalized string
	ExternalID          *string
}

var (
	xStatusPattern      = regexp.MustCompile(`^/([^/]+)/status/(\d+)`)
	redditPostPattern   = regexp.MustCompile(`^/r/([^/]+)/comments/([^/]+)`)
	trackingQueryParams = []string{
		"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
		"fbclid", "gclid", "msclkid", "twclid",
		"ref", "source", "campaign",
		"_ga", "_gl", "_hsenc", "_hsmi",
	}
)

// NormalizeURL canonicalizes a raw media URL for deduplication, extracting
// the platform-native media ID where the platform is recognised. Inputs
// that cannot be parsed (or that match a known platform host but not its
// permalink shape) degrade to platform 'other' rather than erroring.
func NormalizeURL(input string) NormalizedURL {
	trimmed := strings.TrimSpace(input)

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Hostname() == "" {
		return NormalizedURL{Platform: PlatformOther, SourceURLNormalized: trimmed}
	}

	hostname := strings.ToLower(parsed.Hostname())

	if isYoutubeHost(hostname) {
		if normalized, ok := normalizeYoutubeURL(hostname, parsed); ok {
			return normalized
		}

		return NormalizedURL{Platform: PlatformOther, SourceURLNormalized: trimmed}
	}

	if isXHost(hostname) {
		if normalized, ok := normalizeXURL(parsed); ok {
			return normalized
		}

		return NormalizedURL{Platform: PlatformOther, SourceURLNormalized: trimmed}
	}

	if isRedditHost(hostname) {
		if normalized, ok := normalizeRedditURL(parsed); ok {
			return normalized
		}

		return NormalizedURL{Platform: PlatformOther, SourceURLNormalized: trimmed}
	}

	return NormalizedURL{Platform: PlatformOther, SourceURLNormalized: normalizeGenericURL(parsed)}
}

// IdempotencyKey derives a stable content-addressed key from a normalized URL.
func IdempotencyKey(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

func isYoutubeHost(hostname string) bool {
	switch hostname {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "youtu.be", "youtube-nocookie.com", "www.youtube-nocookie.com":
		return true
	}

	return false
}

func normalizeYoutubeURL(hostname string, parsed *url.URL) (NormalizedURL, bool) {
	var videoID string
	switch {
	case hostname == "youtu.be":
		videoID = strings.TrimPrefix(parsed.Path, "/")
	case parsed.Path == "/watch":
		videoID = parsed.Query().Get("v")
	case strings.HasPrefix(parsed.Path, "/embed/"):
		videoID = strings.TrimPrefix(parsed.Path, "/embed/")
	case strings.HasPrefix(parsed.Path, "/shorts/"):
		videoID = strings.TrimPrefix(parsed.Path, "/shorts/")
	}

	// YouTube video IDs are always 11 characters
	if len(videoID) != 11 {
		return NormalizedURL{}, false
	}

	return NormalizedURL{
		Platform:            PlatformYoutube,
		SourceURLNormalized: "https://www.youtube.com/watch?v=" + videoID,
		ExternalID:          &videoID,
	}, true
}

func isXHost(hostname string) bool {
	switch hostname {
	case "twitter.com", "www.twitter.com", "mobile.twitter.com", "x.com", "www.x.com", "mobile.x.com":
		return true
	}

	return false
}

func normalizeXURL(parsed *url.URL) (NormalizedURL, bool) {
	match := xStatusPattern.FindStringSubmatch(parsed.Path)
	if match == nil {
		return NormalizedURL{}, false
	}

	username, tweetID := match[1], match[2]
	return NormalizedURL{
		Platform:            PlatformX,
		SourceURLNormalized: "https://twitter.com/" + username + "/status/" + tweetID,
		ExternalID:          &tweetID,
	}, true
}

func isRedditHost(hostname string) bool {
	switch hostname {
	case "reddit.com", "www.reddit.com", "old.reddit.com", "new.reddit.com", "m.reddit.com":
		return true
	}

	return false
}

func normalizeRedditURL(parsed *url.URL) (NormalizedURL, bool) {
	match := redditPostPattern.FindStringSubmatch(parsed.Path)
	if match == nil {
		return NormalizedURL{}, false
	}

	subreddit, postID := match[1], match[2]
	return NormalizedURL{
		Platform:            PlatformReddit,
		SourceURLNormalized: "https://www.reddit.com/r/" + subreddit + "/comments/" + postID + "/",
		ExternalID:          &postID,
	}, true
}

func normalizeGenericURL(parsed *url.URL) string {
	query := parsed.Query()
	for _, param := range trackingQueryParams {
		query.Del(param)
	}
	parsed.RawQuery = query.Encode()

	hostname := strings.ToLower(parsed.Hostname())
	hostname = strings.TrimPrefix(hostname, "www.")
	hostname = strings.TrimPrefix(hostname, "m.")
	hostname = strings.TrimPrefix(hostname, "mobile.")

	if port := parsed.Port(); port != "" {
		parsed.Host = hostname + ":" + port
	} else {
		parsed.Host = hostname
	}
	parsed.Scheme = "https"

	return parsed.String()
}
