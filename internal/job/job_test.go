package job_test

import (
	"testing"

	"github.com/ddoubleg123/carrot-worker-sub002/internal/job"
	"github.com/stretchr/testify/assert"
)

func Test_CanTransition_FollowsStatusRanks(t *testing.T) {
	tests := []struct {
		summary  string
		from     job.Status
		to       job.Status
		expected bool
	}{
		{"queued may start downloading", job.StatusQueued, job.StatusDownloading, true},
		{"queued may skip to transcoding", job.StatusQueued, job.StatusTranscoding, true},
		{"queued may complete instantly", job.StatusQueued, job.StatusCompleted, true},
		{"downloading may not return to queued", job.StatusDownloading, job.StatusQueued, false},
		{"uploading may not return to downloading", job.StatusUploading, job.StatusDownloading, false},
		{"same status is allowed", job.StatusTranscoding, job.StatusTranscoding, true},
		{"any live status may fail", job.StatusUploading, job.StatusFailed, true},
		{"queued may fail", job.StatusQueued, job.StatusFailed, true},
		{"completed is immutable", job.StatusCompleted, job.StatusFailed, false},
		{"failed is immutable", job.StatusFailed, job.StatusQueued, false},
		{"failed cannot complete", job.StatusFailed, job.StatusCompleted, false},
	}

	for _, test := range tests {
		testCopy := test
		t.Run(testCopy.summary, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCopy.expected, job.CanTransition(testCopy.from, testCopy.to))
		})
	}
}

func Test_Status_IsTerminal(t *testing.T) {
	assert.True(t, job.StatusCompleted.IsTerminal())
	assert.True(t, job.StatusFailed.IsTerminal())
	assert.False(t, job.StatusQueued.IsTerminal())
	assert.False(t, job.StatusDownloading.IsTerminal())
	assert.False(t, job.StatusTranscoding.IsTerminal())
	assert.False(t, job.StatusUploading.IsTerminal())
}

func Test_IsIngestableType_AcceptsKnownPlatformsOnly(t *testing.T) {
	for _, allowed := range []string{"youtube", "x", "facebook", "reddit", "tiktok"} {
		assert.True(t, job.IsIngestableType(allowed), "expected %s to be ingestable", allowed)
	}

	for _, rejected := range []string{"", "vimeo", "YOUTUBE", "twitter", "other"} {
		assert.False(t, job.IsIngestableType(rejected), "expected %s to be rejected", rejected)
	}
}
