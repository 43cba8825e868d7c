package tool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CookieFile_Update(t *testing.T) {
	jarPath := filepath.Join(t.TempDir(), "cookies", "cookies.txt")
	cookies := NewCookieFile(jarPath)

	t.Run("no jar until the first update", func(t *testing.T) {
		path, ok := cookies.Path()
		assert.Equal(t, jarPath, path)
		assert.False(t, ok)
	})

	t.Run("update creates the jar", func(t *testing.T) {
		require.Nil(t, cookies.Update("# Netscape HTTP Cookie File\nfirst"))

		path, ok := cookies.Path()
		require.True(t, ok)
		contents, err := os.ReadFile(path)
		require.Nil(t, err)
		assert.Equal(t, "# Netscape HTTP Cookie File\nfirst", string(contents))
	})

	t.Run("update replaces previous contents wholesale", func(t *testing.T) {
		require.Nil(t, cookies.Update("# Netscape HTTP Cookie File\nsecond"))

		contents, err := os.ReadFile(jarPath)
		require.Nil(t, err)
		assert.Equal(t, "# Netscape HTTP Cookie File\nsecond", string(contents))
	})

	t.Run("no staging file is left behind", func(t *testing.T) {
		assert.NoFileExists(t, jarPath+".tmp")
	})
}

func Test_Runner_CookieArgs(t *testing.T) {
	t.Run("omitted without a jar", func(t *testing.T) {
		cookies := NewCookieFile(filepath.Join(t.TempDir(), "cookies.txt"))
		runner := NewRunner(&fixedLocator{"yt-dlp"}, cookies, time.Second)
		assert.Empty(t, runner.cookieArgs())
	})

	t.Run("omitted when no jar is configured", func(t *testing.T) {
		runner := NewRunner(&fixedLocator{"yt-dlp"}, nil, time.Second)
		assert.Empty(t, runner.cookieArgs())
	})

	t.Run("presented once a jar exists", func(t *testing.T) {
		cookies := NewCookieFile(filepath.Join(t.TempDir(), "cookies.txt"))
		require.Nil(t, cookies.Update("# Netscape HTTP Cookie File\n"))

		runner := NewRunner(&fixedLocator{"yt-dlp"}, cookies, time.Second)
		path, _ := cookies.Path()
		assert.Equal(t, []string{"--cookies", path}, runner.cookieArgs())
	})
}
