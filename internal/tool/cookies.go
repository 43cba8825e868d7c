package tool

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
)

// CookieFile is the downloader's cookie jar on disk. Some platforms
// throttle or reject anonymous downloads; the upstream application can
// push refreshed browser cookies at runtime and every download from
// that point on presents them. Updates are written to a temp file and
// renamed in to place so an in-flight download never reads a
// half-written jar.
type CookieFile struct {
	*sync.Mutex
	path string
	log  logger.Logger
}

func NewCookieFile(path string) *CookieFile {
	return &CookieFile{
		Mutex: &sync.Mutex{},
		path:  path,
		log:   logger.Get("CookieFile"),
	}
}

// Update replaces the jar contents atomically.
func (cookies *CookieFile) Update(contents string) error {
	cookies.Lock()
	defer cookies.Unlock()

	if err := os.MkdirAll(filepath.Dir(cookies.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cookie jar directory: %w", err)
	}

	temp := cookies.path + ".tmp"
	if err := os.WriteFile(temp, []byte(contents), 0o600); err != nil {
		return fmt.Errorf("failed to stage cookie jar update: %w", err)
	}
	if err := os.Rename(temp, cookies.path); err != nil {
		return fmt.Errorf("failed to replace cookie jar: %w", err)
	}

	cookies.log.Infof("Cookie jar at %s updated (%d bytes)\n", cookies.path, len(contents))
	return nil
}

// Path returns the jar location and whether a non-empty jar is present
// there. Tool invocations skip the cookie flag entirely until one is.
func (cookies *CookieFile) Path() (string, bool) {
	cookies.Lock()
	defer cookies.Unlock()

	info, err := os.Stat(cookies.path)
	return cookies.path, err == nil && info.Size() > 0
}
