package tool

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
)

var ErrToolResolutionFailed = errors.New("failed to resolve external tool binary")

type Tool string

const (
	Downloader Tool = "downloader"
	Transcoder Tool = "transcoder"
)

// Locator resolves the external tool binaries the pipeline shells out
// to. Resolution of each tool is attempted lazily and the first
// successful answer is cached for the lifetime of the locator.
type Locator interface {
	Resolve(Tool) (string, error)
	Resolved() map[Tool]string
	Versions() map[Tool]string
}

type LocatorConfig struct {
	// Explicit binary paths; when set they are tried before any
	// candidate search.
	DownloaderPath string `yaml:"downloaderPath" env:"YT_DLP_PATH"`
	TranscoderPath string `yaml:"transcoderPath" env:"FFMPEG_PATH"`

	// CookiesPath is where the downloader cookie jar lives. The jar is
	// only presented to the downloader once one has been uploaded.
	CookiesPath string `yaml:"cookiesPath" env:"YT_DLP_COOKIES_PATH" env-default:"/tmp/carrot/cookies.txt"`
}

// Candidate binary names searched on PATH, then well-known absolute
// locations tried as a last resort.
var (
	downloaderCandidates = []string{"yt-dlp", "yt-dlp_x86", "youtube-dl"}
	transcoderCandidates = []string{"ffmpeg", "avconv"}

	downloaderFallbacks = []string{"/usr/local/bin/yt-dlp", "/usr/bin/yt-dlp"}
	transcoderFallbacks = []string{"/usr/local/bin/ffmpeg", "/usr/bin/ffmpeg"}
)

type execLocator struct {
	*sync.Mutex

	config   LocatorConfig
	log      logger.Logger
	resolved map[Tool]string
	versions map[Tool]string

	// probe is swapped out by tests; defaults to running the binary
	// with its version flag.
	probe func(path string, versionArg string) (string, error)
}

func NewLocator(config LocatorConfig) *execLocator {
	return &execLocator{
		Mutex:    &sync.Mutex{},
		config:   config,
		log:      logger.Get("ToolLocator"),
		resolved: make(map[Tool]string),
		versions: make(map[Tool]string),
		probe:    runVersionProbe,
	}
}

// Resolve returns the path of the binary backing the given tool. The
// explicit configured path wins, then each candidate name on PATH, then
// the platform fallback locations; the first candidate that answers a
// version probe is cached and reused for all future calls.
func (locator *execLocator) Resolve(tool Tool) (string, error) {
	locator.Lock()
	defer locator.Unlock()

	if path, ok := locator.resolved[tool]; ok {
		return path, nil
	}

	versionArg := "--version"
	explicit := locator.config.DownloaderPath
	candidates := downloaderCandidates
	fallbacks := downloaderFallbacks
	if tool == Transcoder {
		versionArg = "-version"
		explicit = locator.config.TranscoderPath
		candidates = transcoderCandidates
		fallbacks = transcoderFallbacks
	}

	paths := make([]string, 0, len(candidates)+len(fallbacks)+1)
	if explicit != "" {
		paths = append(paths, explicit)
	}
	for _, name := range candidates {
		if found, err := exec.LookPath(name); err == nil {
			paths = append(paths, found)
		}
	}
	paths = append(paths, fallbacks...)

	for _, path := range paths {
		version, err := locator.probe(path, versionArg)
		if err != nil {
			locator.log.Debugf("Candidate %s for %s tool failed version probe: %v\n", path, tool, err)
			continue
		}

		locator.log.Emit(logger.SUCCESS, "Resolved %s tool to %s (%s)\n", tool, path, version)
		locator.resolved[tool] = path
		locator.versions[tool] = version
		return path, nil
	}

	return "", fmt.Errorf("%w: no working binary found for %s tool", ErrToolResolutionFailed, tool)
}

// Resolved reports the binary path of each tool that has resolved so
// far, keyed by tool name. Used by the debug endpoint.
func (locator *execLocator) Resolved() map[Tool]string {
	locator.Lock()
	defer locator.Unlock()

	out := make(map[Tool]string, len(locator.resolved))
	for tool, path := range locator.resolved {
		out[tool] = path
	}

	return out
}

// Versions reports the probed version string of each tool that has
// resolved so far, keyed by tool name. Used by the debug endpoint.
func (locator *execLocator) Versions() map[Tool]string {
	locator.Lock()
	defer locator.Unlock()

	out := make(map[Tool]string, len(locator.versions))
	for tool, version := range locator.versions {
		out[tool] = version
	}

	return out
}

func runVersionProbe(path string, versionArg string) (string, error) {
	out, err := exec.Command(path, versionArg).CombinedOutput()
	if err != nil {
		return "", err
	}

	firstLine := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	return firstLine, nil
}
