package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ddoubleg123/carrot-worker-sub002/pkg/logger"
)

var ErrToolTimeout = errors.New("external tool exceeded wall-clock timeout")

// Metadata is the subset of the downloader's JSON dump the pipeline
// records against jobs and assets.
type Metadata struct {
	Title        string  `json:"title"`
	Channel      string  `json:"channel"`
	Uploader     string  `json:"uploader"`
	DurationSecs float64 `json:"duration"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
}

// AuthorHandle prefers the channel name, falling back to the uploader.
func (m *Metadata) AuthorHandle() string {
	if m.Channel != "" {
		return m.Channel
	}

	return m.Uploader
}

// RenderOptions describes a derived rendition of a source file. Zero
// value renders an unmodified copy.
type RenderOptions struct {
	TrimStartSecs *float64
	TrimEndSecs   *float64
	CropAspect    string // one of 16:9, 9:16, 1:1; empty for no crop
	SubtitlesPath string // burned in when set
	Mute          bool
}

// Runner executes the external downloader/transcoder binaries. Every
// invocation runs inside the jobs scratch directory under a hard
// wall-clock timeout; on expiry the whole process group is killed so
// stray tool children cannot outlive the job.
type Runner struct {
	locator Locator
	cookies *CookieFile
	timeout time.Duration
	log     logger.Logger
}

func NewRunner(locator Locator, cookies *CookieFile, timeout time.Duration) *Runner {
	return &Runner{
		locator: locator,
		cookies: cookies,
		timeout: timeout,
		log:     logger.Get("ToolRunner"),
	}
}

// cookieArgs points the downloader at the cookie jar once one has been
// uploaded; before then the flag is omitted entirely.
func (runner *Runner) cookieArgs() []string {
	if runner.cookies == nil {
		return nil
	}

	path, ok := runner.cookies.Path()
	if !ok {
		return nil
	}

	return []string{"--cookies", path}
}

// Download fetches the source media in to the scratch dir, preferring an
// mp4 container and remuxing to mp4 when the downloader produced
// something else. Returns the path of the resulting mp4.
func (runner *Runner) Download(ctx context.Context, sourceURL string, scratchDir string) (string, error) {
	downloader, err := runner.locator.Resolve(Downloader)
	if err != nil {
		return "", err
	}

	outTemplate := filepath.Join(scratchDir, "video.%(ext)s")
	args := append(runner.cookieArgs(),
		"-f", "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/bv*+ba/b",
		"--merge-output-format", "mp4",
		"-o", outTemplate,
		sourceURL,
	)
	if _, err := runner.run(ctx, downloader, args, scratchDir); err != nil {
		return "", err
	}

	videoPath, err := findDownloadedVideo(scratchDir)
	if err != nil {
		return "", err
	}

	if strings.HasSuffix(videoPath, ".mp4") {
		return videoPath, nil
	}

	mp4Path := filepath.Join(scratchDir, "video.mp4")
	if err := runner.Transcode(ctx, videoPath, mp4Path); err != nil {
		return "", err
	}

	return mp4Path, nil
}

// Metadata dumps the downloaders JSON metadata for the source without
// downloading the media itself.
func (runner *Runner) Metadata(ctx context.Context, sourceURL string) (*Metadata, error) {
	downloader, err := runner.locator.Resolve(Downloader)
	if err != nil {
		return nil, err
	}

	stdout, err := runner.run(ctx, downloader, append(runner.cookieArgs(), "-J", sourceURL), "")
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(stdout, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse downloader metadata: %w", err)
	}

	return &meta, nil
}

// Transcode re-encodes the input to a streaming-friendly mp4.
func (runner *Runner) Transcode(ctx context.Context, inputPath string, outputPath string) error {
	transcoder, err := runner.locator.Resolve(Transcoder)
	if err != nil {
		return err
	}

	args := []string{"-y", "-i", inputPath, "-c:v", "libx264", "-c:a", "aac", "-movflags", "+faststart", outputPath}
	_, err = runner.run(ctx, transcoder, args, filepath.Dir(outputPath))
	return err
}

// Trim re-encodes the [startSecs, endSecs] window of the input.
func (runner *Runner) Trim(ctx context.Context, inputPath string, outputPath string, startSecs float64, endSecs float64) error {
	transcoder, err := runner.locator.Resolve(Transcoder)
	if err != nil {
		return err
	}

	args := []string{
		"-y",
		"-ss", formatSeconds(startSecs),
		"-to", formatSeconds(endSecs),
		"-i", inputPath,
		"-c:v", "libx264", "-c:a", "aac", "-movflags", "+faststart",
		outputPath,
	}
	_, err = runner.run(ctx, transcoder, args, filepath.Dir(outputPath))
	return err
}

// Thumbnail captures a single frame at ~2s in to the output path.
func (runner *Runner) Thumbnail(ctx context.Context, inputPath string, outputPath string) error {
	transcoder, err := runner.locator.Resolve(Transcoder)
	if err != nil {
		return err
	}

	args := []string{"-y", "-ss", "2", "-i", inputPath, "-frames:v", "1", "-q:v", "2", outputPath}
	_, err = runner.run(ctx, transcoder, args, filepath.Dir(outputPath))
	return err
}

// Render produces a derived rendition of the input according to the
// provided options (trim window, centre-crop, burned subtitles, mute).
func (runner *Runner) Render(ctx context.Context, inputPath string, outputPath string, opts RenderOptions) error {
	transcoder, err := runner.locator.Resolve(Transcoder)
	if err != nil {
		return err
	}

	args := []string{"-y"}
	if opts.TrimStartSecs != nil {
		args = append(args, "-ss", formatSeconds(*opts.TrimStartSecs))
	}
	if opts.TrimEndSecs != nil {
		args = append(args, "-to", formatSeconds(*opts.TrimEndSecs))
	}
	args = append(args, "-i", inputPath)

	if filters := buildFilterGraph(opts); filters != "" {
		args = append(args, "-vf", filters)
	}
	if opts.Mute {
		args = append(args, "-an")
	} else {
		args = append(args, "-c:a", "aac")
	}
	args = append(args, "-c:v", "libx264", "-movflags", "+faststart", outputPath)

	_, err = runner.run(ctx, transcoder, args, filepath.Dir(outputPath))
	return err
}

// buildFilterGraph assembles the -vf chain for a rendition. Crops are
// centred and expressed relative to the input dimensions so the graph
// works for any source size.
func buildFilterGraph(opts RenderOptions) string {
	filters := make([]string, 0, 2)
	switch opts.CropAspect {
	case "16:9":
		filters = append(filters, "crop='min(iw,ih*16/9)':'min(ih,iw*9/16)'")
	case "9:16":
		filters = append(filters, "crop='min(iw,ih*9/16)':'min(ih,iw*16/9)'")
	case "1:1":
		filters = append(filters, "crop='min(iw,ih)':'min(iw,ih)'")
	}

	if opts.SubtitlesPath != "" {
		filters = append(filters, "subtitles="+opts.SubtitlesPath)
	}

	return strings.Join(filters, ",")
}

func findDownloadedVideo(scratchDir string) (string, error) {
	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "video.") {
			continue
		}

		switch filepath.Ext(name) {
		case ".mp4", ".mkv", ".webm", ".mov":
			return filepath.Join(scratchDir, name), nil
		}
	}

	return "", errors.New("downloader did not produce a video file")
}

func formatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', -1, 64)
}

// run executes the binary with a hard wall-clock deadline. The child is
// placed in its own process group; when the deadline passes the whole
// group receives SIGKILL before ErrToolTimeout is returned.
func (runner *Runner) run(ctx context.Context, binary string, args []string, workDir string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, runner.timeout)
	defer cancel()

	cmd := exec.Command(binary, args...)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runner.log.Debugf("Running %s %v\n", binary, args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		runner.log.Warnf("Killed %s process group after timeout (%s)\n", binary, runner.timeout)
		return nil, fmt.Errorf("%w: %s", ErrToolTimeout, binary)
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w (%s)", binary, err, stderrTail(stderr.Bytes()))
		}
	}

	return stdout.Bytes(), nil
}

func stderrTail(stderr []byte) string {
	const maxTail = 400
	trimmed := strings.TrimSpace(string(stderr))
	if len(trimmed) > maxTail {
		trimmed = "..." + trimmed[len(trimmed)-maxTail:]
	}

	return trimmed
}
