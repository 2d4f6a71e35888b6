// ABOUTME: Transcript sources that fetch subtitle text and a title for a video URL
// ABOUTME: YTDLPSource drives the yt-dlp binary and prefers Portuguese subtitles over English

package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnavailable is returned when the video itself cannot be resolved.
var ErrUnavailable = errors.New("video unavailable")

// Transcript is the result of a fetch. An empty Text with a non-empty Title
// means the video exists but has no usable subtitles.
type Transcript struct {
	Text  string
	Title string
}

// Source fetches the transcript for a video URL.
type Source interface {
	Fetch(ctx context.Context, url string) (Transcript, error)
}

// subtitleSuffixes lists preferred subtitle files in order. Any other .vtt
// for the video is used as a last resort.
var subtitleSuffixes = []string{".pt.vtt", ".pt-BR.vtt", ".pt-PT.vtt", ".en.vtt"}

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// YTDLPSource fetches subtitles with the yt-dlp command line tool.
type YTDLPSource struct {
	binary  string
	tempDir string
	logger  *slog.Logger
	run     runFunc
}

// NewYTDLPSource returns a source using the given yt-dlp binary. Subtitle
// files are written under tempDir (os.TempDir() when empty) and removed
// after each fetch.
func NewYTDLPSource(binary, tempDir string, logger *slog.Logger) *YTDLPSource {
	if binary == "" {
		binary = "yt-dlp"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YTDLPSource{
		binary:  binary,
		tempDir: tempDir,
		logger:  logger.With("component", "transcript"),
		run:     execRun,
	}
}

// Fetch downloads subtitles for url and returns the cleaned text.
func (s *YTDLPSource) Fetch(ctx context.Context, url string) (Transcript, error) {
	if s.tempDir != "" {
		if err := os.MkdirAll(s.tempDir, 0755); err != nil {
			return Transcript{}, fmt.Errorf("creating download directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(s.tempDir, "subs-*")
	if err != nil {
		return Transcript{}, fmt.Errorf("creating download directory: %w", err)
	}
	defer os.RemoveAll(dir)

	out, err := s.run(ctx, s.binary,
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", "pt,pt-BR,pt-PT,en",
		"--sub-format", "vtt",
		"--no-playlist",
		"--no-simulate",
		"--print", "%(id)s\t%(title)s",
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
		url,
	)
	if err != nil {
		if ctx.Err() != nil {
			return Transcript{}, ctx.Err()
		}
		s.logger.Warn("yt-dlp failed", "url", url, "error", err)
		return Transcript{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	id, title := parsePrinted(out)
	if id == "" {
		return Transcript{}, fmt.Errorf("%w: yt-dlp printed no video id", ErrUnavailable)
	}

	file, err := pickSubtitle(dir, id)
	if err != nil {
		return Transcript{}, err
	}
	if file == "" {
		s.logger.Info("no subtitles found", "url", url, "title", title)
		return Transcript{Title: title}, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return Transcript{}, fmt.Errorf("reading subtitles: %w", err)
	}

	s.logger.Debug("subtitles downloaded", "url", url, "file", filepath.Base(file))
	return Transcript{Text: CleanVTT(string(data)), Title: title}, nil
}

// parsePrinted reads the "<id>\t<title>" line yt-dlp prints for the video.
func parsePrinted(out []byte) (id, title string) {
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, title, _ = strings.Cut(line, "\t")
		return strings.TrimSpace(id), strings.TrimSpace(title)
	}
	return "", ""
}

// pickSubtitle returns the preferred subtitle file for id in dir, or "".
func pickSubtitle(dir, id string) (string, error) {
	for _, suffix := range subtitleSuffixes {
		path := filepath.Join(dir, id+suffix)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing subtitles: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), id) && strings.HasSuffix(e.Name(), ".vtt") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

// StaticSource serves fixed transcripts keyed by URL. Unknown URLs return
// ErrUnavailable.
type StaticSource map[string]Transcript

// Fetch implements Source.
func (s StaticSource) Fetch(ctx context.Context, url string) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	t, ok := s[url]
	if !ok {
		return Transcript{}, fmt.Errorf("%w: %s", ErrUnavailable, url)
	}
	return t, nil
}
