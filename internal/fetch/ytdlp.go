package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/retry"
)

// AudioOptions are the yt-dlp settings for one download.
type AudioOptions struct {
	OutputTemplate     string
	Format             string
	Quality            string
	CookiesFile        string
	FFmpegPath         string
	ExternalDownloader string
}

// AudioRunner downloads ref and extracts audio according to opts.
type AudioRunner interface {
	DownloadAudio(ctx context.Context, ref string, opts AudioOptions) error
}

// YTDLPConfig configures the yt-dlp fetcher.
type YTDLPConfig struct {
	Runner             AudioRunner
	AudioFormat        string
	AudioQuality       string
	CookiesFile        string
	FFmpegPath         string
	ExternalDownloader string
	MinFileSize        int64
	Attempts           int
	Backoff            time.Duration
	JitterMin          time.Duration
	JitterMax          time.Duration
	Logger             *logrus.Logger
}

// YTDLP fetches through yt-dlp with audio extraction.
type YTDLP struct {
	cfg YTDLPConfig
}

func NewYTDLP(cfg YTDLPConfig) *YTDLP {
	if cfg.Runner == nil {
		cfg.Runner = YTDLPRunner{}
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "mp3"
	}
	if cfg.AudioQuality == "" {
		cfg.AudioQuality = "0"
	}
	if cfg.MinFileSize <= 0 {
		cfg.MinFileSize = DefaultMinFileSize
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &YTDLP{cfg: cfg}
}

func (y *YTDLP) Fetch(ctx context.Context, mediaRef, destPath string) error {
	if err := retry.Sleep(ctx, retry.Jitter(y.cfg.JitterMin, y.cfg.JitterMax)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	logger := y.cfg.Logger.WithField("media_ref", mediaRef)
	err := retry.Do(ctx, y.cfg.Attempts, retry.Linear(y.cfg.Backoff), func(ctx context.Context, n int) error {
		_ = os.Remove(destPath)
		var lastErr error
		for _, a := range y.attempt(ctx, mediaRef, destPath, n) {
			if a.Err != nil {
				logger.WithFields(logrus.Fields{"attempt": a.Number, "cookies": a.Cookies}).Warnf("fetch failed: %v", a.Err)
				lastErr = a.Err
				continue
			}
			return checkOutput(destPath, y.cfg.MinFileSize)
		}
		return fmt.Errorf("yt-dlp: %w", lastErr)
	})
	if err != nil {
		// a failed post-processing step can leave a full-size file behind
		_ = os.Remove(destPath)
	}
	return err
}

// attempt runs one download, with cookies first when they are available and
// once more without them if that fails.
func (y *YTDLP) attempt(ctx context.Context, ref, destPath string, n int) []Attempt {
	opts := AudioOptions{
		OutputTemplate:     outputTemplate(destPath),
		Format:             y.cfg.AudioFormat,
		Quality:            y.cfg.AudioQuality,
		FFmpegPath:         y.cfg.FFmpegPath,
		ExternalDownloader: y.cfg.ExternalDownloader,
	}
	if y.cfg.CookiesFile != "" {
		if _, err := os.Stat(y.cfg.CookiesFile); err == nil {
			opts.CookiesFile = y.cfg.CookiesFile
		}
	}

	first := Attempt{Ref: ref, Number: n, Cookies: opts.CookiesFile != ""}
	first.Err = y.cfg.Runner.DownloadAudio(ctx, ref, opts)
	attempts := []Attempt{first}
	if first.Err == nil || !first.Cookies || ctx.Err() != nil {
		return attempts
	}

	opts.CookiesFile = ""
	second := Attempt{Ref: ref, Number: n}
	second.Err = y.cfg.Runner.DownloadAudio(ctx, ref, opts)
	return append(attempts, second)
}

// outputTemplate turns "/dir/01 - A - B.mp3" into "/dir/01 - A - B.%(ext)s" so
// that yt-dlp's post-processed file lands exactly on destPath.
func outputTemplate(destPath string) string {
	base := strings.TrimSuffix(destPath, filepath.Ext(destPath))
	base = strings.ReplaceAll(base, "%", "%%")
	return base + ".%(ext)s"
}

// YTDLPRunner drives the yt-dlp binary.
type YTDLPRunner struct{}

func (YTDLPRunner) DownloadAudio(ctx context.Context, ref string, opts AudioOptions) error {
	cmd := ytdlp.New().
		NoPlaylist().
		NoWarnings().
		ForceOverwrites().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat(opts.Format).
		AudioQuality(opts.Quality).
		SocketTimeout(30).
		Output(opts.OutputTemplate)
	if opts.CookiesFile != "" {
		cmd = cmd.Cookies(opts.CookiesFile)
	}
	if opts.FFmpegPath != "" {
		cmd = cmd.FFmpegLocation(opts.FFmpegPath)
	}
	if opts.ExternalDownloader != "" {
		cmd = cmd.Downloader(opts.ExternalDownloader)
	}

	res, err := cmd.Run(ctx, ref)
	if err != nil {
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			return fmt.Errorf("%w: %s", err, lastLine(res.Stderr))
		}
		return err
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
