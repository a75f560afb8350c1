package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/retry"
)

// ErrStalled means a torrent stopped making progress for longer than the
// configured stall timeout.
var ErrStalled = errors.New("torrent download stalled")

var audioExtensions = map[string]struct{}{
	".mp3": {}, ".flac": {}, ".m4a": {}, ".aac": {}, ".ogg": {},
	".opus": {}, ".wav": {}, ".alac": {}, ".ape": {}, ".wma": {},
}

// TorrentConfig configures the magnet fetcher.
type TorrentConfig struct {
	DataDir         string
	Trackers        []string
	StatusInterval  time.Duration
	MetadataTimeout time.Duration
	StallTimeout    time.Duration
	MinFileSize     int64
	Attempts        int
	Backoff         time.Duration
	JitterMin       time.Duration
	JitterMax       time.Duration
	Transcoder      Transcoder
	Logger          *logrus.Logger
}

// Torrent fetches the largest audio file of a magnet link and transcodes it.
// The client is created on first use and lives until Close.
type Torrent struct {
	cfg TorrentConfig

	once    sync.Once
	client  *torrent.Client
	initErr error
}

func NewTorrent(cfg TorrentConfig) *Torrent {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 2 * time.Second
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = 2 * time.Minute
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 3 * time.Minute
	}
	if cfg.MinFileSize <= 0 {
		cfg.MinFileSize = DefaultMinFileSize
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Transcoder == nil {
		cfg.Transcoder = FFmpeg{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.Trackers) == 0 {
		cfg.Trackers = defaultTrackers()
	}
	return &Torrent{cfg: cfg}
}

func (t *Torrent) start() error {
	t.once.Do(func() {
		if err := os.MkdirAll(t.cfg.DataDir, 0o755); err != nil {
			t.initErr = fmt.Errorf("create torrent data dir: %w", err)
			return
		}
		clientConfig := torrent.NewDefaultClientConfig()
		clientConfig.DataDir = t.cfg.DataDir
		clientConfig.Seed = false

		client, err := torrent.NewClient(clientConfig)
		if err != nil {
			t.initErr = fmt.Errorf("create torrent client: %w", err)
			return
		}
		t.client = client
		t.cfg.Logger.Infof("torrent client started, data dir: %s", t.cfg.DataDir)
	})
	return t.initErr
}

// Close stops the torrent client if it was started.
func (t *Torrent) Close() {
	if t.client != nil {
		t.client.Close()
		t.cfg.Logger.Info("torrent client stopped")
	}
}

func (t *Torrent) Fetch(ctx context.Context, mediaRef, destPath string) error {
	if !strings.HasPrefix(strings.ToLower(mediaRef), "magnet:") {
		return fmt.Errorf("%w: %s", ErrUnsupportedRef, mediaRef)
	}
	if err := t.start(); err != nil {
		return err
	}
	if err := retry.Sleep(ctx, retry.Jitter(t.cfg.JitterMin, t.cfg.JitterMax)); err != nil {
		return err
	}

	logger := t.cfg.Logger.WithField("media_ref", mediaRef)
	err := retry.Do(ctx, t.cfg.Attempts, retry.Linear(t.cfg.Backoff), func(ctx context.Context, n int) error {
		_ = os.Remove(destPath)
		err := t.fetchOnce(ctx, mediaRef, destPath)
		if err == nil {
			return nil
		}
		logger.WithField("attempt", n).Warnf("torrent fetch failed: %v", err)
		if errors.Is(err, ErrUnsupportedRef) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		_ = os.Remove(destPath)
	}
	return err
}

func (t *Torrent) fetchOnce(ctx context.Context, mediaRef, destPath string) error {
	logger := t.cfg.Logger.WithField("media_ref", mediaRef)
	tor, err := t.client.AddMagnet(mediaRef)
	if err != nil {
		return fmt.Errorf("add magnet: %w", err)
	}
	defer tor.Drop()

	for _, tracker := range t.cfg.Trackers {
		tor.AddTrackers([][]string{{tracker}})
	}

	metaTimer := time.NewTimer(t.cfg.MetadataTimeout)
	defer metaTimer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-metaTimer.C:
		return fmt.Errorf("torrent metadata: timed out after %s", t.cfg.MetadataTimeout)
	case <-tor.GotInfo():
	}

	info := tor.Info()
	if info == nil {
		return fmt.Errorf("missing torrent info")
	}
	defer func() {
		if err := os.RemoveAll(filepath.Join(t.cfg.DataDir, info.BestName())); err != nil {
			logger.Warnf("cleanup torrent data: %v", err)
		}
	}()

	file := largestAudioFile(tor.Files())
	if file == nil {
		return fmt.Errorf("%w: no audio file in torrent %q", ErrUnsupportedRef, info.BestName())
	}
	file.Download()
	logger.Infof("torrent fetch started: %s (%s)", file.DisplayPath(), formatBytes(file.Length()))

	err = waitComplete(ctx, file, t.cfg.StatusInterval, t.cfg.StallTimeout, func(done, total int64) {
		logger.Debugf("torrent progress: %s/%s, peers %d",
			formatBytes(done), formatBytes(total), tor.Stats().ActivePeers)
	})
	if err != nil {
		return err
	}

	src := filepath.Join(t.cfg.DataDir, filepath.FromSlash(file.Path()))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := t.cfg.Transcoder.Transcode(ctx, src, destPath); err != nil {
		return err
	}
	return checkOutput(destPath, t.cfg.MinFileSize)
}

type byteProgress interface {
	BytesCompleted() int64
	Length() int64
}

// waitComplete polls p every interval until it is complete. It gives up with
// ErrStalled once the completed byte count has not moved for stall.
func waitComplete(ctx context.Context, p byteProgress, interval, stall time.Duration, tick func(done, total int64)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := p.BytesCompleted()
	lastChange := time.Now()
	for {
		done, total := p.BytesCompleted(), p.Length()
		if done >= total {
			return nil
		}
		if done != last {
			last, lastChange = done, time.Now()
		} else if stall > 0 && time.Since(lastChange) >= stall {
			return fmt.Errorf("%w: no progress for %s at %s/%s", ErrStalled, stall, formatBytes(done), formatBytes(total))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if tick != nil {
				tick(done, total)
			}
		}
	}
}

func largestAudioFile(files []*torrent.File) *torrent.File {
	var best *torrent.File
	for _, f := range files {
		if _, ok := audioExtensions[strings.ToLower(filepath.Ext(f.Path()))]; !ok {
			continue
		}
		if best == nil || f.Length() > best.Length() {
			best = f
		}
	}
	return best
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"udp://tracker.torrent.eu.org:451/announce",
	}
}
