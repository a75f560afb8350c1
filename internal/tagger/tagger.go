// Package tagger embeds track metadata into finished audio files.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedFormat is returned for files that cannot carry ID3 tags.
var ErrUnsupportedFormat = errors.New("tagging not supported for this format")

const (
	defaultCoverTimeout = 5 * time.Second
	maxCoverBytes       = 10 << 20
)

// Metadata is what gets written into a file.
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	Year     string
	CoverURL string
}

// Tagger writes Metadata into an audio file in place.
type Tagger interface {
	Tag(ctx context.Context, path string, md Metadata) error
}

type Config struct {
	Client       *http.Client
	CoverTimeout time.Duration
	Logger       *logrus.Logger
}

// ID3 writes ID3v2.4 frames with UTF-8 text and an optional front cover.
type ID3 struct {
	cfg Config
}

func NewID3(cfg Config) *ID3 {
	if cfg.CoverTimeout <= 0 {
		cfg.CoverTimeout = defaultCoverTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &ID3{cfg: cfg}
}

// Tag writes md into path. A cover that cannot be fetched is skipped with a
// warning; the text frames are still written.
func (t *ID3) Tag(ctx context.Context, path string, md Metadata) error {
	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	var cover []byte
	if md.CoverURL != "" {
		var err error
		cover, err = t.fetchCover(ctx, md.CoverURL)
		if err != nil {
			t.cfg.Logger.WithField("track", md.Title).Warnf("cover art: %v", err)
			cover = nil
		}
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open tag: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(md.Title)
	tag.SetArtist(md.Artist)
	if md.Album != "" {
		tag.SetAlbum(md.Album)
	}
	if md.Year != "" {
		tag.SetYear(md.Year)
	}
	if len(cover) > 0 {
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    http.DetectContentType(cover),
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     cover,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save tag: %w", err)
	}
	return nil
}

func (t *ID3) fetchCover(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.CoverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return data, nil
}

var _ Tagger = (*ID3)(nil)
