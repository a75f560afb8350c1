package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lrstanley/go-ytdlp"
	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/domain"
)

const ytSearchResults = 5

// SearchRunner runs a yt-dlp search expression and returns the single JSON
// document it prints.
type SearchRunner interface {
	Search(ctx context.Context, expr, cookiesFile string) ([]byte, error)
}

// YTSearchConfig configures the yt-dlp backed search.
type YTSearchConfig struct {
	Runner      SearchRunner
	CookiesFile string
	Logger      *logrus.Logger
}

// YTSearch resolves tracks with yt-dlp's "ytsearchN:" pseudo-URL.
type YTSearch struct {
	cfg YTSearchConfig
}

func NewYTSearch(cfg YTSearchConfig) *YTSearch {
	if cfg.Runner == nil {
		cfg.Runner = YTDLPSearchRunner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &YTSearch{cfg: cfg}
}

func (y *YTSearch) Name() string { return "ytsearch" }

type ytdlpSearchResult struct {
	Entries []struct {
		ID         string  `json:"id"`
		Title      string  `json:"title"`
		Duration   float64 `json:"duration"`
		Uploader   string  `json:"uploader"`
		Channel    string  `json:"channel"`
		ViewCount  int64   `json:"view_count"`
		WebpageURL string  `json:"webpage_url"`
	} `json:"entries"`
}

func (y *YTSearch) Resolve(ctx context.Context, t domain.Track) (domain.Candidate, error) {
	expr := fmt.Sprintf("ytsearch%d:%s", ytSearchResults, searchQuery(t, "official audio"))

	out, err := y.search(ctx, expr)
	if err != nil {
		return domain.Candidate{}, err
	}

	var res ytdlpSearchResult
	if err := json.Unmarshal(out, &res); err != nil {
		return domain.Candidate{}, fmt.Errorf("%s: decode search output: %w", y.Name(), err)
	}

	candidates := make([]domain.Candidate, 0, len(res.Entries))
	for _, e := range res.Entries {
		ref := e.WebpageURL
		if ref == "" && e.ID != "" {
			ref = youtubeWatchURL + e.ID
		}
		if ref == "" {
			continue
		}
		author := e.Channel
		if author == "" {
			author = e.Uploader
		}
		candidates = append(candidates, domain.Candidate{
			MediaRef:        ref,
			Title:           e.Title,
			Author:          author,
			DurationSeconds: int(e.Duration),
			Views:           e.ViewCount,
		})
	}
	return pick(y.Name(), t, candidates)
}

func (y *YTSearch) search(ctx context.Context, expr string) ([]byte, error) {
	cookies := y.cfg.CookiesFile
	if cookies != "" {
		if _, err := os.Stat(cookies); err != nil {
			cookies = ""
		}
	}

	out, err := y.cfg.Runner.Search(ctx, expr, cookies)
	if err != nil && cookies != "" && ctx.Err() == nil {
		y.cfg.Logger.WithField("provider", y.Name()).Warnf("search with cookies failed, retrying without: %v", err)
		out, err = y.cfg.Runner.Search(ctx, expr, "")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", y.Name(), ErrUnavailable, err)
	}
	return out, nil
}

// YTDLPSearchRunner runs searches through the yt-dlp binary.
type YTDLPSearchRunner struct{}

func (YTDLPSearchRunner) Search(ctx context.Context, expr, cookiesFile string) ([]byte, error) {
	cmd := ytdlp.New().
		DumpSingleJSON().
		NoWarnings()
	if cookiesFile != "" {
		cmd = cmd.Cookies(cookiesFile)
	}
	res, err := cmd.Run(ctx, expr)
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}
