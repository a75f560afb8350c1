package provider

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"playlist-zipper/internal/repository"
)

// Options carries everything needed to build the configured resolver stack.
type Options struct {
	Providers   []string
	YouTubeKeys []string
	Instances   []string
	TorznabURL  string
	TorznabKey  string
	CookiesFile string

	Attempts  int
	Backoff   time.Duration
	RateLimit float64

	Cache    repository.ResolutionRepository
	CacheTTL time.Duration

	Client *http.Client
	Runner SearchRunner
	Logger *logrus.Logger
}

// Build assembles the named backends in order. Each backend gets its own rate
// limiter and retry wrapper; the chain is wrapped by the cache.
func Build(opts Options) (Resolver, error) {
	if len(opts.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	resolvers := make([]Resolver, 0, len(opts.Providers))
	for _, name := range opts.Providers {
		var r Resolver
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "youtubeapi":
			keys := NewRotation(opts.YouTubeKeys)
			if keys.Len() == 0 {
				return nil, fmt.Errorf("provider youtubeapi: %w", ErrNoCredentials)
			}
			r = NewYouTubeAPI(YouTubeAPIConfig{Keys: keys, Client: opts.Client, Logger: opts.Logger})
		case "ytsearch":
			r = NewYTSearch(YTSearchConfig{Runner: opts.Runner, CookiesFile: opts.CookiesFile, Logger: opts.Logger})
		case "invidious":
			r = NewInvidious(InvidiousConfig{Instances: NewRotation(opts.Instances), Client: opts.Client, Logger: opts.Logger})
		case "torznab":
			if opts.TorznabURL == "" {
				return nil, fmt.Errorf("provider torznab: url not set")
			}
			r = NewTorznab(TorznabConfig{BaseURL: opts.TorznabURL, APIKey: opts.TorznabKey, Client: opts.Client, Logger: opts.Logger})
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}

		if opts.RateLimit > 0 {
			r = Limited(r, rate.NewLimiter(rate.Limit(opts.RateLimit), 1))
		}
		resolvers = append(resolvers, Retrying(r, opts.Attempts, opts.Backoff, opts.Logger))
	}

	return Cached(Chain(resolvers...), opts.Cache, opts.CacheTTL, opts.Logger), nil
}
