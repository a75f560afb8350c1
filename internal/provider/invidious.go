package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/domain"
)

const (
	invidiousUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	invidiousMinLength = 60
	invidiousMaxLength = 900
)

// DefaultInvidiousInstances is used when no instances are configured.
var DefaultInvidiousInstances = []string{
	"https://inv.nadeko.net",
	"https://invidious.private.coffee",
	"https://yt.artemislena.eu",
	"https://invidious.protokolla.fi",
	"https://invidious.nerdvpn.de",
	"https://invidious.lunar.icu",
	"https://invidious.flokinet.to",
}

// InvidiousConfig configures the federated Invidious backend.
type InvidiousConfig struct {
	Instances *Rotation
	Client    *http.Client
	Logger    *logrus.Logger
}

// Invidious queries a public Invidious instance, a new one per call.
type Invidious struct {
	cfg InvidiousConfig
}

func NewInvidious(cfg InvidiousConfig) *Invidious {
	if cfg.Instances == nil || cfg.Instances.Len() == 0 {
		cfg.Instances = NewRotation(DefaultInvidiousInstances)
	}
	cfg.Client = defaultClient(cfg.Client)
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Invidious{cfg: cfg}
}

func (v *Invidious) Name() string { return "invidious" }

type invidiousVideo struct {
	Type          string `json:"type"`
	VideoID       string `json:"videoId"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	LengthSeconds int    `json:"lengthSeconds"`
	ViewCount     int64  `json:"viewCount"`
}

func (v *Invidious) Resolve(ctx context.Context, t domain.Track) (domain.Candidate, error) {
	instance, err := v.cfg.Instances.Next()
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("%s: %w", v.Name(), err)
	}
	instance = strings.TrimRight(instance, "/")
	logger := v.cfg.Logger.WithFields(logrus.Fields{"provider": v.Name(), "instance": instance})

	q := url.Values{}
	q.Set("q", searchQuery(t, ""))
	q.Set("type", "video")
	q.Set("sort_by", "relevance")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instance+"/api/v1/search?"+q.Encode(), nil)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", invidiousUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := v.cfg.Client.Do(req)
	if err != nil {
		logger.Debugf("instance failed: %v", err)
		return domain.Candidate{}, fmt.Errorf("%s %s: %w: %v", v.Name(), instance, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Candidate{}, fmt.Errorf("%s %s: %w: status %d", v.Name(), instance, ErrUnavailable, resp.StatusCode)
	}

	var videos []invidiousVideo
	if err := json.NewDecoder(resp.Body).Decode(&videos); err != nil {
		return domain.Candidate{}, fmt.Errorf("%s %s: %w: decode: %v", v.Name(), instance, ErrUnavailable, err)
	}

	return pick(v.Name(), t, invidiousCandidates(videos))
}

// invidiousCandidates keeps plausible song lengths when any exist.
func invidiousCandidates(videos []invidiousVideo) []domain.Candidate {
	var all, sized []domain.Candidate
	for _, vid := range videos {
		if vid.VideoID == "" || (vid.Type != "" && vid.Type != "video") {
			continue
		}
		c := domain.Candidate{
			MediaRef:        youtubeWatchURL + vid.VideoID,
			Title:           vid.Title,
			Author:          vid.Author,
			DurationSeconds: vid.LengthSeconds,
			Views:           vid.ViewCount,
		}
		all = append(all, c)
		if vid.LengthSeconds > invidiousMinLength && vid.LengthSeconds < invidiousMaxLength {
			sized = append(sized, c)
		}
	}
	if len(sized) > 0 {
		return sized
	}
	return all
}
