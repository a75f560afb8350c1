package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/hbollon/go-edlib"
	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/match"
)

const (
	torznabAudioCategory = "3000"
	// MinReleaseSimilarity is the Jaro-Winkler floor for a release name to be
	// considered at all.
	MinReleaseSimilarity = 0.70
)

// TorznabConfig configures the p2p indexer backend.
type TorznabConfig struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Logger  *logrus.Logger
}

// Torznab searches a Torznab-compatible indexer (Jackett, Prowlarr) and
// returns magnet links as media references.
type Torznab struct {
	cfg TorznabConfig
}

func NewTorznab(cfg TorznabConfig) *Torznab {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Client = defaultClient(cfg.Client)
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Torznab{cfg: cfg}
}

func (z *Torznab) Name() string { return "torznab" }

type torznabFeed struct {
	Channel struct {
		Items []torznabItem `xml:"item"`
	} `xml:"channel"`
}

type torznabItem struct {
	Title     string `xml:"title"`
	Link      string `xml:"link"`
	Enclosure struct {
		URL string `xml:"url,attr"`
	} `xml:"enclosure"`
	Attrs []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	} `xml:"attr"`
}

func (it torznabItem) attr(name string) string {
	for _, a := range it.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

func (it torznabItem) magnet() string {
	for _, ref := range []string{it.attr("magneturl"), it.Link, it.Enclosure.URL} {
		if strings.HasPrefix(ref, "magnet:") {
			return ref
		}
	}
	return ""
}

func (z *Torznab) Resolve(ctx context.Context, t domain.Track) (domain.Candidate, error) {
	if z.cfg.BaseURL == "" {
		return domain.Candidate{}, fmt.Errorf("%s: %w", z.Name(), ErrNoCredentials)
	}

	wanted := strings.TrimSpace(t.Artist + " " + t.Name)
	params := url.Values{}
	params.Set("t", "search")
	params.Set("q", wanted)
	params.Set("cat", torznabAudioCategory)
	if z.cfg.APIKey != "" {
		params.Set("apikey", z.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, z.cfg.BaseURL+"/api?"+params.Encode(), nil)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := z.cfg.Client.Do(req)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("%s: %w: %v", z.Name(), ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Candidate{}, fmt.Errorf("%s: %w: status %d", z.Name(), ErrUnavailable, resp.StatusCode)
	}

	var feed torznabFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return domain.Candidate{}, fmt.Errorf("%s: %w: parse feed: %v", z.Name(), ErrUnavailable, err)
	}

	return pick(z.Name(), t, releaseCandidates(feed.Channel.Items, wanted))
}

// releaseCandidates keeps magnet releases whose name resembles wanted, best
// seeded first.
func releaseCandidates(items []torznabItem, wanted string) []domain.Candidate {
	target := match.Normalize(wanted)

	type seeded struct {
		c       domain.Candidate
		seeders int64
	}
	var kept []seeded
	for _, it := range items {
		ref := it.magnet()
		if ref == "" {
			continue
		}
		sim := edlib.JaroWinklerSimilarity(match.Normalize(it.Title), target)
		if float64(sim) < MinReleaseSimilarity {
			continue
		}
		seeders, _ := strconv.ParseInt(it.attr("seeders"), 10, 64)
		kept = append(kept, seeded{
			c:       domain.Candidate{MediaRef: ref, Title: it.Title},
			seeders: seeders,
		})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].seeders > kept[j].seeders })

	out := make([]domain.Candidate, len(kept))
	for i := range kept {
		out[i] = kept[i].c
	}
	return out
}
