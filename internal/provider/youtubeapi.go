package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/domain"
)

const (
	youtubeAPIBase    = "https://www.googleapis.com/youtube/v3"
	youtubeWatchURL   = "https://www.youtube.com/watch?v="
	youtubeMaxResults = 5
)

// YouTubeAPIConfig configures the YouTube Data API backend.
type YouTubeAPIConfig struct {
	Keys    *Rotation
	BaseURL string
	Client  *http.Client
	Logger  *logrus.Logger
}

// YouTubeAPI searches through the official YouTube Data API v3, taking a key
// from the rotation for every request.
type YouTubeAPI struct {
	cfg YouTubeAPIConfig
}

func NewYouTubeAPI(cfg YouTubeAPIConfig) *YouTubeAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = youtubeAPIBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Client = defaultClient(cfg.Client)
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Keys == nil {
		cfg.Keys = NewRotation(nil)
	}
	return &YouTubeAPI{cfg: cfg}
}

func (y *YouTubeAPI) Name() string { return "youtubeapi" }

type ytSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
}

type ytVideosResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type ytErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (y *YouTubeAPI) Resolve(ctx context.Context, t domain.Track) (domain.Candidate, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("q", searchQuery(t, "official audio"))
	q.Set("type", "video")
	q.Set("maxResults", strconv.Itoa(youtubeMaxResults))

	var search ytSearchResponse
	if err := y.get(ctx, "search", q, &search); err != nil {
		return domain.Candidate{}, err
	}

	candidates := make([]domain.Candidate, 0, len(search.Items))
	ids := make([]string, 0, len(search.Items))
	for _, it := range search.Items {
		if it.ID.VideoID == "" {
			continue
		}
		ids = append(ids, it.ID.VideoID)
		candidates = append(candidates, domain.Candidate{
			MediaRef: youtubeWatchURL + it.ID.VideoID,
			Title:    it.Snippet.Title,
			Author:   it.Snippet.ChannelTitle,
		})
	}
	if len(candidates) == 0 {
		return pick(y.Name(), t, nil)
	}

	details, err := y.videoDetails(ctx, ids)
	if err != nil {
		// durations only refine scoring
		y.cfg.Logger.WithField("provider", y.Name()).Warnf("video details: %v", err)
	}
	for i := range candidates {
		if d, ok := details[ids[i]]; ok {
			candidates[i].DurationSeconds = d.seconds
			candidates[i].Views = d.views
		}
	}

	return pick(y.Name(), t, candidates)
}

type videoDetail struct {
	seconds int
	views   int64
}

func (y *YouTubeAPI) videoDetails(ctx context.Context, ids []string) (map[string]videoDetail, error) {
	q := url.Values{}
	q.Set("part", "contentDetails,statistics")
	q.Set("id", strings.Join(ids, ","))

	var resp ytVideosResponse
	if err := y.get(ctx, "videos", q, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]videoDetail, len(resp.Items))
	for _, it := range resp.Items {
		views, _ := strconv.ParseInt(it.Statistics.ViewCount, 10, 64)
		out[it.ID] = videoDetail{
			seconds: ParseISODuration(it.ContentDetails.Duration),
			views:   views,
		}
	}
	return out, nil
}

func (y *YouTubeAPI) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	key, err := y.cfg.Keys.Next()
	if err != nil {
		return fmt.Errorf("%s: %w", y.Name(), err)
	}
	q.Set("key", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.cfg.BaseURL+"/"+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := y.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", y.Name(), endpoint, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", y.Name(), endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr ytErrorResponse
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.Error.Message
		if resp.StatusCode == http.StatusForbidden && isQuotaMessage(msg) {
			return fmt.Errorf("%s %s: %w: %s", y.Name(), endpoint, ErrQuotaExceeded, msg)
		}
		return fmt.Errorf("%s %s: %w: status %d %s", y.Name(), endpoint, ErrUnavailable, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", y.Name(), endpoint, err)
	}
	return nil
}

func isQuotaMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "quota") || strings.Contains(m, "limit exceeded")
}

var isoDurationRe = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration converts an ISO-8601 duration such as "PT4M33S" to seconds.
// Unparseable input yields 0.
func ParseISODuration(s string) int {
	m := isoDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	part := func(i int) int {
		if m[i] == "" {
			return 0
		}
		n, _ := strconv.Atoi(m[i])
		return n
	}
	return part(1)*86400 + part(2)*3600 + part(3)*60 + part(4)
}
