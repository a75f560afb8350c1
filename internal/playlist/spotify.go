// Package playlist reads playlists from streaming services into tracks.
package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"playlist-zipper/internal/domain"
)

var (
	ErrInvalidURL          = errors.New("invalid playlist url")
	ErrNotFound            = errors.New("playlist not found")
	ErrUpstreamAuth        = errors.New("upstream authentication failed")
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// Playlist is a playlist's name and its tracks in order.
type Playlist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Tracks []domain.Track `json:"tracks"`
}

// Provider fetches a playlist by its public URL.
type Provider interface {
	FetchPlaylist(ctx context.Context, url string) (*Playlist, error)
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	BaseURL      string
	// HTTPClient carries token and API requests; defaults to a 15s timeout client.
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Spotify reads public playlists with an app-only (client credentials) token,
// refreshed automatically when it expires.
type Spotify struct {
	cfg    SpotifyConfig
	client *http.Client
}

func NewSpotify(cfg SpotifyConfig) (*Spotify, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client id and secret are required", ErrUpstreamAuth)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = spotifyTokenURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = spotifyBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, cfg.HTTPClient)
	client := cc.Client(ctx)
	client.Timeout = cfg.HTTPClient.Timeout

	return &Spotify{cfg: cfg, client: client}, nil
}

var playlistURLPattern = regexp.MustCompile(`^(?:spotify:playlist:|https?://open\.spotify\.com/(?:[\w-]+/)*playlist/)([A-Za-z0-9]+)`)

// ParsePlaylistID extracts the playlist id from an open.spotify.com link or a
// spotify:playlist: URI.
func ParsePlaylistID(raw string) (string, error) {
	m := playlistURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return m[1], nil
}

type spotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type spotifyTrack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMS int    `json:"duration_ms"`
	Type       string `json:"type"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name        string         `json:"name"`
		ReleaseDate string         `json:"release_date"`
		Images      []spotifyImage `json:"images"`
	} `json:"album"`
}

type trackPage struct {
	Items []struct {
		Track *spotifyTrack `json:"track"`
	} `json:"items"`
	Next  *string `json:"next"`
	Total int     `json:"total"`
}

type spotifyPlaylist struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Tracks trackPage `json:"tracks"`
}

func (s *Spotify) FetchPlaylist(ctx context.Context, rawURL string) (*Playlist, error) {
	id, err := ParsePlaylistID(rawURL)
	if err != nil {
		return nil, err
	}
	logger := s.cfg.Logger.WithField("playlist_id", id)

	var sp spotifyPlaylist
	if err := s.get(ctx, fmt.Sprintf("%s/playlists/%s", s.cfg.BaseURL, id), &sp); err != nil {
		return nil, err
	}

	out := &Playlist{ID: id, Name: sp.Name}
	page := sp.Tracks
	for {
		out.Tracks = appendTracks(out.Tracks, page)
		if page.Next == nil || *page.Next == "" {
			break
		}
		logger.Debugf("fetching more tracks (%d/%d)", len(out.Tracks), page.Total)
		next := *page.Next
		page = trackPage{}
		if err := s.get(ctx, next, &page); err != nil {
			return nil, err
		}
	}

	logger.Infof("playlist %q fetched: %d tracks", out.Name, len(out.Tracks))
	return out, nil
}

func appendTracks(dst []domain.Track, page trackPage) []domain.Track {
	for _, item := range page.Items {
		t := item.Track
		if t == nil || (t.Type != "" && t.Type != "track") {
			continue
		}
		artists := make([]string, 0, len(t.Artists))
		for _, a := range t.Artists {
			artists = append(artists, a.Name)
		}
		year, _, _ := strings.Cut(t.Album.ReleaseDate, "-")
		dst = append(dst, domain.Track{
			ID:          t.ID,
			Name:        t.Name,
			Artist:      strings.Join(artists, ", "),
			Album:       t.Album.Name,
			Year:        year,
			CoverArtURL: largestImage(t.Album.Images),
			DurationMs:  t.DurationMS,
		})
	}
	return dst
}

func largestImage(images []spotifyImage) string {
	best := -1
	var url string
	for _, img := range images {
		if area := img.Width * img.Height; area > best {
			best = area
			url = img.URL
		}
	}
	return url
}

func (s *Spotify) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return fmt.Errorf("%w: %v", ErrUpstreamAuth, re)
		}
		return fmt.Errorf("spotify request: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode spotify response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &body)
	msg := body.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidURL, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUpstreamAuth, msg)
	case http.StatusTooManyRequests:
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return fmt.Errorf("%w: retry after %ss", ErrUpstreamRateLimited, ra)
		}
		return fmt.Errorf("%w: %s", ErrUpstreamRateLimited, msg)
	default:
		return fmt.Errorf("spotify api: status %d: %s", resp.StatusCode, msg)
	}
}

var _ Provider = (*Spotify)(nil)
