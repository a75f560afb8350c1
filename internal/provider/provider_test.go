package provider_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/provider"
	"playlist-zipper/internal/repository"
)

var song = domain.Track{ID: "t1", Name: "Song", Artist: "Band", DurationMs: 200000}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestRotation_RoundRobin(t *testing.T) {
	r := provider.NewRotation([]string{"a", " ", "b", "c"})
	require.Equal(t, 3, r.Len())

	var got []string
	for i := 0; i < 7; i++ {
		v, err := r.Next()
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)
}

func TestRotation_Empty(t *testing.T) {
	_, err := provider.NewRotation(nil).Next()
	assert.ErrorIs(t, err, provider.ErrNoCredentials)
}

func TestRotation_ConcurrentFairness(t *testing.T) {
	r := provider.NewRotation([]string{"a", "b", "c", "d"})
	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for i := 0; i < 400; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _ := r.Next()
			mu.Lock()
			counts[v]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	for _, k := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, 100, counts[k], k)
	}
}

func TestParseISODuration(t *testing.T) {
	tests := map[string]int{
		"PT4M33S":  273,
		"PT1H2M3S": 3723,
		"PT45S":    45,
		"PT3M":     180,
		"P1DT1S":   86401,
		"P0D":      0,
		"garbage":  0,
		"":         0,
	}
	for in, want := range tests {
		assert.Equal(t, want, provider.ParseISODuration(in), in)
	}
}

func TestYouTubeAPI_Resolve(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.URL.Query().Get("key"))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/search":
			assert.Equal(t, "Song Band official audio", r.URL.Query().Get("q"))
			fmt.Fprint(w, `{"items":[
				{"id":{"videoId":"v2"},"snippet":{"title":"Song karaoke","channelTitle":"Sing Along"}},
				{"id":{"videoId":"v1"},"snippet":{"title":"Band - Song (Official Audio)","channelTitle":"Band - Topic"}}
			]}`)
		case "/videos":
			assert.Equal(t, "v2,v1", r.URL.Query().Get("id"))
			fmt.Fprint(w, `{"items":[
				{"id":"v1","contentDetails":{"duration":"PT3M21S"},"statistics":{"viewCount":"5000000"}},
				{"id":"v2","contentDetails":{"duration":"PT3M20S"},"statistics":{"viewCount":"10"}}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	api := provider.NewYouTubeAPI(provider.YouTubeAPIConfig{
		Keys:    provider.NewRotation([]string{"k1", "k2"}),
		BaseURL: srv.URL,
		Logger:  quietLogger(),
	})

	got, err := api.Resolve(context.Background(), song)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=v1", got.MediaRef)
	assert.Equal(t, 201, got.DurationSeconds)
	assert.Equal(t, 50+40+30+20+20+5, got.Score)
	assert.Equal(t, "youtubeapi", got.Provider)
	assert.Equal(t, []string{"k1", "k2"}, keys, "each request takes the next key")
}

func TestYouTubeAPI_QuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"The request cannot be completed because you have exceeded your quota."}}`)
	}))
	defer srv.Close()

	api := provider.NewYouTubeAPI(provider.YouTubeAPIConfig{
		Keys:    provider.NewRotation([]string{"k1"}),
		BaseURL: srv.URL,
		Logger:  quietLogger(),
	})
	_, err := api.Resolve(context.Background(), song)
	assert.ErrorIs(t, err, provider.ErrQuotaExceeded)
	assert.False(t, provider.Permanent(err))
}

func TestYouTubeAPI_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	api := provider.NewYouTubeAPI(provider.YouTubeAPIConfig{
		Keys:    provider.NewRotation([]string{"k1"}),
		BaseURL: srv.URL,
		Logger:  quietLogger(),
	})
	_, err := api.Resolve(context.Background(), song)
	assert.ErrorIs(t, err, provider.ErrNoCandidates)
	assert.True(t, provider.Permanent(err))
}

type fakeRunner struct {
	out      string
	failWith string // fail when called with this cookies value
	calls    []string
}

func (f *fakeRunner) Search(_ context.Context, expr, cookies string) ([]byte, error) {
	f.calls = append(f.calls, cookies)
	if f.failWith != "" && cookies == f.failWith {
		return nil, errors.New("sign in to confirm you're not a bot")
	}
	return []byte(f.out), nil
}

func TestYTSearch_Resolve(t *testing.T) {
	runner := &fakeRunner{out: `{"entries":[
		{"id":"a","title":"Band - Song (Live at Wembley)","duration":215.0,"channel":"Band","view_count":100},
		{"id":"b","title":"Band - Song","duration":199.5,"uploader":"BandVEVO","webpage_url":"https://www.youtube.com/watch?v=b"}
	]}`}
	y := provider.NewYTSearch(provider.YTSearchConfig{Runner: runner, Logger: quietLogger()})

	got, err := y.Resolve(context.Background(), song)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=b", got.MediaRef)
	assert.Equal(t, "BandVEVO", got.Author)
	assert.Equal(t, 199, got.DurationSeconds)
	assert.Equal(t, []string{""}, runner.calls)
}

func TestYTSearch_CookieFallback(t *testing.T) {
	cookies := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(cookies, []byte("# Netscape HTTP Cookie File\n"), 0o600))

	runner := &fakeRunner{out: `{"entries":[{"id":"b","title":"Band - Song","duration":200}]}`, failWith: cookies}
	y := provider.NewYTSearch(provider.YTSearchConfig{Runner: runner, CookiesFile: cookies, Logger: quietLogger()})

	got, err := y.Resolve(context.Background(), song)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=b", got.MediaRef)
	assert.Equal(t, []string{cookies, ""}, runner.calls)
}

func TestYTSearch_MissingCookiesFileIgnored(t *testing.T) {
	runner := &fakeRunner{out: `{"entries":[]}`}
	y := provider.NewYTSearch(provider.YTSearchConfig{Runner: runner, CookiesFile: "/does/not/exist", Logger: quietLogger()})

	_, err := y.Resolve(context.Background(), song)
	assert.ErrorIs(t, err, provider.ErrNoCandidates)
	assert.Equal(t, []string{""}, runner.calls)
}

func TestInvidious_RotatesInstances(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		assert.Equal(t, "Song Band", r.URL.Query().Get("q"))
		fmt.Fprint(w, `[
			{"type":"video","videoId":"short","title":"Band - Song teaser","author":"Band","lengthSeconds":30,"viewCount":99000000},
			{"type":"channel","author":"Band"},
			{"type":"video","videoId":"full","title":"Band - Song","author":"Band","lengthSeconds":202,"viewCount":3000000}
		]`)
	}))
	defer good.Close()

	inv := provider.NewInvidious(provider.InvidiousConfig{
		Instances: provider.NewRotation([]string{bad.URL, good.URL}),
		Logger:    quietLogger(),
	})

	_, err := inv.Resolve(context.Background(), song)
	assert.ErrorIs(t, err, provider.ErrUnavailable)

	got, err := inv.Resolve(context.Background(), song)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=full", got.MediaRef)
	assert.Equal(t, int64(3000000), got.Views)
}

const torznabFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
<channel>
  <item>
    <title>Completely Different Thing</title>
    <link>magnet:?xt=urn:btih:ffff</link>
    <torznab:attr name="seeders" value="900"/>
  </item>
  <item>
    <title>Band - Song (2010) [MP3]</title>
    <link>https://indexer.example/dl/1</link>
    <torznab:attr name="seeders" value="12"/>
    <torznab:attr name="magneturl" value="magnet:?xt=urn:btih:aaaa"/>
  </item>
  <item>
    <title>Band - Song [FLAC]</title>
    <link>https://indexer.example/dl/2</link>
    <torznab:attr name="seeders" value="50"/>
  </item>
</channel>
</rss>`

func TestTorznab_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		assert.Equal(t, "Band Song", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, torznabFeed)
	}))
	defer srv.Close()

	z := provider.NewTorznab(provider.TorznabConfig{BaseURL: srv.URL + "/", APIKey: "secret", Logger: quietLogger()})
	got, err := z.Resolve(context.Background(), song)
	require.NoError(t, err)
	assert.Equal(t, "magnet:?xt=urn:btih:aaaa", got.MediaRef)
	assert.Equal(t, "torznab", got.Provider)
}

func TestTorznab_NotConfigured(t *testing.T) {
	_, err := provider.NewTorznab(provider.TorznabConfig{}).Resolve(context.Background(), song)
	assert.ErrorIs(t, err, provider.ErrNoCredentials)
}

type scriptedResolver struct {
	name  string
	errs  []error
	cand  domain.Candidate
	calls int
}

func (s *scriptedResolver) Name() string { return s.name }

func (s *scriptedResolver) Resolve(context.Context, domain.Track) (domain.Candidate, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return domain.Candidate{}, s.errs[s.calls-1]
	}
	return s.cand, nil
}

func TestRetrying(t *testing.T) {
	t.Run("retries transient errors", func(t *testing.T) {
		r := &scriptedResolver{name: "x", errs: []error{provider.ErrUnavailable, provider.ErrQuotaExceeded}, cand: domain.Candidate{MediaRef: "ok"}}
		got, err := provider.Retrying(r, 3, 0, quietLogger()).Resolve(context.Background(), song)
		require.NoError(t, err)
		assert.Equal(t, "ok", got.MediaRef)
		assert.Equal(t, 3, r.calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		r := &scriptedResolver{name: "x", errs: []error{provider.ErrUnavailable, provider.ErrUnavailable, provider.ErrUnavailable, nil}}
		_, err := provider.Retrying(r, 3, 0, quietLogger()).Resolve(context.Background(), song)
		assert.ErrorIs(t, err, provider.ErrUnavailable)
		assert.Equal(t, 3, r.calls)
	})

	t.Run("does not retry no match", func(t *testing.T) {
		r := &scriptedResolver{name: "x", errs: []error{fmt.Errorf("x: %w", provider.ErrNoMatch)}}
		_, err := provider.Retrying(r, 3, time.Hour, quietLogger()).Resolve(context.Background(), song)
		assert.ErrorIs(t, err, provider.ErrNoMatch)
		assert.Equal(t, 1, r.calls)
	})
}

func TestChain(t *testing.T) {
	first := &scriptedResolver{name: "a", errs: []error{provider.ErrNoCandidates}}
	second := &scriptedResolver{name: "b", cand: domain.Candidate{MediaRef: "from-b"}}
	c := provider.Chain(first, second)
	assert.Equal(t, "a,b", c.Name())

	got, err := c.Resolve(context.Background(), song)
	require.NoError(t, err)
	assert.Equal(t, "from-b", got.MediaRef)

	failing := provider.Chain(
		&scriptedResolver{name: "a", errs: []error{provider.ErrNoCandidates}},
		&scriptedResolver{name: "b", errs: []error{provider.ErrQuotaExceeded}},
	)
	_, err = failing.Resolve(context.Background(), song)
	assert.ErrorIs(t, err, provider.ErrNoCandidates)
	assert.ErrorIs(t, err, provider.ErrQuotaExceeded)
}

func TestLimited_RespectsContext(t *testing.T) {
	r := &scriptedResolver{name: "x", cand: domain.Candidate{MediaRef: "ok"}}
	l := provider.Limited(r, rate.NewLimiter(rate.Every(time.Hour), 1))

	_, err := l.Resolve(context.Background(), song)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Resolve(ctx, song)
	assert.Error(t, err)
	assert.Equal(t, 1, r.calls)
}

type memoryRepo struct {
	mu   sync.Mutex
	data map[string]repository.Resolution
}

func (m *memoryRepo) Init(context.Context) error { return nil }

func (m *memoryRepo) Get(_ context.Context, key string, _ time.Duration) (*repository.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (m *memoryRepo) Put(_ context.Context, r *repository.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[r.TrackKey] = *r
	return nil
}

func (m *memoryRepo) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryRepo) Purge(context.Context, time.Time) (int64, error) { return 0, nil }

func TestCached(t *testing.T) {
	repo := &memoryRepo{data: map[string]repository.Resolution{}}
	r := &scriptedResolver{name: "x", cand: domain.Candidate{MediaRef: "ref", Provider: "x"}}
	c := provider.Cached(r, repo, time.Hour, quietLogger())

	for i := 0; i < 3; i++ {
		got, err := c.Resolve(context.Background(), song)
		require.NoError(t, err)
		assert.Equal(t, "ref", got.MediaRef)
	}
	assert.Equal(t, 1, r.calls)
	assert.Contains(t, repo.data, provider.TrackKey(song))
}

func TestCached_DoesNotStoreFailures(t *testing.T) {
	repo := &memoryRepo{data: map[string]repository.Resolution{}}
	r := &scriptedResolver{name: "x", errs: []error{provider.ErrNoMatch}}
	_, err := provider.Cached(r, repo, time.Hour, quietLogger()).Resolve(context.Background(), song)
	assert.ErrorIs(t, err, provider.ErrNoMatch)
	assert.Empty(t, repo.data)
}

func TestCached_Invalidate(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepo{data: map[string]repository.Resolution{}}
	r := &scriptedResolver{name: "x", cand: domain.Candidate{MediaRef: "ref", Provider: "x"}}
	c := provider.Cached(r, repo, time.Hour, quietLogger())

	_, err := c.Resolve(ctx, song)
	require.NoError(t, err)

	inv, ok := c.(provider.Invalidator)
	require.True(t, ok)

	require.NoError(t, inv.Invalidate(ctx, song, "other-ref"))
	assert.Contains(t, repo.data, provider.TrackKey(song), "entry for a different ref is kept")

	require.NoError(t, inv.Invalidate(ctx, song, "ref"))
	assert.NotContains(t, repo.data, provider.TrackKey(song))

	_, err = c.Resolve(ctx, song)
	require.NoError(t, err)
	assert.Equal(t, 2, r.calls, "resolves again after the entry was dropped")

	require.NoError(t, inv.Invalidate(ctx, domain.Track{Name: "never cached"}, "ref"))
}

func TestTrackKey_Normalized(t *testing.T) {
	a := domain.Track{Name: "Hoppípolla", Artist: "Sigur Rós", DurationMs: 268000}
	b := domain.Track{Name: "HOPPIPOLLA ", Artist: "sigur  ros", DurationMs: 268400}
	assert.Equal(t, provider.TrackKey(a), provider.TrackKey(b))
}

func TestBuild(t *testing.T) {
	_, err := provider.Build(provider.Options{})
	assert.Error(t, err)

	_, err = provider.Build(provider.Options{Providers: []string{"nope"}})
	assert.ErrorContains(t, err, "unknown provider")

	_, err = provider.Build(provider.Options{Providers: []string{"youtubeapi"}})
	assert.ErrorIs(t, err, provider.ErrNoCredentials)

	r, err := provider.Build(provider.Options{
		Providers: []string{"ytsearch", "invidious"},
		Runner:    &fakeRunner{out: `{"entries":[]}`},
		Attempts:  1,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, "ytsearch,invidious", r.Name())
}
