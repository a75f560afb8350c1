package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr)
	assert.Equal(t, "data/jobs", cfg.Download.DataDir)
	assert.Equal(t, 15, cfg.Download.SearchConcurrency)
	assert.Equal(t, 12, cfg.Download.DownloadConcurrency)
	assert.Equal(t, "mp3", cfg.Download.AudioFormat)
	assert.Equal(t, int64(10240), cfg.Download.MinFileSize)
	assert.Equal(t, []string{"ytsearch"}, cfg.Resolver.Providers)
	assert.Equal(t, time.Second, cfg.Resolver.Backoff)
	assert.Equal(t, 168*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 30*time.Minute, cfg.Cleanup.MaxAge)
	assert.Equal(t, 10*time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Links.TTL)
	assert.Equal(t, 3*time.Minute, cfg.Download.StallTimeout)

	_, err = cfg.Validate()
	assert.NoError(t, err)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PLZ_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("PLZ_DOWNLOAD_SEARCHCONCURRENCY", "4")
	t.Setenv("PLZ_RESOLVER_PROVIDERS", "youtubeapi, invidious")
	t.Setenv("PLZ_CLEANUP_MAXAGE", "2h")
	t.Setenv("YOUTUBE_API_KEY_1", "k1")
	t.Setenv("YOUTUBE_API_KEY_3", "k3")
	t.Setenv("SPOTIFY_CLIENT_ID", "cid")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Download.SearchConcurrency)
	assert.Equal(t, []string{"youtubeapi", "invidious"}, cfg.Resolver.Providers)
	assert.Equal(t, 2*time.Hour, cfg.Cleanup.MaxAge)
	assert.Equal(t, []string{"k1", "k3"}, cfg.YouTube.APIKeys)
	assert.Equal(t, "cid", cfg.Spotify.ClientID)
}

func TestLoad_KeyListWinsOverLegacyVars(t *testing.T) {
	t.Setenv("PLZ_YOUTUBE_APIKEYS", "a,b")
	t.Setenv("YOUTUBE_API_KEY_1", "legacy")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cfg.YouTube.APIKeys)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Download.SearchConcurrency = 0
	cfg.Download.DownloadConcurrency = -1
	cfg.Resolver.Providers = nil
	_, err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "searchconcurrency")
	assert.Contains(t, err.Error(), "downloadconcurrency")
	assert.Contains(t, err.Error(), "resolver.providers")
}

func TestValidate_Warnings(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Resolver.Providers = []string{"youtubeapi"}
	cfg.YouTube.APIKeys = nil
	cfg.Download.CookiesFile = filepath.Join(t.TempDir(), "missing.txt")

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 3)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nPLZ_DOTENV_A=\"one\"\nPLZ_DOTENV_B=two\ninvalid\n"), 0o644))
	t.Setenv("PLZ_DOTENV_B", "existing")
	os.Unsetenv("PLZ_DOTENV_A")
	t.Cleanup(func() { os.Unsetenv("PLZ_DOTENV_A") })

	loadDotEnv(path)
	assert.Equal(t, "one", os.Getenv("PLZ_DOTENV_A"))
	assert.Equal(t, "existing", os.Getenv("PLZ_DOTENV_B"))
}
