package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr          string
		PublicBaseURL string
	}
	Log struct {
		Level string
	}
	Database struct {
		Path string
	}
	Cache struct {
		TTL time.Duration
	}
	Download struct {
		DataDir             string
		SearchConcurrency   int
		DownloadConcurrency int
		AudioFormat         string
		AudioQuality        string
		MinFileSize         int64
		CookiesFile         string
		FFmpegPath          string
		ExternalDownloader  string
		JitterMinMs         int
		JitterMaxMs         int
		FetchAttempts       int
		StallTimeout        time.Duration
	}
	Resolver struct {
		Providers []string
		Attempts  int
		Backoff   time.Duration
		RateLimit float64
	}
	YouTube struct {
		APIKeys []string
	}
	Invidious struct {
		Instances []string
	}
	Torznab struct {
		URL    string
		APIKey string
	}
	Spotify struct {
		ClientID     string
		ClientSecret string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
		LinkTTL   time.Duration
	}
	AWS struct {
		Profile string
	}
	Links struct {
		Secret string
		TTL    time.Duration
	}
	Cleanup struct {
		Interval time.Duration
		MaxAge   time.Duration
	}
}

// legacyKeyVars are read into youtube.apikeys when no list is configured.
var legacyKeyVars = []string{"YOUTUBE_API_KEY_1", "YOUTUBE_API_KEY_2", "YOUTUBE_API_KEY_3", "YOUTUBE_API_KEY_4", "YOUTUBE_API_KEY_5"}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix("PLZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:3000")
	v.SetDefault("server.publicbaseurl", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.path", "data/cache.db")
	v.SetDefault("cache.ttl", "168h")
	v.SetDefault("download.datadir", "data/jobs")
	v.SetDefault("download.searchconcurrency", 15)
	v.SetDefault("download.downloadconcurrency", 12)
	v.SetDefault("download.audioformat", "mp3")
	v.SetDefault("download.audioquality", "0")
	v.SetDefault("download.minfilesize", 10240)
	v.SetDefault("download.cookiesfile", "")
	v.SetDefault("download.ffmpegpath", "")
	v.SetDefault("download.externaldownloader", "")
	v.SetDefault("download.jitterminms", 500)
	v.SetDefault("download.jittermaxms", 2500)
	v.SetDefault("download.fetchattempts", 3)
	v.SetDefault("download.stalltimeout", "3m")
	v.SetDefault("resolver.providers", []string{"ytsearch"})
	v.SetDefault("resolver.attempts", 3)
	v.SetDefault("resolver.backoff", "1s")
	v.SetDefault("resolver.ratelimit", 5)
	v.SetDefault("youtube.apikeys", []string{})
	v.SetDefault("invidious.instances", []string{})
	v.SetDefault("torznab.url", "")
	v.SetDefault("torznab.apikey", "")
	v.SetDefault("spotify.clientid", "")
	v.SetDefault("spotify.clientsecret", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "playlist-zipper")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.linkttl", "1h")
	v.SetDefault("aws.profile", "")
	v.SetDefault("links.secret", "")
	v.SetDefault("links.ttl", "30m")
	v.SetDefault("cleanup.interval", "10m")
	v.SetDefault("cleanup.maxage", "30m")
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Lists from the environment arrive as one comma separated string.
	cfg.Resolver.Providers = splitList(v.GetStringSlice("resolver.providers"))
	cfg.YouTube.APIKeys = splitList(v.GetStringSlice("youtube.apikeys"))
	cfg.Invidious.Instances = splitList(v.GetStringSlice("invidious.instances"))
	if len(cfg.YouTube.APIKeys) == 0 {
		for _, name := range legacyKeyVars {
			if key := strings.TrimSpace(os.Getenv(name)); key != "" {
				cfg.YouTube.APIKeys = append(cfg.YouTube.APIKeys, key)
			}
		}
	}
	if id := os.Getenv("SPOTIFY_CLIENT_ID"); cfg.Spotify.ClientID == "" && id != "" {
		cfg.Spotify.ClientID = id
	}
	if secret := os.Getenv("SPOTIFY_CLIENT_SECRET"); cfg.Spotify.ClientSecret == "" && secret != "" {
		cfg.Spotify.ClientSecret = secret
	}

	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects settings the server cannot start with. Warnings describe
// settings that work but probably are not what the operator wants.
func (c Config) Validate() (warnings []string, err error) {
	var errs []error
	if c.Download.SearchConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("download.searchconcurrency must be positive, got %d", c.Download.SearchConcurrency))
	}
	if c.Download.DownloadConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("download.downloadconcurrency must be positive, got %d", c.Download.DownloadConcurrency))
	}
	if len(c.Resolver.Providers) == 0 {
		errs = append(errs, errors.New("resolver.providers must name at least one provider"))
	}
	if c.Download.JitterMaxMs < c.Download.JitterMinMs {
		errs = append(errs, fmt.Errorf("download.jittermaxms (%d) is below download.jitterminms (%d)", c.Download.JitterMaxMs, c.Download.JitterMinMs))
	}
	if strings.TrimSpace(c.Download.DataDir) == "" {
		errs = append(errs, errors.New("download.datadir is required"))
	}

	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		warnings = append(warnings, "spotify credentials missing: playlist links cannot be analyzed")
	}
	for _, p := range c.Resolver.Providers {
		if p == "youtubeapi" && len(c.YouTube.APIKeys) == 0 {
			warnings = append(warnings, "youtubeapi provider selected but no api keys configured")
		}
	}
	if c.Download.CookiesFile != "" {
		if _, statErr := os.Stat(c.Download.CookiesFile); statErr != nil {
			warnings = append(warnings, fmt.Sprintf("cookies file %s not readable: %v", c.Download.CookiesFile, statErr))
		}
	}
	return warnings, errors.Join(errs...)
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
