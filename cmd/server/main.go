package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/archive"
	"playlist-zipper/internal/cleanup"
	"playlist-zipper/internal/config"
	"playlist-zipper/internal/downloader"
	"playlist-zipper/internal/events"
	"playlist-zipper/internal/fetch"
	apphttp "playlist-zipper/internal/http"
	"playlist-zipper/internal/playlist"
	"playlist-zipper/internal/provider"
	"playlist-zipper/internal/repository"
	"playlist-zipper/internal/repository/sqlite"
	"playlist-zipper/internal/service"
	"playlist-zipper/internal/storage"
	"playlist-zipper/internal/tagger"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn(w)
	}
	if err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache repository.ResolutionRepository
	if cfg.Database.Path != "" {
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatalf("open database: %v", err)
		}
		defer db.Close()

		repo := sqlite.NewResolutionRepository(db)
		if err := repo.Init(ctx); err != nil {
			logger.Fatalf("init resolution repository: %v", err)
		}
		cache = repo
	}

	resolver, err := provider.Build(provider.Options{
		Providers:   cfg.Resolver.Providers,
		YouTubeKeys: cfg.YouTube.APIKeys,
		Instances:   cfg.Invidious.Instances,
		TorznabURL:  cfg.Torznab.URL,
		TorznabKey:  cfg.Torznab.APIKey,
		CookiesFile: cfg.Download.CookiesFile,
		Attempts:    cfg.Resolver.Attempts,
		Backoff:     cfg.Resolver.Backoff,
		RateLimit:   cfg.Resolver.RateLimit,
		Cache:       cache,
		CacheTTL:    cfg.Cache.TTL,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatalf("build resolver: %v", err)
	}
	logger.Infof("resolving tracks with %s", resolver.Name())

	jitterMin := time.Duration(cfg.Download.JitterMinMs) * time.Millisecond
	jitterMax := time.Duration(cfg.Download.JitterMaxMs) * time.Millisecond

	torrents := fetch.NewTorrent(fetch.TorrentConfig{
		DataDir:      filepath.Join(filepath.Dir(cfg.Download.DataDir), "torrents"),
		StallTimeout: cfg.Download.StallTimeout,
		MinFileSize:  cfg.Download.MinFileSize,
		Attempts:     cfg.Download.FetchAttempts,
		Backoff:      5 * time.Second,
		JitterMin:    jitterMin,
		JitterMax:    jitterMax,
		Transcoder: fetch.FFmpeg{
			Path:    cfg.Download.FFmpegPath,
			Format:  cfg.Download.AudioFormat,
			Quality: cfg.Download.AudioQuality,
		},
		Logger: logger,
	})
	defer torrents.Close()

	fetcher := fetch.Dispatcher{
		Default: fetch.NewYTDLP(fetch.YTDLPConfig{
			AudioFormat:        cfg.Download.AudioFormat,
			AudioQuality:       cfg.Download.AudioQuality,
			CookiesFile:        cfg.Download.CookiesFile,
			FFmpegPath:         cfg.Download.FFmpegPath,
			ExternalDownloader: cfg.Download.ExternalDownloader,
			MinFileSize:        cfg.Download.MinFileSize,
			Attempts:           cfg.Download.FetchAttempts,
			Backoff:            2 * time.Second,
			JitterMin:          jitterMin,
			JitterMax:          jitterMax,
			Logger:             logger,
		}),
		Magnet: torrents,
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	var playlists playlist.Provider
	if cfg.Spotify.ClientID != "" && cfg.Spotify.ClientSecret != "" {
		sp, err := playlist.NewSpotify(playlist.SpotifyConfig{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Logger:       logger,
		})
		if err != nil {
			logger.Fatalf("setup spotify: %v", err)
		}
		playlists = sp
	}

	jobs := service.NewJobService()
	hub := events.NewHub(logger)
	links := apphttp.NewLinks(cfg.Server.PublicBaseURL, cfg.Links.Secret, cfg.Links.TTL)

	manager := downloader.NewManager(downloader.Config{
		DataDir:             cfg.Download.DataDir,
		SearchConcurrency:   cfg.Download.SearchConcurrency,
		DownloadConcurrency: cfg.Download.DownloadConcurrency,
		AudioFormat:         cfg.Download.AudioFormat,
		JitterMin:           jitterMin,
		JitterMax:           jitterMax,
		Logger:              logger,
	}, downloader.Deps{
		Jobs:     jobs,
		Resolver: resolver,
		Fetcher:  fetcher,
		Tagger:   tagger.NewID3(tagger.Config{Logger: logger}),
		Archiver: archive.NewZip(cfg.Download.AudioFormat),
		Sink:     hub,
		Storage:  storageSvc,
		Links:    links,
	})

	sweeper := cleanup.NewSweeper(cleanup.Config{
		Dir:      cfg.Download.DataDir,
		Interval: cfg.Cleanup.Interval,
		MaxAge:   cfg.Cleanup.MaxAge,
		CacheTTL: cfg.Cache.TTL,
		Logger:   logger,
	}, cleanup.Deps{
		Jobs:    jobs,
		Events:  hub,
		Cache:   cache,
		Storage: storageSvc,
	})
	go sweeper.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(apphttp.Deps{
		Jobs:           jobs,
		Manager:        manager,
		Playlists:      playlists,
		Hub:            hub,
		Storage:        storageSvc,
		StorageLinkTTL: cfg.Storage.LinkTTL,
		Links:          links,
		Logger:         logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}

// buildStorage returns nil when no bucket is configured; archives are then
// served from local disk only.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, archives stay local")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix), nil
}
