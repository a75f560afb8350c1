package http

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/downloader"
	"playlist-zipper/internal/events"
	"playlist-zipper/internal/playlist"
	"playlist-zipper/internal/service"
	"playlist-zipper/internal/storage"
)

// Deps are the services behind the HTTP routes. Playlists and Storage are
// optional.
type Deps struct {
	Jobs           service.JobService
	Manager        downloader.Manager
	Playlists      playlist.Provider
	Hub            *events.Hub
	Storage        storage.Service
	StorageLinkTTL time.Duration
	Links          *Links
	Logger         *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.Links == nil {
		deps.Links = NewLinks("", "", 0)
	}
	if deps.StorageLinkTTL <= 0 {
		deps.StorageLinkTTL = time.Hour
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &Handler{deps: deps}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api")
	{
		api.POST("/analyze", h.analyze)
		api.POST("/download", h.download)
		api.GET("/jobs", h.listJobs)
		api.GET("/jobs/:id", h.getJob)
		api.GET("/jobs/:id/events", h.streamEvents)
		api.GET("/jobs/:id/ws", h.websocketEvents)
		api.GET("/file/:id", h.file)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type analyzeRequest struct {
	URL string `json:"url"`
}

type analyzeResponse struct {
	Name   string         `json:"name"`
	Total  int            `json:"total"`
	Tracks []domain.Track `json:"tracks"`
}

func (h *Handler) analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return
	}

	pl, ok := h.fetchPlaylist(c, req.URL)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analyzeResponse{Name: pl.Name, Total: len(pl.Tracks), Tracks: pl.Tracks})
}

type downloadRequest struct {
	Tracks       []domain.Track `json:"tracks"`
	PlaylistName string         `json:"playlistName"`
	PlaylistURL  string         `json:"playlistUrl"`
}

func (h *Handler) download(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.Tracks) == 0 {
		if strings.TrimSpace(req.PlaylistURL) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tracks or playlistUrl is required"})
			return
		}
		pl, ok := h.fetchPlaylist(c, req.PlaylistURL)
		if !ok {
			return
		}
		req.Tracks = pl.Tracks
		if req.PlaylistName == "" {
			req.PlaylistName = pl.Name
		}
	}

	job, err := h.deps.Manager.Submit(c.Request.Context(), downloader.Request{
		PlaylistName: req.PlaylistName,
		Tracks:       req.Tracks,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, downloader.ErrEmptyTrackList):
			status = http.StatusBadRequest
		case errors.Is(err, downloader.ErrShuttingDown):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID})
}

func (h *Handler) fetchPlaylist(c *gin.Context, url string) (*playlist.Playlist, bool) {
	if h.deps.Playlists == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "playlist provider not configured"})
		return nil, false
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	pl, err := h.deps.Playlists.FetchPlaylist(ctx, url)
	if err != nil {
		h.deps.Logger.Warnf("fetch playlist %s: %v", url, err)
		c.JSON(playlistStatus(err), gin.H{"error": err.Error()})
		return nil, false
	}
	return pl, true
}

func playlistStatus(err error) int {
	switch {
	case errors.Is(err, playlist.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, playlist.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, playlist.ErrUpstreamRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) listJobs(c *gin.Context) {
	jobs := h.deps.Jobs.List()
	resp := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		resp[i] = h.jobToResponse(job)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.deps.Jobs.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.jobToResponse(job))
}

func (h *Handler) file(c *gin.Context) {
	job, err := h.deps.Jobs.Get(c.Param("id"))
	if err != nil || job.State != domain.JobStateReady {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found."})
		return
	}
	if err := h.deps.Links.Verify(job.ID, c.Query("token")); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	if job.RemoteLocation != "" && h.deps.Storage != nil {
		url, err := h.deps.Storage.PresignGet(c.Request.Context(), job.ID+".zip", job.ArchiveName, h.deps.StorageLinkTTL)
		if err == nil {
			c.Redirect(http.StatusFound, url)
			return
		}
		h.deps.Logger.WithField("job_id", job.ID).Warnf("presign archive: %v", err)
	}

	if _, err := os.Stat(job.ArchivePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found."})
		return
	}
	c.FileAttachment(job.ArchivePath, job.ArchiveName)
}

type JobResponse struct {
	ID            string              `json:"id"`
	PlaylistName  string              `json:"playlistName"`
	State         domain.JobState     `json:"state"`
	Completed     int                 `json:"completed"`
	Total         int                 `json:"total"`
	Errors        []domain.TrackError `json:"errors"`
	FailureReason string              `json:"failureReason,omitempty"`
	DownloadURL   string              `json:"downloadUrl,omitempty"`
	CreatedAt     string              `json:"createdAt"`
	UpdatedAt     string              `json:"updatedAt"`
	FinishedAt    *string             `json:"finishedAt,omitempty"`
}

func (h *Handler) jobToResponse(job *domain.Job) JobResponse {
	resp := JobResponse{
		ID:            job.ID,
		PlaylistName:  job.PlaylistName,
		State:         job.State,
		Completed:     job.CompletedCount,
		Total:         job.TotalCount,
		Errors:        job.Errors,
		FailureReason: job.FailureReason,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
	if resp.Errors == nil {
		resp.Errors = []domain.TrackError{}
	}
	if job.State == domain.JobStateReady {
		if url, err := h.deps.Links.ArchiveURL(job); err == nil {
			resp.DownloadURL = url
		} else {
			h.deps.Logger.WithField("job_id", job.ID).Warnf("build download link: %v", err)
		}
	}
	if job.FinishedAt != nil {
		v := job.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &v
	}
	return resp
}
