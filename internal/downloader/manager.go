package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"playlist-zipper/internal/archive"
	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/events"
	"playlist-zipper/internal/fetch"
	"playlist-zipper/internal/provider"
	"playlist-zipper/internal/retry"
	"playlist-zipper/internal/service"
	"playlist-zipper/internal/storage"
	"playlist-zipper/internal/tagger"
)

var (
	ErrEmptyTrackList   = service.ErrEmptyTrackList
	ErrNoTracksResolved = errors.New("no tracks found")
	ErrShuttingDown     = errors.New("download manager is shutting down")
)

// ManifestName is the summary file written next to the tracks in every archive.
const ManifestName = "playlist_info.json"

// Manager runs playlist jobs from submission to a finished archive.
type Manager interface {
	Submit(ctx context.Context, req Request) (*domain.Job, error)
	Shutdown()
}

// Request is a playlist to download. Tracks keep their order; the position
// of a track in the slice is its identity within the job.
type Request struct {
	PlaylistName string
	Tracks       []domain.Track
}

// LinkBuilder returns the URL announced once a job's archive is ready.
type LinkBuilder interface {
	ArchiveURL(job *domain.Job) (string, error)
}

type Config struct {
	DataDir             string
	SearchConcurrency   int
	DownloadConcurrency int
	AudioFormat         string
	JitterMin           time.Duration
	JitterMax           time.Duration
	Logger              *logrus.Logger
}

// Deps are the collaborators a Manager drives. Tagger and Storage are optional.
type Deps struct {
	Jobs     service.JobService
	Resolver provider.Resolver
	Fetcher  fetch.Fetcher
	Tagger   tagger.Tagger
	Archiver archive.Archiver
	Sink     events.Sink
	Storage  storage.Service
	Links    LinkBuilder
}

type manager struct {
	cfg  Config
	deps Deps

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func NewManager(cfg Config, deps Deps) Manager {
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join("data", "jobs")
	}
	if cfg.SearchConcurrency <= 0 {
		cfg.SearchConcurrency = 15
	}
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = 12
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "mp3"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.NewZip(cfg.AudioFormat)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &manager{
		cfg:    cfg,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit registers the job and starts it in the background. The job outlives
// ctx; only Shutdown stops it.
func (m *manager) Submit(ctx context.Context, req Request) (*domain.Job, error) {
	if len(req.Tracks) == 0 {
		return nil, ErrEmptyTrackList
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.PlaylistName)
	if name == "" {
		name = "playlist"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShuttingDown
	}

	job, err := m.deps.Jobs.Create(name, req.Tracks)
	if err != nil {
		return nil, err
	}
	workDir := filepath.Join(m.cfg.DataDir, job.ID)
	job, err = m.deps.Jobs.Update(job.ID, func(j *domain.Job) { j.WorkDir = workDir })
	if err != nil {
		return nil, err
	}

	m.wg.Add(1)
	go func(job *domain.Job) {
		defer m.wg.Done()
		m.runJob(m.ctx, job)
	}(job.Clone())

	m.cfg.Logger.WithField("job_id", job.ID).Infof("job submitted: %q, %d tracks", name, len(req.Tracks))
	return job, nil
}

func (m *manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.cfg.Logger.Info("download manager stopped")
}

type resolvedTrack struct {
	position  int
	track     domain.Track
	candidate domain.Candidate
}

// jobRun holds the mutable state of one running job.
type jobRun struct {
	m      *manager
	job    *domain.Job
	logger *logrus.Entry
	status *statusGuard

	mu         sync.Mutex
	completed  int
	downloaded int
	errs       []domain.TrackError
}

func (m *manager) runJob(ctx context.Context, job *domain.Job) {
	run := &jobRun{
		m:      m,
		job:    job,
		logger: m.cfg.Logger.WithField("job_id", job.ID),
		status: newStatusGuard(job.ID, len(job.Tracks), m.deps.Sink),
	}
	defer func() {
		if r := recover(); r != nil {
			run.fail(fmt.Errorf("internal error: %v", r))
		}
	}()
	run.execute(ctx)
}

func (r *jobRun) execute(ctx context.Context) {
	if err := os.MkdirAll(r.job.WorkDir, 0o755); err != nil {
		r.fail(fmt.Errorf("create work dir: %w", err))
		return
	}

	r.setState(domain.JobStateSearching)
	r.emit(events.StatusEvent{Message: fmt.Sprintf("Searching %d tracks...", len(r.job.Tracks))})

	resolved := r.search(ctx)
	if err := ctx.Err(); err != nil {
		r.fail(fmt.Errorf("job interrupted: %w", err))
		return
	}
	if len(resolved) == 0 {
		r.fail(ErrNoTracksResolved)
		return
	}

	r.mu.Lock()
	r.completed = len(r.job.Tracks) - len(resolved)
	r.mu.Unlock()
	r.setState(domain.JobStateDownloading)
	r.emit(events.StatusEvent{Message: fmt.Sprintf("Downloading %d tracks...", len(resolved))})
	r.publishProgress()

	r.download(ctx, resolved)
	if err := ctx.Err(); err != nil {
		r.fail(fmt.Errorf("job interrupted: %w", err))
		return
	}

	r.setState(domain.JobStateZipping)
	r.emit(events.ZippingEvent{})
	r.pack(ctx)
}

// search resolves every track under the search bound. Unresolved tracks are
// recorded as errors; the resolved ones come back in playlist order.
func (r *jobRun) search(ctx context.Context) []resolvedTrack {
	outcomes := make([]*resolvedTrack, len(r.job.Tracks))

	var g errgroup.Group
	g.SetLimit(r.m.cfg.SearchConcurrency)
	for i, track := range r.job.Tracks {
		position := i + 1
		g.Go(func() error {
			defer r.recoverTrack(position, track)
			outcomes[i] = r.resolveTrack(ctx, position, track)
			return nil
		})
	}
	_ = g.Wait()

	resolved := make([]resolvedTrack, 0, len(outcomes))
	for _, o := range outcomes {
		if o != nil {
			resolved = append(resolved, *o)
		}
	}
	r.logger.Infof("search finished: %d/%d tracks resolved", len(resolved), len(r.job.Tracks))
	return resolved
}

func (r *jobRun) resolveTrack(ctx context.Context, position int, track domain.Track) *resolvedTrack {
	logger := r.logger.WithFields(logrus.Fields{"track": position, "name": track.Name})
	r.status.set(position, track.ID, domain.TrackStatusSearching)

	if err := retry.Sleep(ctx, retry.Jitter(r.m.cfg.JitterMin, r.m.cfg.JitterMax)); err != nil {
		r.trackFailed(position, track, domain.TrackStatusNotFound, err)
		return nil
	}

	candidate, err := r.m.deps.Resolver.Resolve(ctx, track)
	if err != nil {
		logger.Infof("unresolved: %v", err)
		r.trackFailed(position, track, domain.TrackStatusNotFound, err)
		return nil
	}
	logger.WithFields(logrus.Fields{"provider": candidate.Provider, "media_ref": candidate.MediaRef}).
		Debugf("resolved to %q (score %d)", candidate.Title, candidate.Score)
	return &resolvedTrack{position: position, track: track, candidate: candidate}
}

// download fetches and tags resolved tracks under the download bound.
func (r *jobRun) download(ctx context.Context, resolved []resolvedTrack) {
	var g errgroup.Group
	g.SetLimit(r.m.cfg.DownloadConcurrency)
	for _, rt := range resolved {
		g.Go(func() error {
			var res domain.DownloadResult
			func() {
				defer func() {
					if p := recover(); p != nil {
						res = domain.DownloadResult{Track: rt.track, Position: rt.position, Err: fmt.Errorf("internal error: %v", p)}
						r.status.set(rt.position, rt.track.ID, domain.TrackStatusError)
					}
				}()
				res = r.downloadTrack(ctx, rt)
			}()
			r.finishTrack(res)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *jobRun) downloadTrack(ctx context.Context, rt resolvedTrack) domain.DownloadResult {
	logger := r.logger.WithFields(logrus.Fields{
		"track":     rt.position,
		"provider":  rt.candidate.Provider,
		"media_ref": rt.candidate.MediaRef,
	})
	res := domain.DownloadResult{Track: rt.track, Position: rt.position}

	r.status.set(rt.position, rt.track.ID, domain.TrackStatusDownloading)
	dest := filepath.Join(r.job.WorkDir, TrackFileName(rt.position, len(r.job.Tracks), rt.track, r.m.cfg.AudioFormat))
	if err := r.m.deps.Fetcher.Fetch(ctx, rt.candidate.MediaRef, dest); err != nil {
		logger.Warnf("download failed: %v", err)
		if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warnf("remove partial download: %v", rmErr)
		}
		r.invalidate(ctx, rt)
		r.status.set(rt.position, rt.track.ID, domain.TrackStatusError)
		res.Err = err
		return res
	}

	if r.m.deps.Tagger != nil {
		r.status.set(rt.position, rt.track.ID, domain.TrackStatusTagging)
		md := tagger.Metadata{
			Title:    rt.track.Name,
			Artist:   rt.track.Artist,
			Album:    rt.track.Album,
			Year:     rt.track.Year,
			CoverURL: rt.track.CoverArtURL,
		}
		if err := r.m.deps.Tagger.Tag(ctx, dest, md); err != nil {
			logger.Warnf("tagging failed: %v", err)
		}
	}

	r.status.set(rt.position, rt.track.ID, domain.TrackStatusDone)
	res.OutputPath = dest
	res.Success = true
	return res
}

// invalidate tells a remembering resolver that rt's media could not be
// fetched. Interrupted jobs say nothing about the media.
func (r *jobRun) invalidate(ctx context.Context, rt resolvedTrack) {
	inv, ok := r.m.deps.Resolver.(provider.Invalidator)
	if !ok || ctx.Err() != nil {
		return
	}
	if err := inv.Invalidate(ctx, rt.track, rt.candidate.MediaRef); err != nil {
		r.logger.WithField("track", rt.position).Warnf("invalidate resolution: %v", err)
	}
}

// finishTrack counts one settled download and reports progress. The lock
// keeps progress events in counting order.
func (r *jobRun) finishTrack(res domain.DownloadResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.completed++
	if res.Success {
		r.downloaded++
	} else {
		r.errs = append(r.errs, trackError(res.Position, res.Track, res.Err))
	}
	r.syncLocked()
	r.emit(events.NewProgress(r.completed, len(r.job.Tracks)))
}

func (r *jobRun) trackFailed(position int, track domain.Track, status domain.TrackStatus, err error) {
	r.status.set(position, track.ID, status)
	r.mu.Lock()
	r.errs = append(r.errs, trackError(position, track, err))
	r.syncLocked()
	r.mu.Unlock()
}

func (r *jobRun) recoverTrack(position int, track domain.Track) {
	if p := recover(); p != nil {
		r.logger.WithField("track", position).Errorf("panic while resolving: %v", p)
		r.trackFailed(position, track, domain.TrackStatusError, fmt.Errorf("internal error: %v", p))
	}
}

func (r *jobRun) publishProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncLocked()
	r.emit(events.NewProgress(r.completed, len(r.job.Tracks)))
}

// syncLocked copies counters into the registry; r.mu must be held.
func (r *jobRun) syncLocked() {
	completed := r.completed
	errs := sortedErrors(r.errs)
	if _, err := r.m.deps.Jobs.Update(r.job.ID, func(j *domain.Job) {
		j.CompletedCount = completed
		j.Errors = errs
	}); err != nil {
		r.logger.Warnf("update job: %v", err)
	}
}

func (r *jobRun) pack(ctx context.Context) {
	r.mu.Lock()
	summary := manifest{
		Name:             r.job.PlaylistName,
		TotalTracks:      len(r.job.Tracks),
		DownloadedTracks: r.downloaded,
		Errors:           sortedErrors(r.errs),
		GeneratedAt:      time.Now().UTC(),
	}
	r.mu.Unlock()

	if err := writeManifest(filepath.Join(r.job.WorkDir, ManifestName), summary); err != nil {
		r.logger.Warnf("write manifest: %v", err)
	}

	rootName := archive.SanitizeName(r.job.PlaylistName)
	archivePath := filepath.Join(r.m.cfg.DataDir, r.job.ID+".zip")
	res, err := r.m.deps.Archiver.Pack(ctx, r.job.WorkDir, rootName, archivePath)
	if err != nil {
		r.fail(fmt.Errorf("failed to create archive: %w", err))
		return
	}
	r.logger.Infof("archive written to %s (%d files, %d skipped)", res.Path, len(res.Files), len(res.Skipped))
	r.removeWorkDir()

	url, err := r.archiveURL()
	if err != nil {
		r.removeArchive(res.Path)
		r.fail(fmt.Errorf("build download link: %w", err))
		return
	}

	remote := r.publish(ctx, res.Path)
	if _, err := r.m.deps.Jobs.Update(r.job.ID, func(j *domain.Job) {
		j.ArchivePath = res.Path
		j.ArchiveName = rootName + ".zip"
		j.RemoteLocation = remote
		j.State = domain.JobStateReady
	}); err != nil {
		r.removeArchive(res.Path)
		r.fail(fmt.Errorf("update job: %w", err))
		return
	}
	r.emit(events.ReadyEvent{URL: url})
	r.logger.Infof("job ready: %d/%d tracks downloaded", summary.DownloadedTracks, summary.TotalTracks)
}

func (r *jobRun) archiveURL() (string, error) {
	if r.m.deps.Links == nil {
		return "/api/file/" + r.job.ID, nil
	}
	return r.m.deps.Links.ArchiveURL(r.job)
}

func (r *jobRun) removeArchive(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Warnf("remove archive: %v", err)
	}
}

// publish uploads the archive when remote storage is configured. A failed
// upload leaves the local archive as the only copy.
func (r *jobRun) publish(ctx context.Context, archivePath string) string {
	if r.m.deps.Storage == nil {
		return ""
	}
	location, err := r.m.deps.Storage.UploadFile(ctx, archivePath, r.job.ID+".zip", storage.UploadOptions{
		ContentType:      "application/zip",
		ProgressCallback: newUploadProgressLogger(r.logger),
	})
	if err != nil {
		r.logger.Warnf("publish archive: %v", err)
		return ""
	}
	r.logger.Infof("archive published to %s", location)
	return location
}

func (r *jobRun) setState(state domain.JobState) {
	if _, err := r.m.deps.Jobs.Update(r.job.ID, func(j *domain.Job) { j.State = state }); err != nil {
		r.logger.Warnf("set state %s: %v", state, err)
	}
}

func (r *jobRun) fail(failErr error) {
	msg := failErr.Error()
	r.removeWorkDir()
	if _, err := r.m.deps.Jobs.Update(r.job.ID, func(j *domain.Job) {
		j.State = domain.JobStateError
		j.FailureReason = msg
	}); err != nil {
		r.logger.Errorf("persist failure: %v", err)
	}
	r.logger.Error(msg)
	r.emit(events.ErrorEvent{Message: msg})
}

func (r *jobRun) removeWorkDir() {
	if err := os.RemoveAll(r.job.WorkDir); err != nil {
		r.logger.Warnf("cleanup work dir: %v", err)
	}
}

func (r *jobRun) emit(e events.Event) {
	if r.m.deps.Sink != nil {
		r.m.deps.Sink.Emit(r.job.ID, e)
	}
}

func trackError(position int, track domain.Track, err error) domain.TrackError {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return domain.TrackError{
		Position: position,
		TrackID:  track.ID,
		Name:     track.Name,
		Artist:   track.Artist,
		Reason:   reason,
	}
}

func sortedErrors(errs []domain.TrackError) []domain.TrackError {
	out := append([]domain.TrackError{}, errs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if total == 0 || (now.Sub(lastLog) < 500*time.Millisecond && done != total) {
			return
		}
		lastLog = now
		logger.Infof("upload progress: %.1f%% (%d/%d bytes)", float64(done)/float64(total)*100, done, total)
	}
}

type manifest struct {
	Name             string              `json:"name"`
	TotalTracks      int                 `json:"total_tracks"`
	DownloadedTracks int                 `json:"downloaded_tracks"`
	Errors           []domain.TrackError `json:"errors"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

func writeManifest(path string, m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
