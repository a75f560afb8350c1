// Package cleanup reclaims disk space and memory held by expired jobs.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"playlist-zipper/internal/repository"
	"playlist-zipper/internal/service"
	"playlist-zipper/internal/storage"
)

// Forgetter drops whatever is kept in memory for a job.
type Forgetter interface {
	Forget(jobID string)
}

type Config struct {
	Dir      string
	Interval time.Duration
	MaxAge   time.Duration
	// CacheTTL bounds the age of cached resolutions; zero keeps them forever.
	CacheTTL time.Duration
	Logger   *logrus.Logger
}

// Deps are optional; a nil dependency is skipped.
type Deps struct {
	Jobs    service.JobService
	Events  Forgetter
	Cache   repository.ResolutionRepository
	Storage storage.Service
}

// Result summarizes one sweep.
type Result struct {
	Entries int
	Jobs    int
	Cached  int64
}

type Sweeper struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

func NewSweeper(cfg Config, deps Deps) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Sweeper{cfg: cfg, deps: deps, now: time.Now}
}

// Run sweeps once right away and then every Interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	s.cfg.Logger.Infof("cleanup started: every %s, max age %s", s.cfg.Interval, s.cfg.MaxAge)
	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) Result {
	cutoff := s.now().Add(-s.cfg.MaxAge)
	res := Result{
		Jobs: s.sweepJobs(ctx, cutoff),
	}
	res.Entries = s.sweepDir(cutoff)

	if s.deps.Cache != nil && s.cfg.CacheTTL > 0 {
		n, err := s.deps.Cache.Purge(ctx, s.now().Add(-s.cfg.CacheTTL))
		if err != nil {
			s.cfg.Logger.Warnf("purge resolution cache: %v", err)
		}
		res.Cached = n
	}

	if res.Entries > 0 || res.Jobs > 0 || res.Cached > 0 {
		s.cfg.Logger.Infof("cleanup removed %d files, %d jobs, %d cached resolutions", res.Entries, res.Jobs, res.Cached)
	}
	return res
}

// sweepJobs forgets finished jobs older than cutoff.
func (s *Sweeper) sweepJobs(ctx context.Context, cutoff time.Time) int {
	if s.deps.Jobs == nil {
		return 0
	}
	removed := 0
	for _, job := range s.deps.Jobs.List() {
		if job.FinishedAt == nil || job.FinishedAt.After(cutoff) {
			continue
		}
		logger := s.cfg.Logger.WithField("job_id", job.ID)
		if job.RemoteLocation != "" && s.deps.Storage != nil {
			if err := s.deps.Storage.Delete(ctx, job.ID+".zip"); err != nil {
				logger.Warnf("delete remote archive: %v", err)
			}
		}
		if job.ArchivePath != "" {
			if err := os.Remove(job.ArchivePath); err != nil && !os.IsNotExist(err) {
				logger.Warnf("remove archive: %v", err)
			}
		}
		if err := s.deps.Jobs.Delete(job.ID); err != nil {
			continue
		}
		if s.deps.Events != nil {
			s.deps.Events.Forget(job.ID)
		}
		removed++
	}
	return removed
}

// sweepDir removes anything in Dir last modified before cutoff, except the
// files of jobs that are still running.
func (s *Sweeper) sweepDir(cutoff time.Time) int {
	if s.cfg.Dir == "" {
		return 0
	}
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.cfg.Logger.Warnf("scan %s: %v", s.cfg.Dir, err)
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) || s.running(e.Name()) {
			continue
		}
		p := filepath.Join(s.cfg.Dir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			s.cfg.Logger.Warnf("remove %s: %v", p, err)
			continue
		}
		s.cfg.Logger.Debugf("removed expired entry %s", e.Name())
		removed++
	}
	return removed
}

func (s *Sweeper) running(name string) bool {
	if s.deps.Jobs == nil {
		return false
	}
	id := strings.TrimSuffix(strings.TrimSuffix(name, ".part"), ".zip")
	job, err := s.deps.Jobs.Get(id)
	return err == nil && !job.State.Terminal()
}
