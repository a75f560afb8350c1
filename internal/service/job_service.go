package service

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"playlist-zipper/internal/domain"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrEmptyTrackList = errors.New("track list is empty")
)

// JobService is the process-lifetime registry of jobs. Callers always get
// copies; mutation goes through Update.
type JobService interface {
	Create(playlistName string, tracks []domain.Track) (*domain.Job, error)
	Get(id string) (*domain.Job, error)
	Update(id string, fn func(*domain.Job)) (*domain.Job, error)
	List() []*domain.Job
	Delete(id string) error
}

type jobService struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

func NewJobService() JobService {
	return &jobService{
		jobs: make(map[string]*domain.Job),
		now:  time.Now,
	}
}

func (s *jobService) Create(playlistName string, tracks []domain.Track) (*domain.Job, error) {
	if len(tracks) == 0 {
		return nil, ErrEmptyTrackList
	}
	now := s.now().UTC()
	job := &domain.Job{
		ID:           uuid.NewString(),
		PlaylistName: playlistName,
		Tracks:       append([]domain.Track(nil), tracks...),
		State:        domain.JobStateCreated,
		TotalCount:   len(tracks),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job.Clone(), nil
}

func (s *jobService) Get(id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *jobService) Update(id string, fn func(*domain.Job)) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = s.now().UTC()
	if job.State.Terminal() && job.FinishedAt == nil {
		t := job.UpdatedAt
		job.FinishedAt = &t
	}
	return job.Clone(), nil
}

func (s *jobService) List() []*domain.Job {
	s.mu.RLock()
	out := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *jobService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}
