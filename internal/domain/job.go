package domain

import "time"

type JobState string

const (
	JobStateCreated     JobState = "created"
	JobStateSearching   JobState = "searching"
	JobStateDownloading JobState = "downloading"
	JobStateZipping     JobState = "zipping"
	JobStateReady       JobState = "ready"
	JobStateError       JobState = "error"
)

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == JobStateReady || s == JobStateError
}

// TrackStatus is the per-track label pushed to observers.
type TrackStatus string

const (
	TrackStatusSearching   TrackStatus = "Searching..."
	TrackStatusDownloading TrackStatus = "Downloading..."
	TrackStatusTagging     TrackStatus = "Tagging..."
	TrackStatusDone        TrackStatus = "Done"
	TrackStatusError       TrackStatus = "Error"
	TrackStatusNotFound    TrackStatus = "Not Found"
)

// Rank orders statuses so a track never regresses to an earlier one.
func (s TrackStatus) Rank() int {
	switch s {
	case TrackStatusSearching:
		return 1
	case TrackStatusDownloading:
		return 2
	case TrackStatusTagging:
		return 3
	case TrackStatusDone, TrackStatusError, TrackStatusNotFound:
		return 4
	default:
		return 0
	}
}

// TrackError records why a track did not make it into the archive.
type TrackError struct {
	Position int    `json:"-"`
	TrackID  string `json:"-"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	Reason   string `json:"error"`
}

// Job represents one playlist download request and its lifecycle.
type Job struct {
	ID             string
	PlaylistName   string
	Tracks         []Track
	WorkDir        string
	ArchivePath    string
	ArchiveName    string
	RemoteLocation string
	State          JobState
	CompletedCount int
	TotalCount     int
	Errors         []TrackError
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FinishedAt     *time.Time
}

// Clone returns a deep copy safe to hand out of the registry.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Tracks = append([]Track(nil), j.Tracks...)
	c.Errors = append([]TrackError(nil), j.Errors...)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
