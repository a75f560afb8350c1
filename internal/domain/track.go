package domain

// Track is one playlist entry as received from the playlist provider.
// Tracks are never mutated after a job is created; duplicates are allowed.
type Track struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Year        string `json:"year"`
	CoverArtURL string `json:"image,omitempty"`
	DurationMs  int    `json:"duration"`
}

// DurationSeconds returns the requested duration rounded down to whole seconds.
func (t Track) DurationSeconds() int {
	if t.DurationMs <= 0 {
		return 0
	}
	return t.DurationMs / 1000
}

// Candidate is a provider's proposed media match for a Track.
type Candidate struct {
	MediaRef        string
	Title           string
	Author          string
	DurationSeconds int
	Views           int64
	Score           int
	Provider        string
}

// DownloadResult is produced once per resolved track after the fetch stage.
type DownloadResult struct {
	Track      Track
	Position   int
	OutputPath string
	Success    bool
	Err        error
}
