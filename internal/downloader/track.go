package downloader

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"playlist-zipper/internal/archive"
	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/events"
)

// TrackFileName builds "NN - Artist - Title.ext" where NN is the 1-based
// position padded to the width of total, at least two digits.
func TrackFileName(position, total int, t domain.Track, format string) string {
	width := len(strconv.Itoa(total))
	if width < 2 {
		width = 2
	}
	ext := strings.TrimPrefix(strings.ToLower(format), ".")
	return fmt.Sprintf("%0*d - %s - %s.%s", width, position,
		fileSafe(t.Artist, "Unknown Artist"), fileSafe(t.Name, "Unknown Title"), ext)
}

// maxNameBytes bounds each name component so the whole file name stays well
// below the 255 byte limit of common filesystems.
const maxNameBytes = 80

func fileSafe(s, fallback string) string {
	out := truncateName(archive.Sanitize(s), maxNameBytes)
	if out == "" {
		return fallback
	}
	return out
}

// truncateName cuts s to at most max bytes on a rune boundary.
func truncateName(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := 0
	for i := range s {
		if i > max {
			break
		}
		cut = i
	}
	return strings.TrimRight(s[:cut], " -_")
}

// statusGuard forwards per-track status changes and drops any that would
// move a track back to an earlier stage.
type statusGuard struct {
	mu      sync.Mutex
	jobID   string
	sink    events.Sink
	current []domain.TrackStatus
}

func newStatusGuard(jobID string, n int, sink events.Sink) *statusGuard {
	return &statusGuard{jobID: jobID, sink: sink, current: make([]domain.TrackStatus, n)}
}

func (g *statusGuard) set(position int, trackID string, s domain.TrackStatus) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := position - 1
	if i < 0 || i >= len(g.current) || s.Rank() <= g.current[i].Rank() {
		return false
	}
	g.current[i] = s
	if g.sink != nil {
		g.sink.Emit(g.jobID, events.TrackUpdateEvent{TrackID: trackID, Position: position, Status: s})
	}
	return true
}
