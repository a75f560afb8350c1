// Package match scores provider candidates against requested tracks and picks
// the one worth downloading.
package match

import (
	"strings"

	"playlist-zipper/internal/domain"
)

const (
	weightTitle         = 50
	weightArtist        = 40
	weightOfficialOwner = 30
	weightOfficialTitle = 20
	penaltyBlacklisted  = 50
	weightSongLength    = 20
	penaltyTooLong      = 20
	maxPopularityBonus  = 10

	minSongSeconds  = 120
	maxSongSeconds  = 480
	tooLongSeconds  = 600
	viewsPerPoint   = 1_000_000
	strictWindowSec = 30
	relaxWindowSec  = 40
)

// Blacklist lists title terms that usually mean "not the studio recording".
var Blacklist = []string{"remix", "cover", "live", "karaoke", "instrumental", "piano", "acoustic"}

// Score rates candidate c for track t. Higher is better. Score is pure: the
// same pair always yields the same value.
func Score(c domain.Candidate, t domain.Track) int {
	title := Normalize(c.Title)
	author := Normalize(c.Author)
	name := Normalize(t.Name)
	artist := Normalize(t.Artist)

	score := 0
	if name != "" && strings.Contains(title, name) {
		score += weightTitle
	}
	if artist != "" && (strings.Contains(title, artist) || strings.Contains(author, artist)) {
		score += weightArtist
	}
	if strings.Contains(author, "official") || strings.Contains(author, " - topic") {
		score += weightOfficialOwner
	}
	if strings.Contains(title, "official") {
		score += weightOfficialTitle
	}
	if Blacklisted(title, name) {
		score -= penaltyBlacklisted
	}

	switch d := c.DurationSeconds; {
	case d >= minSongSeconds && d <= maxSongSeconds:
		score += weightSongLength
	case d > tooLongSeconds:
		score -= penaltyTooLong
	}

	if c.Views > 0 {
		score += int(min(c.Views/viewsPerPoint, maxPopularityBonus))
	}
	return score
}

// Blacklisted reports whether title carries a blacklisted term that the
// requested name does not carry itself. Both inputs must be normalized.
func Blacklisted(title, requestedName string) bool {
	for _, term := range Blacklist {
		if strings.Contains(title, term) && !strings.Contains(requestedName, term) {
			return true
		}
	}
	return false
}

// Select scores every candidate and returns the preferred one.
//
// Candidates scoring <= 0 are never chosen. Among the rest, a candidate within
// 30s of the requested duration and free of blacklisted terms wins first, then
// anything within 40s, then the best remaining score. ok is false when no
// candidate clears the floor; the track is then unresolved.
func Select(t domain.Track, candidates []domain.Candidate) (best domain.Candidate, ok bool) {
	want := t.DurationSeconds()
	name := Normalize(t.Name)

	var viable []domain.Candidate
	for _, c := range candidates {
		c.Score = Score(c, t)
		if c.Score > 0 {
			viable = append(viable, c)
		}
	}
	if len(viable) == 0 {
		return domain.Candidate{}, false
	}

	if want > 0 {
		strict := func(c domain.Candidate) bool {
			return within(c.DurationSeconds, want, strictWindowSec) && !Blacklisted(Normalize(c.Title), name)
		}
		if c, found := highest(viable, strict); found {
			return c, true
		}
		relaxed := func(c domain.Candidate) bool {
			return within(c.DurationSeconds, want, relaxWindowSec)
		}
		if c, found := highest(viable, relaxed); found {
			return c, true
		}
	}

	c, _ := highest(viable, func(domain.Candidate) bool { return true })
	return c, true
}

func highest(cs []domain.Candidate, keep func(domain.Candidate) bool) (domain.Candidate, bool) {
	var (
		best  domain.Candidate
		found bool
	)
	for _, c := range cs {
		if !keep(c) {
			continue
		}
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	return best, found
}

func within(got, want, window int) bool {
	if got <= 0 {
		return false
	}
	d := got - want
	if d < 0 {
		d = -d
	}
	return d <= window
}
