package match_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playlist-zipper/internal/domain"
	"playlist-zipper/internal/match"
)

func TestScore_Weights(t *testing.T) {
	track := domain.Track{Name: "Halo", Artist: "Beyonce", DurationMs: 261000}

	tests := []struct {
		name string
		c    domain.Candidate
		want int
	}{
		{
			name: "title only",
			c:    domain.Candidate{Title: "Halo"},
			want: 50,
		},
		{
			name: "title and artist in title",
			c:    domain.Candidate{Title: "Beyonce - Halo"},
			want: 90,
		},
		{
			name: "artist via channel with topic marker",
			c:    domain.Candidate{Title: "Halo", Author: "Beyonce - Topic", DurationSeconds: 261},
			want: 50 + 40 + 30 + 20,
		},
		{
			name: "official title",
			c:    domain.Candidate{Title: "Beyonce - Halo (Official Video)", Author: "BeyonceVEVO", DurationSeconds: 270},
			want: 50 + 40 + 20 + 20,
		},
		{
			name: "accents folded",
			c:    domain.Candidate{Title: "Beyoncé - HALO"},
			want: 90,
		},
		{
			name: "too long",
			c:    domain.Candidate{Title: "Halo", DurationSeconds: 3600},
			want: 50 - 20,
		},
		{
			name: "between bands has no duration adjustment",
			c:    domain.Candidate{Title: "Halo", DurationSeconds: 540},
			want: 50,
		},
		{
			name: "popularity capped",
			c:    domain.Candidate{Title: "Halo", Views: 900_000_000},
			want: 60,
		},
		{
			name: "popularity partial",
			c:    domain.Candidate{Title: "Halo", Views: 3_500_000},
			want: 53,
		},
		{
			name: "blacklisted term",
			c:    domain.Candidate{Title: "Halo (Piano Cover)"},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, match.Score(tt.c, track))
		})
	}
}

func TestScore_BlacklistRespectsRequestedName(t *testing.T) {
	live := domain.Track{Name: "Live Forever", Artist: "Oasis"}
	c := domain.Candidate{Title: "Oasis - Live Forever"}
	assert.Equal(t, 90, match.Score(c, live), "requested name contains 'live', no penalty")

	acoustic := domain.Track{Name: "Wonderwall (Acoustic)", Artist: "Oasis"}
	c = domain.Candidate{Title: "Oasis - Wonderwall (Acoustic) remix"}
	assert.Equal(t, 90-50, match.Score(c, acoustic), "remix still penalised")
}

func TestScore_Idempotent(t *testing.T) {
	track := domain.Track{Name: "Blue", Artist: "X", DurationMs: 200000}
	c := domain.Candidate{Title: "Blue Remix", Author: "chan", DurationSeconds: 205, Views: 12_000_000}

	first := match.Score(c, track)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, match.Score(c, track))
	}
}

func TestScenarioA_RemixPenalty(t *testing.T) {
	track := domain.Track{Name: "Blue", Artist: "X", DurationMs: 200000}
	plain := domain.Candidate{Title: "Blue", DurationSeconds: 205}
	remix := domain.Candidate{Title: "Blue Remix", DurationSeconds: 205}

	// "x" is a substring of "remix" so the artist bonus applies to the remix title too.
	assert.Equal(t, 50+20, match.Score(plain, track))
	assert.Equal(t, 50+40-50+20, match.Score(remix, track))
}

func TestScenarioA_NonPositiveScoreIsUnresolved(t *testing.T) {
	track := domain.Track{Name: "Blue", Artist: "Nobody", DurationMs: 200000}
	remix := domain.Candidate{MediaRef: "ref-remix", Title: "Blue Remix"}

	require.Equal(t, 0, match.Score(remix, track))
	_, ok := match.Select(track, []domain.Candidate{remix})
	assert.False(t, ok, "a candidate scoring <= 0 must not be force-downloaded")
}

func TestSelect_Tiers(t *testing.T) {
	track := domain.Track{Name: "Song", Artist: "Band", DurationMs: 200000}

	t.Run("strict window wins over higher score", func(t *testing.T) {
		far := domain.Candidate{MediaRef: "far", Title: "Band - Song (Official)", Author: "Band Official", DurationSeconds: 290}
		near := domain.Candidate{MediaRef: "near", Title: "Band - Song", DurationSeconds: 210}

		got, ok := match.Select(track, []domain.Candidate{far, near})
		require.True(t, ok)
		assert.Equal(t, "near", got.MediaRef)
		assert.Equal(t, 50+40+20, got.Score)
	})

	t.Run("relaxed window accepts blacklisted", func(t *testing.T) {
		live := domain.Candidate{MediaRef: "live", Title: "Band - Song (Live)", DurationSeconds: 235}
		far := domain.Candidate{MediaRef: "far", Title: "Band - Song", DurationSeconds: 400}

		got, ok := match.Select(track, []domain.Candidate{far, live})
		require.True(t, ok)
		assert.Equal(t, "live", got.MediaRef)
	})

	t.Run("first available when nothing is close", func(t *testing.T) {
		a := domain.Candidate{MediaRef: "a", Title: "Song", DurationSeconds: 400}
		b := domain.Candidate{MediaRef: "b", Title: "Band - Song", DurationSeconds: 420}

		got, ok := match.Select(track, []domain.Candidate{a, b})
		require.True(t, ok)
		assert.Equal(t, "b", got.MediaRef)
	})

	t.Run("ties keep provider order", func(t *testing.T) {
		a := domain.Candidate{MediaRef: "a", Title: "Band - Song", DurationSeconds: 200}
		b := domain.Candidate{MediaRef: "b", Title: "Band - Song", DurationSeconds: 201}

		got, ok := match.Select(track, []domain.Candidate{a, b})
		require.True(t, ok)
		assert.Equal(t, "a", got.MediaRef)
	})

	t.Run("unknown requested duration uses score only", func(t *testing.T) {
		noDur := domain.Track{Name: "Song", Artist: "Band"}
		a := domain.Candidate{MediaRef: "a", Title: "Song", DurationSeconds: 200}
		b := domain.Candidate{MediaRef: "b", Title: "Band - Song", DurationSeconds: 900}

		got, ok := match.Select(noDur, []domain.Candidate{a, b})
		require.True(t, ok)
		assert.Equal(t, "a", got.MediaRef)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, ok := match.Select(track, nil)
		assert.False(t, ok)
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "sigur ros - hoppipolla", match.Normalize("  Sigur Rós -   HOPPÍPOLLA "))
}
