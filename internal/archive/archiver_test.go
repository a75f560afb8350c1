package archive_test

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playlist-zipper/internal/archive"
)

func readZip(t *testing.T, p string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(p)
	require.NoError(t, err)
	defer r.Close()

	out := map[string][]byte{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = b
	}
	return out
}

func TestZip_RoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string][]byte{
		"01 - Band - Song.mp3":  []byte("first track bytes"),
		"02 - Band - Other.mp3": []byte("second track bytes"),
		"playlist_info.json":    []byte(`{"name":"Mix"}`),
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), data, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(src, "03 - Band - Broken.mp3"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "04 - Band - Partial.webm.part"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(src, "nested.mp3"), 0o755))

	dest := filepath.Join(t.TempDir(), "out", "job.zip")
	res, err := archive.NewZip("mp3").Pack(context.Background(), src, "Road Trip: 2024!", dest)
	require.NoError(t, err)

	assert.Equal(t, dest, res.Path)
	assert.Equal(t, []string{
		"Road Trip 2024/01 - Band - Song.mp3",
		"Road Trip 2024/02 - Band - Other.mp3",
		"Road Trip 2024/playlist_info.json",
	}, res.Files)
	assert.ElementsMatch(t, []string{"03 - Band - Broken.mp3", "04 - Band - Partial.webm.part", "nested.mp3"}, res.Skipped)

	got := readZip(t, dest)
	require.Len(t, got, 3)
	for name, data := range files {
		assert.Equal(t, data, got["Road Trip 2024/"+name], name)
	}
	assert.NoFileExists(t, dest+".part")
}

func TestZip_EmptySource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "empty.zip")
	res, err := archive.NewZip("mp3").Pack(context.Background(), t.TempDir(), "Empty", dest)
	require.NoError(t, err)
	assert.Empty(t, res.Files)
	assert.Empty(t, readZip(t, dest))
}

func TestZip_MissingSource(t *testing.T) {
	_, err := archive.NewZip("mp3").Pack(context.Background(), filepath.Join(t.TempDir(), "gone"), "x", filepath.Join(t.TempDir(), "x.zip"))
	assert.ErrorIs(t, err, archive.ErrNoSource)
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"Road Trip: 2024!":      "Road Trip 2024",
		"AC/DC":                 "AC DC",
		`Don't "Stop" (Remix)`:  "Dont Stop Remix",
		"  lots   of\tspace ":   "lots of space",
		"...":                   "playlist",
		"":                      "playlist",
		"Beyoncé ~ Halo + more": "Beyoncé Halo more",
		"a\x00b":                "ab",
		"what?":                 "what",
	}
	for in, want := range tests {
		assert.Equal(t, want, archive.SanitizeName(in), in)
	}
}

func TestSanitize_NoFallback(t *testing.T) {
	assert.Equal(t, "", archive.Sanitize("!!!"))
	assert.Equal(t, "", archive.Sanitize(" - "))
	assert.Equal(t, "playlist", archive.Sanitize("playlist"))
	assert.Equal(t, "AC DC", archive.Sanitize("AC/DC"))
}
