package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Transcoder converts a local media file into the job's audio format.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

// FFmpeg transcodes with the ffmpeg binary.
type FFmpeg struct {
	Path    string
	Format  string
	Quality string
}

func (f FFmpeg) Transcode(ctx context.Context, src, dst string) error {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	} else if info, err := os.Stat(bin); err == nil && info.IsDir() {
		bin = strings.TrimRight(bin, "/") + "/ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin, f.Args(src, dst)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(string(out)))
	}
	return nil
}

// Args builds the ffmpeg argument list.
func (f FFmpeg) Args(src, dst string) []string {
	args := []string{
		"-y",
		"-loglevel", "error",
		"-i", src,
		"-vn",
		"-map_metadata", "-1",
	}
	quality := f.Quality
	switch strings.ToLower(f.Format) {
	case "mp3", "":
		if quality == "" {
			quality = "0"
		}
		args = append(args, "-codec:a", "libmp3lame", "-q:a", quality)
	case "m4a", "aac":
		args = append(args, "-codec:a", "aac", "-b:a", bitrate(quality, "256k"))
	case "opus":
		args = append(args, "-codec:a", "libopus", "-b:a", bitrate(quality, "160k"))
	case "ogg", "vorbis":
		args = append(args, "-codec:a", "libvorbis", "-q:a", vbr(quality, "6"))
	case "flac":
		args = append(args, "-codec:a", "flac")
	case "wav":
		args = append(args, "-codec:a", "pcm_s16le")
	}
	return append(args, dst)
}

// bitrate accepts explicit bitrates like "192K"; a VBR level falls back to def.
func bitrate(q, def string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	if strings.HasSuffix(q, "k") {
		return q
	}
	return def
}

func vbr(q, def string) string {
	if q == "" || strings.HasSuffix(strings.ToLower(q), "k") {
		return def
	}
	return q
}
