// Package archive packs a job's working directory into a single zip file.
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoSource is returned when the source directory does not exist.
var ErrNoSource = errors.New("archive source directory missing")

// Result describes what ended up in the archive.
type Result struct {
	Path    string
	Files   []string
	Skipped []string
}

// Archiver packs sourceDir into destPath under a root folder named rootName.
type Archiver interface {
	Pack(ctx context.Context, sourceDir, rootName, destPath string) (Result, error)
}

// Zip writes deflate-compressed zip archives. Only regular, non-empty files
// whose extension is listed in Extensions are included.
type Zip struct {
	Extensions []string
}

// NewZip accepts the given audio format plus .json manifests.
func NewZip(audioFormat string) *Zip {
	return &Zip{Extensions: []string{"." + strings.TrimPrefix(strings.ToLower(audioFormat), "."), ".json"}}
}

func (z *Zip) Pack(ctx context.Context, sourceDir, rootName, destPath string) (Result, error) {
	res := Result{Path: destPath}

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, fmt.Errorf("%w: %s", ErrNoSource, sourceDir)
		}
		return res, fmt.Errorf("read source dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var files []string
	for _, e := range entries {
		name := e.Name()
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || info.Size() == 0 || !z.allowed(name) {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		files = append(files, name)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return res, fmt.Errorf("create archive dir: %w", err)
	}
	tmp := destPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return res, fmt.Errorf("create archive: %w", err)
	}

	root := SanitizeName(rootName)
	if err := writeZip(ctx, out, sourceDir, root, files); err != nil {
		out.Close()
		os.Remove(tmp)
		return res, err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return res, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return res, fmt.Errorf("finalize archive: %w", err)
	}

	for _, f := range files {
		res.Files = append(res.Files, path.Join(root, f))
	}
	return res, nil
}

func writeZip(ctx context.Context, w io.Writer, sourceDir, root string, files []string) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		if err := addFile(zw, filepath.Join(sourceDir, name), path.Join(root, name)); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, src, entryName string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", src, err)
	}
	hdr.Name = entryName
	hdr.Method = zip.Deflate

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", entryName, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("compress %s: %w", src, err)
	}
	return nil
}

func (z *Zip) allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range z.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

var _ Archiver = (*Zip)(nil)
