// Package archive unpacks the goldstandard and predictions zip files.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrUnsafePath = errors.New("archive entry escapes destination")

// Inspect extracts every regular file of zipPath below destDir and returns
// the extracted paths sorted lexicographically. Directory entries and macOS
// resource forks are skipped.
func Inspect(zipPath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", zipPath, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, f := range zr.File {
		if skip(f) {
			continue
		}
		target, err := safeJoin(root, f.Name)
		if err != nil {
			return nil, err
		}
		if err := extract(f, target); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		out = append(out, target)
	}
	sort.Strings(out)
	return out, nil
}

func skip(f *zip.File) bool {
	if f.FileInfo().IsDir() || !f.Mode().IsRegular() {
		return true
	}
	name := filepath.ToSlash(f.Name)
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(filepath.Base(name), "._")
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

func extract(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	w, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Create writes files into a new zip at zipPath, each stored under its
// base name.
func Create(zipPath string, files ...string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)
	for _, p := range files {
		if err := addFile(zw, p); err != nil {
			zw.Close()
			out.Close()
			return fmt.Errorf("add %s: %w", p, err)
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func addFile(zw *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
