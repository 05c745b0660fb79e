package emitter

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

func writeFiles(outDir string, files map[string][]byte, force bool) error {
	abs, err := filepath.Abs(outDir)
	if err != nil {
		return fmt.Errorf("emitter: resolve output directory: %w", err)
	}
	if err := validateOutputDirectory(abs, force); err != nil {
		return err
	}
	for rel, content := range files {
		if err := writeFileAtomic(abs, rel, content); err != nil {
			return fmt.Errorf("emitter: write file %s: %w", rel, err)
		}
	}
	return nil
}

// validateOutputDirectory accepts a missing or empty directory, or any
// directory when force is set.
func validateOutputDirectory(absPath string, force bool) error {
	stat, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot access output directory %q: %w", absPath, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("output path %q is not a directory", absPath)
	}
	if force {
		return nil
	}
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return fmt.Errorf("cannot read output directory %q: %w", absPath, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("output directory %q is not empty (use --force to overwrite)", absPath)
	}
	return nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place.
func writeFileAtomic(baseDir, relPath string, content []byte) (err error) {
	fullPath := filepath.Join(baseDir, filepath.FromSlash(relPath))
	mode := os.FileMode(0o644)
	if isExecutable(relPath) {
		mode = 0o755
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure target directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-specforge-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(mode); err != nil {
		return fmt.Errorf("set file permissions: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, fullPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func isExecutable(relPath string) bool {
	base := path.Base(relPath)
	return base == "Makefile" || strings.HasSuffix(base, ".sh")
}

// zipEpoch is the fixed modification time stamped on archive entries so the
// same files always produce the same archive bytes.
var zipEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteZip writes res.Files into a ZIP archive under a top-level directory
// named after the tool.
func WriteZip(w io.Writer, res *Result) error {
	zw := zip.NewWriter(w)
	rels := make([]string, 0, len(res.Files))
	for rel := range res.Files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		hdr := &zip.FileHeader{
			Name:     res.ToolName + "/" + rel,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		}
		mode := os.FileMode(0o644)
		if isExecutable(rel) {
			mode = 0o755
		}
		hdr.SetMode(mode)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("emitter: zip %s: %w", rel, err)
		}
		if _, err := fw.Write(res.Files[rel]); err != nil {
			return fmt.Errorf("emitter: zip %s: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("emitter: close zip: %w", err)
	}
	return nil
}
