// Package materialize places a profile's payload tree under the install
// directory and binds resolved runtime parameters into it.
package materialize

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"personactl/internal/profile"
	"personactl/internal/resolve"
)

// excluded names are never copied from a payload tree; they belong to the
// install directory itself.
var excluded = map[string]bool{
	"venv": true,
	"logs": true,
}

// Materializer copies payloads from PayloadDir.
type Materializer struct {
	PayloadDir string
	Log        zerolog.Logger
	Now        func() time.Time
}

// Candidates lists payload source directories in priority order: the
// variant-specific tree, then the profile's generic tree.
func (m *Materializer) Candidates(req *resolve.Request) []string {
	base := filepath.Join(m.PayloadDir, req.Profile.SourceDir)
	variant := req.Variant
	if variant == "" {
		variant = profile.VariantDefault
	}
	return []string{filepath.Join(base, string(variant)), base}
}

// Source returns the first candidate holding the profile entry point.
func (m *Materializer) Source(req *resolve.Request) (string, error) {
	cands := m.Candidates(req)
	for _, dir := range cands {
		fi, err := os.Stat(filepath.Join(dir, req.Profile.EntryPoint))
		if err == nil && !fi.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no payload for %s: %s not found in %s", req.Label(), req.Profile.EntryPoint, strings.Join(cands, " or "))
}

// Copy copies the selected payload tree over the install directory,
// overwriting files from earlier runs.
func (m *Materializer) Copy(ctx context.Context, req *resolve.Request) error {
	src, err := m.Source(req)
	if err != nil {
		return err
	}
	m.Log.Info().Str("from", src).Str("to", req.InstallDir).Msg("copying payload")
	if err := os.MkdirAll(req.InstallDir, 0o755); err != nil {
		return fmt.Errorf("creating install dir: %w", err)
	}
	if err := copyDirectory(ctx, src, req.InstallDir); err != nil {
		return fmt.Errorf("copying payload files: %w", err)
	}
	return nil
}

// copyDirectory copies src into dst. Hidden and underscore-prefixed
// entries and the excluded names are skipped.
func copyDirectory(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		baseName := d.Name()
		if excluded[baseName] || strings.HasPrefix(baseName, "_") || strings.HasPrefix(baseName, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		dstPath := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(dstPath, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, dstPath)
	})
}

// copyFile copies a single file from src to dst.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	info, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}
	if err := dstFile.Close(); err != nil {
		return err
	}
	// O_CREATE does not change the mode of a file left by an earlier run
	return os.Chmod(dst, info.Mode().Perm())
}
