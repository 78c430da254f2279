package drobuild

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// copyFile copies a regular file preserving its mode.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyTree merges src into dst, overwriting existing files. Symlinks are
// recreated, other special files are skipped.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(linkTarget, target)
		case info.Mode().IsRegular():
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return copyFile(path, target)
		default:
			debugf("Skipping special file %s\n", path)
			return nil
		}
	})
}

// removeGlobs deletes every path under root matching the relative glob
// patterns. Missing matches are not an error.
func removeGlobs(root string, patterns []string) error {
	for _, pat := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, pat))
		if err != nil {
			return fmt.Errorf("bad glob pattern %q: %w", pat, err)
		}
		for _, m := range matches {
			debugf("Removing %s\n", m)
			if err := os.RemoveAll(m); err != nil {
				return fmt.Errorf("failed to remove %s: %w", m, err)
			}
		}
	}
	return nil
}

// dirTreeListing returns the sorted relative paths of every entry under
// root. Used by tests and diagnostics.
func dirTreeListing(root string) ([]string, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel != "." {
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	return paths, err
}
