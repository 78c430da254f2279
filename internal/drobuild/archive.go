package drobuild

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// decompressReader wraps f with the decompressor matching the format.
// The returned closer may be nil.
func decompressReader(f *os.File, format Format) (io.Reader, io.Closer, error) {
	switch format {
	case FormatTarGz:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, gz, nil
	case FormatTarBz2:
		return bzip2.NewReader(f), nil, nil
	case FormatTarXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xr, nil, nil
	case FormatTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		rc := zr.IOReadCloser()
		return rc, rc, nil
	case FormatTar:
		return f, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported archive format: %s", format)
	}
}

// probeArchive checks whether a cached file is readable in its declared
// format. For tar-based formats the whole table of contents must list
// without error; anything else fails the probe and forces a re-download.
func probeArchive(path string, format Format) error {
	switch format {
	case FormatZip:
		r, err := zip.OpenReader(path)
		if err != nil {
			return err
		}
		return r.Close()
	case FormatFile:
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			return fmt.Errorf("cached file %s is empty", path)
		}
		return nil
	case FormatGit:
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closer, err := decompressReader(f, format)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	tr := tar.NewReader(r)
	for {
		_, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive listing failed: %w", err)
		}
	}
}

// extractSource unpacks a stage's cached artifact into a clean working
// directory. Any prior extraction for the stage is removed first, so
// partial or stale state never leaks into a new build.
func extractSource(st *Stage, cachePath string, execCtx *Executor) (string, error) {
	workdir := filepath.Join(WorkDir, st.workName())

	if err := os.RemoveAll(workdir); err != nil {
		return "", fmt.Errorf("failed to clean working directory %s: %w", workdir, err)
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create working directory %s: %w", workdir, err)
	}

	switch st.Source.format() {
	case FormatGit:
		if err := cloneSource(&st.Source, workdir, execCtx); err != nil {
			return "", err
		}
	case FormatZip:
		if err := unzipGo(cachePath, workdir); err != nil {
			return "", fmt.Errorf("failed to extract %s: %w", cachePath, err)
		}
	case FormatFile:
		if err := copyFile(cachePath, filepath.Join(workdir, filepath.Base(cachePath))); err != nil {
			return "", fmt.Errorf("failed to copy %s into workdir: %w", cachePath, err)
		}
	default:
		if err := extractTar(cachePath, st.Source.format(), workdir, execCtx); err != nil {
			return "", fmt.Errorf("failed to extract %s: %w", cachePath, err)
		}
	}
	return workdir, nil
}

// cloneSource performs a shallow single-branch clone into dest.
func cloneSource(src *Source, dest string, execCtx *Executor) error {
	args := []string{"clone", "--depth", "1", "--single-branch"}
	if src.Ref != "" {
		args = append(args, "--branch", src.Ref)
	}
	args = append(args, src.URL, dest)
	cmd := exec.Command("git", args...)
	if !Verbose && !Debug {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}
	if err := execCtx.Run(cmd); err != nil {
		return fmt.Errorf("git clone of %s failed: %w", src.URL, err)
	}
	return nil
}

func unzipGo(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)

		// Security check: prevent zip-slip path traversal.
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)

		// Close files inside the loop to avoid holding too many descriptors.
		outFile.Close()
		rc.Close()

		if err != nil {
			return err
		}
	}
	return nil
}

// shouldStripTar reports whether the archive keeps everything under a
// single top-level directory, in which case that directory is stripped on
// extraction.
func shouldStripTar(archive string, format Format) (bool, error) {
	f, err := os.Open(archive)
	if err != nil {
		return false, err
	}
	defer f.Close()

	r, closer, err := decompressReader(f, format)
	if err != nil {
		return false, err
	}
	if closer != nil {
		defer closer.Close()
	}

	tr := tar.NewReader(r)
	topDir := ""
	// Only inspect the first 51 entries - much faster for large archives.
	for i := 0; i < 51; i++ {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, fmt.Errorf("tar listing failed: %w", err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		slashIdx := strings.IndexByte(hdr.Name, '/')
		if slashIdx == -1 {
			// A file at the archive root, so don't strip.
			return false, nil
		}
		if topDir == "" {
			topDir = hdr.Name[:slashIdx+1]
		} else if !strings.HasPrefix(hdr.Name, topDir) {
			return false, nil
		}
	}
	return topDir != "", nil
}

// extractTar extracts a tar archive (with possible compression) into dest,
// stripping the top-level directory while handling PAX headers. System tar
// is tried first; the pure-Go path is the fallback.
func extractTar(realPath string, format Format, dest string, execCtx *Executor) error {
	strip, err := shouldStripTar(realPath, format)
	if err != nil {
		debugf("shouldStripTar(%s) failed: %v\n", realPath, err)
	}

	if _, lookErr := exec.LookPath("tar"); lookErr == nil {
		args := []string{"xf", realPath, "-C", dest}
		if strip {
			args = append(args, "--strip-components=1")
		}
		cmd := exec.Command("tar", args...)
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		if err := execCtx.Run(cmd); err == nil {
			debugf("Used system tar for %s\n", realPath)
			return nil
		}
		// A cancelled build must not fall through to the pure-Go extractor.
		if execCtx.Context.Err() != nil {
			return fmt.Errorf("extraction aborted: %w", execCtx.Context.Err())
		}
	}

	f, err := os.Open(realPath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", realPath, err)
	}
	defer f.Close()

	r, closer, err := decompressReader(f, format)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	tr := tar.NewReader(r)

	// Track the prefix for stripping (e.g., "ncurses-6.1/")
	var prefix string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", realPath, err)
		}

		// Skip PAX headers (global or per-file)
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data in %s: %w", realPath, err)
			}
			continue
		}

		if strip && prefix == "" && (hdr.Typeflag == tar.TypeDir || hdr.Typeflag == tar.TypeReg) {
			slashIdx := strings.Index(hdr.Name, "/")
			if slashIdx != -1 {
				prefix = hdr.Name[:slashIdx+1]
				debugf("Detected tar prefix for stripping: %s\n", prefix)
			}
		}

		targetName := hdr.Name
		if prefix != "" && strings.HasPrefix(targetName, prefix) {
			targetName = strings.TrimPrefix(targetName, prefix)
		}

		// The top dir itself strips to the empty string
		if targetName == "" {
			continue
		}

		targetPath := filepath.Join(dest, targetName)

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", targetPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", targetPath, err)
			}
		case tar.TypeReg:
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", targetPath, err)
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file %s: %w", targetPath, err)
			}
			outFile.Close()
			if err := os.Chtimes(targetPath, hdr.AccessTime, hdr.ModTime); err != nil {
				debugf("Warning: failed to set times for %s: %v\n", targetPath, err)
			}
		case tar.TypeSymlink:
			_ = os.Remove(targetPath)
			if err := os.Symlink(hdr.Linkname, targetPath); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", targetPath, hdr.Linkname, err)
			}
			if os.Geteuid() == 0 {
				_ = unix.Lchown(targetPath, hdr.Uid, hdr.Gid)
			}
		default:
			debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}

	return nil
}

// createPackageArchive snapshots srcDir into a gzipped tar at archPath.
// All entries are stored relative to srcDir with numeric root ownership so
// the archive is reproducible regardless of who ran the build. Paths
// matching exclude are dropped as a final safety net. Any pre-existing
// archive at archPath is deleted first.
func createPackageArchive(srcDir, archPath string, exclude []string) error {
	if err := os.Remove(archPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale archive %s: %w", archPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(archPath), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	outFile, err := os.Create(archPath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer outFile.Close()

	gw := pgzip.NewWriter(outFile)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if matchesAny(rel, exclude) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}

		// Package archives must be portably root-owned.
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, f); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add files to archive: %w", err)
	}
	return nil
}

// matchesAny reports whether the slash-relative path rel matches any of
// the patterns, either on the whole path, its basename, or a leading
// directory component.
func matchesAny(rel string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
		if strings.HasPrefix(rel, strings.TrimSuffix(pat, "/")+"/") {
			return true
		}
	}
	return false
}

// verifyArchiveListable is used by tests and diagnostics to confirm the
// produced archive reads back cleanly.
func verifyArchiveListable(archPath string) ([]string, error) {
	f, err := os.Open(archPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return nil, err
		}
	}
	return names, nil
}
