package drobuild

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func newHttpClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Increase TLS handshake timeout to handle slow mirrors. Default is 10s.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total timeout for large downloads
	}
}

// fetchSource ensures the stage's artifact is present and readable in the
// cache, downloading it only when the cached copy is absent or fails the
// integrity probe. Git sources are handled entirely by the extractor.
func fetchSource(st *Stage, quiet bool) (string, error) {
	src := &st.Source
	if src.format() == FormatGit {
		return "", nil
	}

	if err := os.MkdirAll(CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory %s: %w", CacheDir, err)
	}

	cachePath := filepath.Join(CacheDir, src.cacheName())
	if _, err := os.Stat(cachePath); err == nil {
		if probeErr := probeArchive(cachePath, src.format()); probeErr == nil {
			debugf("Already in cache: %s\n", cachePath)
			return cachePath, nil
		} else {
			debugf("Cached file %s failed integrity probe (%v), re-downloading\n", cachePath, probeErr)
			if err := os.Remove(cachePath); err != nil {
				return "", fmt.Errorf("failed to remove corrupt cache entry %s: %w", cachePath, err)
			}
		}
	}

	if !quiet {
		arrowPrintf(colSuccess, "Fetching source: %s\n", src.cacheName())
	}
	if err := downloadFile(src.URL, cachePath, quiet); err != nil {
		// Clean up partial file on failure to prevent a corrupt cache.
		os.Remove(cachePath)
		return "", fmt.Errorf("failed to download %s: %w", src.URL, err)
	}

	if err := probeArchive(cachePath, src.format()); err != nil {
		os.Remove(cachePath)
		return "", fmt.Errorf("downloaded file %s is not a readable %s archive: %w", src.cacheName(), src.format(), err)
	}

	if err := verifySourceChecksum(st, cachePath); err != nil {
		return "", err
	}

	return cachePath, nil
}

// downloadFile downloads a URL into destFile. A flock on a sidecar lock
// file prevents two invocations from clobbering the same cache entry.
func downloadFile(url, destFile string, quiet bool) error {
	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", destFile, err)
	}
	lockPath := destFile + ".lock"

	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	// Acquire an exclusive lock. This will block if another process is
	// downloading the same file.
	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// DOUBLE CHECK: another process might have finished the download while
	// we were waiting for the lock.
	if _, err := os.Stat(destFile); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", destFile)
		_ = os.Remove(lockPath)
		return nil
	}

	defer func() {
		if _, err := os.Stat(destFile); err == nil {
			_ = os.Remove(lockPath)
		}
	}()

	debugf("Downloading %s -> %s\n", url, destFile)

	// --- Primary choice: curl ---
	if _, err := exec.LookPath("curl"); err == nil {
		curlArgs := []string{"-L", "--fail", "-o", destFile}
		if quiet {
			curlArgs = append(curlArgs, "-sS")
		} else {
			curlArgs = append(curlArgs, "-#")
		}
		curlArgs = append(curlArgs, url)
		cmd := exec.Command("curl", curlArgs...)
		if quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err == nil {
			debugf("Download successful with curl.\n")
			return nil
		}
		debugf("curl failed, falling back to wget\n")
	} else {
		debugf("curl not found, trying wget\n")
	}

	// --- Fallback 1: wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		args := []string{"-O", destFile, url}
		if quiet {
			args = append([]string{"-q"}, args...)
		} else {
			args = append([]string{"-nv"}, args...)
		}
		cmd := exec.Command("wget", args...)
		if quiet {
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
		} else {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err == nil {
			debugf("Download successful with wget.\n")
			return nil
		}
		debugf("wget failed, falling back to native Go HTTP client\n")
	} else {
		debugf("wget not found, using native Go HTTP client\n")
	}

	// --- Fallback 2: native Go HTTP client ---
	client := newHttpClient()

	out, err := os.Create(destFile)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", destFile, err)
	}
	defer out.Close()

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	var dst io.Writer = out
	if !quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(destFile))
		dst = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}

	debugf("Download successful with native Go HTTP client.\n")
	return nil
}
