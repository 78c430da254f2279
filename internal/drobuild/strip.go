package drobuild

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

// elfMagic reports whether the file starts with the ELF magic bytes.
func elfMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return magic[0] == 0x7f && magic[1] == 'E' && magic[2] == 'L' && magic[3] == 'F'
}

// findStripTool locates the strip binary for the cross target, falling
// back to the host strip. Empty result means stripping is unavailable.
func findStripTool() string {
	if CrossHost != "" {
		if path, err := exec.LookPath(CrossHost + "-strip"); err == nil {
			return path
		}
		debugf("%s-strip not found in PATH\n", CrossHost)
	}
	if path, err := exec.LookPath("strip"); err == nil {
		return path
	}
	return ""
}

// stripTree strips unneeded symbols from every ELF file under outputDir in
// parallel. Per-file strip failures are tolerated; only the discovery walk
// itself can fail.
func stripTree(outputDir string, execCtx *Executor) error {
	stripTool := findStripTool()
	if stripTool == "" {
		arrowPrintln(colWarn, "No strip tool available, skipping binary stripping")
		return nil
	}

	var paths []string
	err := filepath.Walk(outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if info.Mode()&0o111 == 0 && filepath.Ext(path) != ".so" {
			return nil
		}
		if elfMagic(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		debugf("No stripable ELF files found in %s\n", outputDir)
		return nil
	}

	arrowPrintf(colSuccess, "Stripping %d executables in parallel\n", len(paths))

	maxConcurrency := runtime.GOMAXPROCS(0) * 4
	if maxConcurrency < 8 {
		maxConcurrency = 8
	}
	concurrencyLimit := make(chan struct{}, maxConcurrency)

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failedFiles []string

	for _, path := range paths {
		wg.Add(1)
		concurrencyLimit <- struct{}{}

		go func(p string) {
			defer wg.Done()
			defer func() { <-concurrencyLimit }()

			cmd := exec.Command(stripTool, "--strip-unneeded", p)
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
			if err := execCtx.Run(cmd); err != nil {
				failedMu.Lock()
				failedFiles = append(failedFiles, p)
				failedMu.Unlock()
			}
		}(path)
	}
	wg.Wait()

	// Strip failures are advisory; the file ships unstripped.
	for _, p := range failedFiles {
		debugf("Warning: strip failed for %s\n", p)
	}
	if len(failedFiles) > 0 {
		arrowPrintf(colWarn, "Strip skipped %d file(s)\n", len(failedFiles))
	}
	return nil
}
