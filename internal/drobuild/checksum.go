package drobuild

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

// hashFile computes the BLAKE3 digest of a file (32-byte output, no key).
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// loadChecksums reads the checksum manifest: one "<hex>  <filename>" line
// per cached artifact. A missing manifest is not an error.
func loadChecksums(path string) (map[string]string, error) {
	sums := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sums, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		sums[fields[1]] = fields[0]
	}
	return sums, scanner.Err()
}

// verifySourceChecksum checks a freshly cached artifact against the
// checksum manifest. An artifact with no manifest entry is accepted with a
// debug note; a mismatch is fatal.
func verifySourceChecksum(st *Stage, cachePath string) error {
	sums, err := loadChecksums(ChecksumsFile)
	if err != nil {
		return fmt.Errorf("failed to read checksum manifest: %w", err)
	}

	name := st.Source.cacheName()
	want, ok := sums[name]
	if !ok {
		debugf("No checksum recorded for %s, skipping verification\n", name)
		return nil
	}

	got, err := hashFile(cachePath)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", cachePath, err)
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", name, want, got)
	}
	debugf("Checksum verified for %s\n", name)
	return nil
}

// generateChecksums fetches every registered stage's artifact and rewrites
// the checksum manifest.
func generateChecksums(cfg *Config) error {
	names, err := pipelineStages()
	if err != nil {
		return err
	}

	entries := make(map[string]string)
	for _, name := range names {
		st := stageRegistry[name]
		if st.Source.format() == FormatGit {
			debugf("Skipping git source for checksum generation: %s\n", name)
			continue
		}
		cachePath, err := fetchSource(st, false)
		if err != nil {
			return err
		}
		sum, err := hashFile(cachePath)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", cachePath, err)
		}
		entries[st.Source.cacheName()] = sum
	}

	var files []string
	for file := range entries {
		files = append(files, file)
	}
	sort.Strings(files)

	var sb strings.Builder
	for _, file := range files {
		fmt.Fprintf(&sb, "%s  %s\n", entries[file], file)
	}
	if err := os.WriteFile(ChecksumsFile, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write checksum manifest: %w", err)
	}

	arrowPrintf(colSuccess, "Wrote checksum manifest: %s\n", ChecksumsFile)
	return nil
}
