package drobuild

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ulikunitz/xz"
)

func stageLogPath(name string) string {
	return filepath.Join(LogDir, name+".log")
}

// compressLog compresses a finished stage log to <log>.xz and removes the
// plain file.
func compressLog(logPath string) error {
	src, err := os.Open(logPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(logPath + ".xz")
	if err != nil {
		return err
	}
	defer dest.Close()

	xzWriter, err := xz.NewWriter(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(xzWriter, src); err != nil {
		return err
	}
	if err := xzWriter.Close(); err != nil {
		return err
	}

	src.Close()
	return os.Remove(logPath)
}

// readLog returns the content of a stage's persisted log, transparently
// decompressing the .xz form.
func readLog(name string) (string, error) {
	logPath := stageLogPath(name)

	if f, err := os.Open(logPath + ".xz"); err == nil {
		defer f.Close()
		xr, err := xz.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("error creating xz reader: %w", err)
		}
		data, err := io.ReadAll(xr)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return "", fmt.Errorf("no build log found for stage %s", name)
	}
	return string(data), nil
}

// listLogs returns the stage names that have a persisted log, sorted.
func listLogs() []string {
	seen := make(map[string]bool)
	entries, err := os.ReadDir(LogDir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		name := e.Name()
		name = strings.TrimSuffix(name, ".xz")
		if strings.HasSuffix(name, ".log") {
			seen[strings.TrimSuffix(name, ".log")] = true
		}
	}
	var names []string
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// showLog displays a single stage's log through $PAGER, or the interactive
// browser when no stage is named.
func showLog(args []string) error {
	if len(args) == 0 {
		return runLogTUI()
	}

	content, err := readLog(args[0])
	if err != nil {
		return err
	}

	pager := os.Getenv("PAGER")
	var pagerArgs []string
	if pager == "" {
		pager = "less"
		pagerArgs = []string{"-r"}
	} else if pager == "less" {
		pagerArgs = []string{"-r"}
	}

	cmd := exec.Command(pager, pagerArgs...)
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		// Fallback to plain stdout if the pager fails.
		fmt.Print(content)
	}
	return nil
}
