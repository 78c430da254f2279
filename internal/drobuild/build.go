package drobuild

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// buildEnv assembles the shared cross-compilation environment every stage
// inherits. CPPFLAGS/LDFLAGS point into the staging install root so a
// later stage's build finds an earlier stage's installed headers and
// libraries (htop linking against staged ncurses).
func buildEnv(st *Stage) ([]string, error) {
	absDest, err := filepath.Abs(DestDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination root: %w", err)
	}
	depRoot := filepath.Join(absDest, InstallPrefix)

	// Start with the process environment, but filter out compiler flag
	// variables to avoid conflicts with the pipeline's own settings.
	env := make([]string, 0, len(os.Environ())+16)
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "CFLAGS=") || strings.HasPrefix(e, "CXXFLAGS=") ||
			strings.HasPrefix(e, "CPPFLAGS=") || strings.HasPrefix(e, "LDFLAGS=") {
			continue
		}
		if ToolchainDir != "" && strings.HasPrefix(e, "PATH=") {
			env = append(env, "PATH="+ToolchainDir+string(os.PathListSeparator)+strings.TrimPrefix(e, "PATH="))
			continue
		}
		env = append(env, e)
	}

	toolPrefix := ""
	if CrossHost != "" {
		toolPrefix = CrossHost + "-"
	}

	vars := map[string]string{
		"HOST":              CrossHost,
		"CC":                toolPrefix + "gcc",
		"CXX":               toolPrefix + "g++",
		"AR":                toolPrefix + "ar",
		"RANLIB":            toolPrefix + "ranlib",
		"LD":                toolPrefix + "ld",
		"STRIP":             toolPrefix + "strip",
		"CFLAGS":            "-Os -pipe -fPIC",
		"CXXFLAGS":          "-Os -pipe -fPIC",
		"CPPFLAGS":          "-I" + filepath.Join(depRoot, "include"),
		"LDFLAGS":           "-L" + filepath.Join(depRoot, "lib"),
		"PKG_CONFIG_LIBDIR": filepath.Join(depRoot, "lib", "pkgconfig"),
		"MAKEFLAGS":         fmt.Sprintf("-j%d", BuildJobs),
		"JOBS":              fmt.Sprintf("%d", BuildJobs),
		"DESTDIR":           absDest,
		"PREFIX":            InstallPrefix,
		"DEPROOT":           depRoot,
	}
	for k, v := range st.Env {
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env, nil
}

// runStage executes one stage end to end: fetch, clean extract, run the
// declared build actions in order, then trim build-only artifacts from the
// install root. The first failing action aborts the stage.
func runStage(st *Stage, cfg *Config, execCtx *Executor) (time.Duration, error) {
	startTime := time.Now()

	arrowPrintf(colSuccess, "Stage %s %s\n", st.Name, st.Version)

	if err := os.MkdirAll(LogDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create log dir: %w", err)
	}
	logPath := stageLogPath(st.Name)
	_ = os.Remove(logPath + ".xz")
	logFile, err := os.Create(logPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "== drobuild %s: stage %s %s started %s ==\n",
		version, st.Name, st.Version, startTime.Format(time.RFC3339))

	cachePath, err := fetchSource(st, false)
	if err != nil {
		return 0, fmt.Errorf("stage %s: %w", st.Name, err)
	}

	workdir, err := extractSource(st, cachePath, execCtx)
	if err != nil {
		return 0, fmt.Errorf("stage %s: %w", st.Name, err)
	}

	if err := os.MkdirAll(DestDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create destination root: %w", err)
	}

	env, err := buildEnv(st)
	if err != nil {
		return 0, err
	}

	for _, action := range st.Actions {
		if !Verbose {
			arrowPrintf(colSuccess, "  %s: %s\n", st.Name, action.Name)
		}
		fmt.Fprintf(logFile, "\n== %s: %s ==\n", st.Name, action.Name)

		var out io.Writer = logFile
		if Verbose || Debug {
			out = io.MultiWriter(os.Stdout, logFile)
		}

		// sh -e so the first failing command inside a multi-line script
		// aborts the action with its exit status.
		cmd := exec.Command("sh", "-ce", action.Script)
		cmd.Dir = workdir
		cmd.Env = env
		cmd.Stdout = out
		cmd.Stderr = out

		if err := execCtx.Run(cmd); err != nil {
			fmt.Fprintf(logFile, "\n== %s: %s FAILED: %v ==\n", st.Name, action.Name, err)
			return 0, fmt.Errorf("stage %s: action %s failed: %w (see %s)", st.Name, action.Name, err, logPath)
		}
	}

	// Trim build-only artifacts right after install to bound peak disk use.
	// Patterns resolve against the app's staged prefix.
	if err := removeGlobs(appStagingRoot(), st.PostClean); err != nil {
		return 0, fmt.Errorf("stage %s: post-install cleanup failed: %w", st.Name, err)
	}

	elapsed := time.Since(startTime)
	fmt.Fprintf(logFile, "\n== %s finished in %s ==\n", st.Name, elapsed.Truncate(time.Second))
	logFile.Close()

	if err := compressLog(logPath); err != nil {
		debugf("Warning: failed to compress log %s: %v\n", logPath, err)
	}

	arrowPrintf(colSuccess, "Stage %s finished in %s\n", st.Name, elapsed.Truncate(time.Second))
	return elapsed, nil
}

// runPipeline executes the named stages strictly sequentially in the order
// given.
func runPipeline(names []string, cfg *Config, execCtx *Executor) error {
	for _, name := range names {
		st, err := lookupStage(name)
		if err != nil {
			return err
		}
		if _, err := runStage(st, cfg, execCtx); err != nil {
			return err
		}
	}
	return nil
}
