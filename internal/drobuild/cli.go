package drobuild

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: drobuild [target ...]")
	colSuccess.Println("With no targets the full pipeline runs: every build stage, then package")
	fmt.Println()
	colInfo.Println("Available Targets:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"all", "", "Run every build stage in dependency order, then package"},
		{"<stage>", "", "Run one build stage (" + strings.Join(stageOrder, ", ") + ")"},
		{"package", "", "Assemble the distributable archive from the install root"},
		{"check", "", "Report available memory and disk space"},
		{"clean", "", "Remove working directories, install root and archive"},
		{"distclean", "", "Clean plus download cache and logs"},
		{"checksum", "", "Fetch sources and regenerate the checksum manifest"},
		{"log", "[stage]", "View persisted build logs"},
		{"publish", "", "Upload the package archive to the release bucket"},
		{"outdated", "", "Check upstream for newer source releases"},
		{"version, --version", "", "Version information"},
	}

	// Find the longest usage string to calculate the first column width.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))

		colInfo.Println(c.Desc)
	}
	fmt.Println()
}

// operation is one resolved CLI token ready to execute.
type operation struct {
	name string
	run  func(execCtx *Executor, cfg *Config) error
}

// resolveTokens maps every CLI token to an operation before anything runs,
// so an unknown target executes zero stages.
func resolveTokens(tokens []string) ([]operation, error) {
	var ops []operation
	for _, tok := range tokens {
		switch tok {
		case "all":
			ops = append(ops, operation{name: "all", run: func(execCtx *Executor, cfg *Config) error {
				names, err := pipelineStages()
				if err != nil {
					return err
				}
				if err := runPipeline(names, cfg, execCtx); err != nil {
					return err
				}
				_, err = packageApp(cfg, execCtx)
				return err
			}})
		case "package":
			ops = append(ops, operation{name: "package", run: func(execCtx *Executor, cfg *Config) error {
				_, err := packageApp(cfg, execCtx)
				return err
			}})
		case "check":
			ops = append(ops, operation{name: "check", run: func(execCtx *Executor, cfg *Config) error {
				return checkResources()
			}})
		case "clean":
			ops = append(ops, operation{name: "clean", run: func(execCtx *Executor, cfg *Config) error {
				return cleanBuild()
			}})
		case "distclean":
			ops = append(ops, operation{name: "distclean", run: func(execCtx *Executor, cfg *Config) error {
				return distClean()
			}})
		default:
			st, err := lookupStage(tok)
			if err != nil {
				return nil, err
			}
			ops = append(ops, operation{name: st.Name, run: func(execCtx *Executor, cfg *Config) error {
				_, err := runStage(st, cfg, execCtx)
				return err
			}})
		}
	}
	return ops, nil
}

// dispatch resolves all tokens, then executes each fully before the next
// begins. With no tokens the default full pipeline runs.
func dispatch(tokens []string, cfg *Config, execCtx *Executor) error {
	if len(tokens) == 0 {
		tokens = []string{"all"}
	}
	ops, err := resolveTokens(tokens)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := op.run(execCtx, cfg); err != nil {
			return fmt.Errorf("%s: %w", op.name, err)
		}
	}
	return nil
}

// cleanBuild removes the disposable build state: working directories, the
// install root and any produced archive. The download cache survives.
func cleanBuild() error {
	arrowPrintln(colSuccess, "Cleaning working directories and install root")
	for _, dir := range []string{WorkDir, DestDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	if err := os.Remove(archivePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove archive: %w", err)
	}
	return nil
}

// distClean additionally drops the download cache and persisted logs.
func distClean() error {
	if err := cleanBuild(); err != nil {
		return err
	}
	arrowPrintln(colSuccess, "Removing download cache and logs")
	for _, dir := range []string{CacheDir, LogDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	return nil
}

// Main is the CLI entrypoint for cmd/drobuild.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Printf("Received %v. Cancelling build gracefully\n", sig)
				cancel()

				// Give the child process group a moment to die, then force
				// exit on a second signal or timeout.
				select {
				case <-sigs:
					colArrow.Print("\n-> ")
					color.Danger.Println("Second interrupt received. Forcing immediate exit.")
					os.Exit(130)
				case <-time.After(2 * time.Second):
					colArrow.Print("\n-> ")
					color.Danger.Println("Graceful shutdown timeout. Exiting.")
					os.Exit(130)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	configPath := ConfigFile
	if root := os.Getenv("DROBUILD_ROOT"); root != "" {
		if alt := filepath.Join(root, "drobuild.conf"); fileExists(alt) {
			configPath = alt
		}
	} else if fileExists("drobuild.conf") {
		configPath = "drobuild.conf"
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read config %s: %v\n", configPath, err)
	}
	initConfig(cfg)

	UserExec = &Executor{Context: ctx, ApplyIdlePriority: IdleBuild}

	var runErr error
	args := os.Args[1:]
	first := ""
	if len(args) > 0 {
		first = args[0]
	}

	switch first {
	case "help", "-h", "--help":
		printHelp()
	case "version", "--version":
		colSuccess.Printf("drobuild %s (%s) built %s\n", version, arch, buildDate)
	case "log":
		runErr = showLog(args[1:])
	case "checksum":
		runErr = generateChecksums(cfg)
	case "publish":
		runErr = publishArchive(ctx, cfg)
	case "outdated":
		runErr = checkOutdated(cfg)
	default:
		runErr = dispatch(args, cfg, UserExec)
	}

	if runErr != nil {
		fmt.Fprint(os.Stderr, colError.Sprintf("Error: %v\n", runErr))
		cancel()
		os.Exit(1)
	}
	cancel()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
