package drobuild

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config struct
type Config struct {
	Values       map[string]string
	DefaultStrip bool
}

// Load /etc/drobuild.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge DROBUILD_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge DROBUILD_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "DROBUILD_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func (cfg *Config) intValue(key string, def int64) int64 {
	if raw := cfg.Values[key]; raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			return v
		}
		debugf("Invalid value for %s: %q, using default %d\n", key, cfg.Values[key], def)
	}
	return def
}

func initConfig(cfg *Config) {
	rootDir = cfg.Values["DROBUILD_ROOT"]
	if rootDir == "" {
		rootDir = "."
	}

	CacheDir = cfg.Values["DROBUILD_CACHE_DIR"]
	if CacheDir == "" {
		CacheDir = filepath.Join(rootDir, "cache")
	}

	WorkDir = cfg.Values["DROBUILD_WORK_DIR"]
	if WorkDir == "" {
		WorkDir = filepath.Join(rootDir, "target")
	}

	DestDir = cfg.Values["DROBUILD_DEST_DIR"]
	if DestDir == "" {
		DestDir = filepath.Join(rootDir, "dest")
	}

	LogDir = cfg.Values["DROBUILD_LOG_DIR"]
	if LogDir == "" {
		LogDir = filepath.Join(rootDir, "logs")
	}

	OverlayDir = cfg.Values["DROBUILD_OVERLAY_DIR"]
	if OverlayDir == "" {
		OverlayDir = filepath.Join(rootDir, "overlay")
	}

	AppName = cfg.Values["DROBUILD_APP"]
	if AppName == "" {
		AppName = "htop"
	}
	AppVersion = cfg.Values["DROBUILD_VERSION"]
	if AppVersion == "" {
		AppVersion = "1.0"
	}

	// An explicitly empty DROBUILD_HOST selects a native build.
	if v, ok := cfg.Values["DROBUILD_HOST"]; ok {
		CrossHost = v
	} else {
		CrossHost = "arm-none-linux-gnueabi"
	}
	ToolchainDir = cfg.Values["DROBUILD_TOOLCHAIN"]

	InstallPrefix = cfg.Values["DROBUILD_PREFIX"]
	if InstallPrefix == "" {
		InstallPrefix = "/mnt/DroboFS/Shares/DroboApps/" + AppName
	}

	BuildJobs = int(cfg.intValue("DROBUILD_JOBS", int64(runtime.NumCPU())))

	Debug = cfg.Values["DROBUILD_DEBUG"] == "1"
	Verbose = cfg.Values["DROBUILD_VERBOSE"] == "1"

	cfg.DefaultStrip = cfg.Values["DROBUILD_STRIP"] != "0"
	WantStrip = cfg.DefaultStrip

	// Run external build commands at idle priority so long compiles do not
	// starve the rest of the host.
	IdleBuild = cfg.Values["DROBUILD_NICE"] == "1"

	// Advisory resource thresholds; warnings only, never fatal.
	MemWarnMB = cfg.intValue("DROBUILD_MEM_WARN_MB", 512)
	DiskWarnMB = cfg.intValue("DROBUILD_DISK_WARN_MB", 2048)

	ChecksumsFile = cfg.Values["DROBUILD_CHECKSUMS"]
	if ChecksumsFile == "" {
		ChecksumsFile = filepath.Join(rootDir, "checksums")
	}
}

// archivePath is where the final package archive is written.
func archivePath() string {
	return filepath.Join(rootDir, AppName+".tgz")
}
