package drobuild

import (
	"errors"
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	rootDir    string
	CacheDir   string
	WorkDir    string
	DestDir    string
	LogDir     string
	OverlayDir string

	AppName    string
	AppVersion string

	CrossHost      string
	ToolchainDir   string
	InstallPrefix  string
	BuildJobs      int
	WantStrip      bool
	IdleBuild      bool
	Debug          bool
	Verbose        bool
	MemWarnMB      int64
	DiskWarnMB     int64
	ChecksumsFile  string
	ConfigFile     = "/etc/drobuild.conf"

	version   = "dev" // default version; overridden at build time
	arch      = runtime.GOARCH
	buildDate = "unknown" // overridden at build time

	errUnknownTarget = errors.New("unknown target")

	// Global executor (declared, assigned in Main)
	UserExec *Executor
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
