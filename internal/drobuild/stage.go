package drobuild

import (
	"fmt"
	"path"
	"strings"
)

// Format identifies how a cached artifact is unpacked.
type Format string

const (
	FormatTarGz  Format = "tar.gz"
	FormatTarBz2 Format = "tar.bz2"
	FormatTarXz  Format = "tar.xz"
	FormatTarZst Format = "tar.zst"
	FormatTar    Format = "tar"
	FormatZip    Format = "zip"
	FormatGit    Format = "git"
	FormatFile   Format = "file"
)

// Source identifies a remote artifact and its cache entry.
type Source struct {
	URL        string
	File       string // cache filename; defaults to the URL basename
	Format     Format // defaults to a suffix sniff on File
	Ref        string // branch or tag for git sources
	ListingURL string // upstream release listing, used by 'outdated'
}

// cacheName returns the flat cache filename for this source.
func (s *Source) cacheName() string {
	if s.File != "" {
		return s.File
	}
	return path.Base(s.URL)
}

// format returns the declared format, sniffing from the filename if unset.
func (s *Source) format() Format {
	if s.Format != "" {
		return s.Format
	}
	return formatForFile(s.cacheName())
}

func formatForFile(name string) Format {
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(name, ".tar.bz2"):
		return FormatTarBz2
	case strings.HasSuffix(name, ".tar.xz"):
		return FormatTarXz
	case strings.HasSuffix(name, ".tar.zst"):
		return FormatTarZst
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	default:
		return FormatFile
	}
}

// Action is one named shell step run inside a stage's working directory.
type Action struct {
	Name   string
	Script string
}

// Stage is one named unit of work: fetch, extract, run build actions,
// install into the shared destination root.
type Stage struct {
	Name      string
	Requires  []string // names of stages whose outputs must exist first
	Source    Source
	Dir       string            // working directory name; defaults to Name
	Version   string            // declared upstream version
	Env       map[string]string // extra environment for this stage's actions
	Actions   []Action
	PostClean []string // glob patterns under DestDir removed after install
}

func (st *Stage) workName() string {
	if st.Dir != "" {
		return st.Dir
	}
	return st.Name
}

// Stage registry. Populated at startup; looked up by exact key with a
// defined "not found" error path.
var (
	stageRegistry = make(map[string]*Stage)
	stageOrder    []string // declaration order
)

func registerStage(st *Stage) {
	if _, dup := stageRegistry[st.Name]; dup {
		panic(fmt.Sprintf("stage %q registered twice", st.Name))
	}
	stageRegistry[st.Name] = st
	stageOrder = append(stageOrder, st.Name)
}

func lookupStage(name string) (*Stage, error) {
	st, ok := stageRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownTarget, name)
	}
	return st, nil
}

// pipelineStages returns every registered stage in an order that satisfies
// all declared predecessors. Declaration order is the tiebreak, so today's
// simple ncurses-before-htop chain comes out unchanged.
func pipelineStages() ([]string, error) {
	return topoSort(stageRegistry, stageOrder)
}

func topoSort(registry map[string]*Stage, declOrder []string) ([]string, error) {
	visited := make(map[string]int) // 0 unseen, 1 in progress, 2 done
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("dependency cycle involving stage %s", name)
		}
		st, ok := registry[name]
		if !ok {
			return fmt.Errorf("%w: %s", errUnknownTarget, name)
		}
		visited[name] = 1
		for _, req := range st.Requires {
			if err := visit(req); err != nil {
				return err
			}
		}
		visited[name] = 2
		order = append(order, name)
		return nil
	}

	for _, name := range declOrder {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
