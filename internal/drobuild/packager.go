package drobuild

import (
	"fmt"
	"os"
	"path/filepath"
)

// prunePatterns are the non-runtime artifacts removed from the staged app
// tree before packaging: headers, manuals, docs, info pages and build
// metadata that have no business on the appliance.
var prunePatterns = []string{
	"include",
	"share/man",
	"share/doc",
	"share/info",
	"man",
	"doc",
	"info",
	"lib/pkgconfig",
	"lib/*.la",
	"lib/charset.alias",
}

// packageExcludes is the final safety net applied while the archive is
// written, in case a stage re-created something prune already removed.
var packageExcludes = []string{
	"include",
	"share/man",
	"share/doc",
	"share/info",
	"*.la",
	"*.h",
}

// appStagingRoot is where the stages' DESTDIR installs land for this app.
func appStagingRoot() string {
	return filepath.Join(DestDir, InstallPrefix)
}

// packageApp assembles the final distributable archive from the shared
// install root: merge the static overlay, prune non-runtime files, strip
// binaries, then snapshot the tree with normalized ownership.
func packageApp(cfg *Config, execCtx *Executor) (string, error) {
	appRoot := appStagingRoot()
	if _, err := os.Stat(appRoot); err != nil {
		return "", fmt.Errorf("install root %s does not exist, run the build stages first", appRoot)
	}

	arrowPrintf(colSuccess, "Packaging %s %s\n", AppName, AppVersion)

	// 1. Merge statically staged extra files (service scripts etc).
	if info, err := os.Stat(OverlayDir); err == nil && info.IsDir() {
		debugf("Merging overlay %s into %s\n", OverlayDir, appRoot)
		if err := copyTree(OverlayDir, appRoot); err != nil {
			return "", fmt.Errorf("failed to merge overlay files: %w", err)
		}
	}

	// 2. Remove known non-runtime artifacts.
	if err := removeGlobs(appRoot, prunePatterns); err != nil {
		return "", fmt.Errorf("failed to prune install root: %w", err)
	}

	// 3. Strip binaries, tolerating per-file failures.
	if WantStrip {
		if err := stripTree(appRoot, execCtx); err != nil {
			return "", fmt.Errorf("strip discovery failed: %w", err)
		}
	} else {
		debugf("Stripping disabled by configuration\n")
	}

	// 4. Snapshot the tree; any stale archive is deleted first.
	archive := archivePath()
	if err := createPackageArchive(appRoot, archive, packageExcludes); err != nil {
		return "", err
	}

	info, err := os.Stat(archive)
	if err != nil {
		return "", err
	}
	arrowPrintf(colSuccess, "Package archive created: %s (%s)\n", archive, humanSize(info.Size()))
	return archive, nil
}
