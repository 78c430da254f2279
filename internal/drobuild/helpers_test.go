package drobuild

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"sort"
	"testing"

	"github.com/klauspost/pgzip"
)

// setupTestEnv points every directory global into a fresh temp root and
// configures a native (non-cross) build with stripping disabled.
func setupTestEnv(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	cfg := &Config{Values: map[string]string{
		"DROBUILD_ROOT":   root,
		"DROBUILD_HOST":   "",
		"DROBUILD_STRIP":  "0",
		"DROBUILD_PREFIX": "/apps/htop",
	}}
	initConfig(cfg)
	UserExec = &Executor{Context: context.Background()}
	return cfg
}

// writeTarGz builds a gzipped tar at path from the given entries. Names
// ending in "/" become directories. Entries are written in sorted order.
func writeTarGz(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gw := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, name := range names {
		content := entries[name]
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if name[len(name)-1] == '/' {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(content)); err != nil {
				t.Fatalf("write tar entry: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}
