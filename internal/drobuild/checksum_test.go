package drobuild

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "src.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("fixed content"), 0o644))

	first, err := hashFile(path)
	require.NoError(t, err)
	second, err := hashFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	require.NoError(t, os.WriteFile(path, []byte("different content"), 0o644))
	third, err := hashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestLoadChecksums(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "checksums.b3")
	content := "# sources for htop\n" +
		"aabbcc  ncurses-6.1.tar.gz\n" +
		"\n" +
		"malformed-line-without-file\n" +
		"ddeeff  htop-2.2.0.tar.gz\n"
	require.NoError(t, os.WriteFile(manifest, []byte(content), 0o644))

	sums, err := loadChecksums(manifest)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"ncurses-6.1.tar.gz": "aabbcc",
		"htop-2.2.0.tar.gz":  "ddeeff",
	}, sums)
}

func TestLoadChecksumsMissingManifest(t *testing.T) {
	sums, err := loadChecksums(filepath.Join(t.TempDir(), "nope.b3"))
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestVerifySourceChecksum(t *testing.T) {
	setupTestEnv(t)

	cachePath := filepath.Join(t.TempDir(), "pkg-1.0.tar.gz")
	require.NoError(t, os.WriteFile(cachePath, []byte("payload"), 0o644))
	sum, err := hashFile(cachePath)
	require.NoError(t, err)

	st := &Stage{Name: "pkg", Source: Source{URL: "http://example.com/pkg-1.0.tar.gz"}}

	// No manifest entry: accepted.
	require.NoError(t, verifySourceChecksum(st, cachePath))

	// Matching entry: accepted.
	require.NoError(t, os.WriteFile(ChecksumsFile, []byte(sum+"  pkg-1.0.tar.gz\n"), 0o644))
	require.NoError(t, verifySourceChecksum(st, cachePath))

	// Mismatching entry: fatal.
	bad := "00" + sum[2:]
	require.NoError(t, os.WriteFile(ChecksumsFile, []byte(bad+"  pkg-1.0.tar.gz\n"), 0o644))
	err = verifySourceChecksum(st, cachePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}
