package drobuild

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envValue returns the effective value of key: the last occurrence wins,
// matching how the kernel resolves duplicate environment entries.
func envValue(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], key+"=") {
			return strings.TrimPrefix(env[i], key+"=")
		}
	}
	return ""
}

func TestBuildEnvNative(t *testing.T) {
	setupTestEnv(t)

	st := &Stage{Name: "env-native-test"}
	env, err := buildEnv(st)
	require.NoError(t, err)

	assert.Equal(t, "gcc", envValue(env, "CC"))
	assert.Equal(t, "/apps/htop", envValue(env, "PREFIX"))
	assert.True(t, filepath.IsAbs(envValue(env, "DESTDIR")), "DESTDIR must be absolute")
	assert.Contains(t, envValue(env, "MAKEFLAGS"), "-j")
	assert.Contains(t, envValue(env, "CPPFLAGS"), filepath.Join("apps", "htop", "include"))
	assert.Contains(t, envValue(env, "LDFLAGS"), filepath.Join("apps", "htop", "lib"))
}

func TestBuildEnvCrossToolchain(t *testing.T) {
	setupTestEnv(t)
	CrossHost = "arm-marvell-linux-gnueabi"

	st := &Stage{Name: "env-cross-test", Env: map[string]string{"EXTRA": "1"}}
	env, err := buildEnv(st)
	require.NoError(t, err)

	assert.Equal(t, "arm-marvell-linux-gnueabi-gcc", envValue(env, "CC"))
	assert.Equal(t, "arm-marvell-linux-gnueabi-strip", envValue(env, "STRIP"))
	assert.Equal(t, "arm-marvell-linux-gnueabi", envValue(env, "HOST"))
	assert.Equal(t, "1", envValue(env, "EXTRA"), "stage env must be merged in")
	assert.Equal(t, "-Os -pipe -fPIC", envValue(env, "CFLAGS"))
}

// seedStage registers nothing; it just prepares a cached source archive so
// runStage never needs the network.
func seedStage(t *testing.T, name string) *Stage {
	t.Helper()
	require.NoError(t, os.MkdirAll(CacheDir, 0o755))
	file := name + "-1.0.tar.gz"
	writeTarGz(t, filepath.Join(CacheDir, file), map[string]string{
		name + "-1.0/":       "",
		name + "-1.0/README": "test source",
	})
	return &Stage{
		Name:    name,
		Version: "1.0",
		Source:  Source{URL: "http://127.0.0.1:1/" + file},
	}
}

func TestRunStageExecutesActionsInOrder(t *testing.T) {
	cfg := setupTestEnv(t)

	st := seedStage(t, "runstage")
	st.Actions = []Action{
		{Name: "configure", Script: `test -f README`},
		{Name: "install", Script: `mkdir -p "$DESTDIR$PREFIX/bin" && printf built > "$DESTDIR$PREFIX/bin/tool"`},
	}

	_, err := runStage(st, cfg, UserExec)
	require.NoError(t, err)

	installed := filepath.Join(DestDir, "apps", "htop", "bin", "tool")
	data, err := os.ReadFile(installed)
	require.NoError(t, err)
	assert.Equal(t, "built", string(data))

	// The run log is persisted compressed, the plain file removed.
	assert.FileExists(t, stageLogPath("runstage")+".xz")
	assert.NoFileExists(t, stageLogPath("runstage"))

	content, err := readLog("runstage")
	require.NoError(t, err)
	assert.Contains(t, content, "runstage: configure")
	assert.Contains(t, content, "runstage: install")
}

func TestRunStageFirstFailureAborts(t *testing.T) {
	cfg := setupTestEnv(t)

	st := seedStage(t, "failstage")
	st.Actions = []Action{
		{Name: "configure", Script: `exit 3`},
		{Name: "install", Script: `mkdir -p "$DESTDIR$PREFIX/bin" && touch "$DESTDIR$PREFIX/bin/should-not-exist"`},
	}

	_, err := runStage(st, cfg, UserExec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configure")
	assert.NoFileExists(t, filepath.Join(DestDir, "apps", "htop", "bin", "should-not-exist"))
}

func TestRunStagePostCleanTrimsInstallRoot(t *testing.T) {
	cfg := setupTestEnv(t)

	st := seedStage(t, "cleanstage")
	st.Actions = []Action{
		{Name: "install", Script: `mkdir -p "$DESTDIR$PREFIX/lib" && touch "$DESTDIR$PREFIX/lib/libfoo.a" "$DESTDIR$PREFIX/lib/libfoo.so"`},
	}
	st.PostClean = []string{"lib/*.a"}

	_, err := runStage(st, cfg, UserExec)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(DestDir, "apps", "htop", "lib", "libfoo.a"))
	assert.FileExists(t, filepath.Join(DestDir, "apps", "htop", "lib", "libfoo.so"))
}

func TestRunPipelineEarlierStageOutputsVisible(t *testing.T) {
	cfg := setupTestEnv(t)

	a := seedStage(t, "chain-a")
	a.Actions = []Action{
		{Name: "install", Script: `mkdir -p "$DESTDIR$PREFIX/share" && touch "$DESTDIR$PREFIX/share/a.marker"`},
	}
	b := seedStage(t, "chain-b")
	b.Requires = []string{"chain-a"}
	b.Actions = []Action{
		// Fails unless chain-a's install output is already on disk.
		{Name: "configure", Script: `test -f "$DESTDIR$PREFIX/share/a.marker"`},
	}
	registerStage(a)
	registerStage(b)

	require.NoError(t, runPipeline([]string{"chain-a", "chain-b"}, cfg, UserExec))
}

func TestRunPipelineUnknownStage(t *testing.T) {
	cfg := setupTestEnv(t)
	err := runPipeline([]string{"no-such-stage-xyz"}, cfg, UserExec)
	require.Error(t, err)
}
