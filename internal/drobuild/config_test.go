package drobuild

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigParsesKeyValueFile(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "drobuild.conf")
	content := `# comment line
DROBUILD_APP = myapp
DROBUILD_VERSION="2.5"
DROBUILD_JOBS='3'

malformed line without equals
DROBUILD_HOST=arm-marvell-linux-gnueabi
`
	require.NoError(t, os.WriteFile(confPath, []byte(content), 0o644))

	cfg, err := loadConfig(confPath)
	require.NoError(t, err)

	assert.Equal(t, "myapp", cfg.Values["DROBUILD_APP"])
	assert.Equal(t, "2.5", cfg.Values["DROBUILD_VERSION"])
	assert.Equal(t, "3", cfg.Values["DROBUILD_JOBS"])
	assert.Equal(t, "arm-marvell-linux-gnueabi", cfg.Values["DROBUILD_HOST"])
	assert.NotContains(t, cfg.Values, "malformed line without equals")
}

func TestLoadConfigMergesEnvOverrides(t *testing.T) {
	t.Setenv("DROBUILD_APP", "envapp")

	dir := t.TempDir()
	confPath := filepath.Join(dir, "drobuild.conf")
	require.NoError(t, os.WriteFile(confPath, []byte("DROBUILD_APP=fileapp\n"), 0o644))

	cfg, err := loadConfig(confPath)
	require.NoError(t, err)
	assert.Equal(t, "envapp", cfg.Values["DROBUILD_APP"], "environment must win over the config file")
}

func TestLoadConfigMissingFileIsNotFatal(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	require.NoError(t, err)
	assert.NotNil(t, cfg.Values)
}

func TestInitConfigDefaults(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{Values: map[string]string{"DROBUILD_ROOT": root}}
	initConfig(cfg)

	assert.Equal(t, filepath.Join(root, "cache"), CacheDir)
	assert.Equal(t, filepath.Join(root, "target"), WorkDir)
	assert.Equal(t, filepath.Join(root, "dest"), DestDir)
	assert.Equal(t, "htop", AppName)
	assert.Equal(t, "arm-none-linux-gnueabi", CrossHost)
	assert.Equal(t, "/mnt/DroboFS/Shares/DroboApps/htop", InstallPrefix)
	assert.Equal(t, runtime.NumCPU(), BuildJobs)
	assert.True(t, WantStrip)
	assert.Equal(t, int64(512), MemWarnMB)
	assert.Equal(t, int64(2048), DiskWarnMB)
	assert.Equal(t, filepath.Join(root, "htop.tgz"), archivePath())
}

func TestInitConfigInvalidNumbersFallBack(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"DROBUILD_ROOT":        t.TempDir(),
		"DROBUILD_JOBS":        "not-a-number",
		"DROBUILD_MEM_WARN_MB": "-5",
	}}
	initConfig(cfg)

	assert.Equal(t, runtime.NumCPU(), BuildJobs)
	assert.Equal(t, int64(512), MemWarnMB)
}

func TestInitConfigIdlePriority(t *testing.T) {
	cfg := &Config{Values: map[string]string{"DROBUILD_ROOT": t.TempDir()}}
	initConfig(cfg)
	assert.False(t, IdleBuild)

	cfg.Values["DROBUILD_NICE"] = "1"
	initConfig(cfg)
	assert.True(t, IdleBuild)
}

func TestInitConfigExplicitEmptyHostMeansNative(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"DROBUILD_ROOT": t.TempDir(),
		"DROBUILD_HOST": "",
	}}
	initConfig(cfg)
	assert.Equal(t, "", CrossHost)
}
