package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iosweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mpirun", cfg.Launcher.Executable)
	assert.Equal(t, "eth0", cfg.Launcher.Interface)
	assert.Equal(t, "ob1", cfg.Launcher.PML)
	assert.Equal(t, "tcp,self", cfg.Launcher.BTL)
	assert.Equal(t, "ior", cfg.Launcher.IOR)
	assert.Equal(t, "mdtest", cfg.Launcher.MDTest)
	assert.Equal(t, ".", cfg.Sweep.LogDir)
	assert.Equal(t, time.Duration(0), cfg.Sweep.Cooldown)
	assert.Equal(t, "./data/iosweep.db", cfg.Database.Path)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 22, cfg.Archive.Port)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
launcher:
  interface: ib0
  ior: /opt/ior/bin/ior
sweep:
  cooldown: 30s
  log_dir: /scratch/logs
database:
  path: ""
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ib0", cfg.Launcher.Interface)
	assert.Equal(t, "/opt/ior/bin/ior", cfg.Launcher.IOR)
	assert.Equal(t, "mdtest", cfg.Launcher.MDTest)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Cooldown)
	assert.Equal(t, "/scratch/logs", cfg.Sweep.LogDir)
	assert.Empty(t, cfg.Database.Path)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_WithEnvVars(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IOSWEEP_LAUNCHER_INTERFACE", "ib1")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ib1", cfg.Launcher.Interface)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Launcher: LauncherConfig{Executable: "mpirun", IOR: "ior", MDTest: "mdtest"},
			API:      APIConfig{Port: 8080},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty launcher", func(c *Config) { c.Launcher.Executable = "" }, "launcher.executable"},
		{"empty benchmark", func(c *Config) { c.Launcher.MDTest = "" }, "launcher.ior and launcher.mdtest"},
		{"negative cooldown", func(c *Config) { c.Sweep.Cooldown = -time.Second }, "sweep.cooldown"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"archive without host", func(c *Config) {
			c.Archive = ArchiveConfig{Enabled: true, User: "u", KeyFile: "k", RemoteDir: "/r"}
		}, "archive.host"},
		{"archive without key", func(c *Config) {
			c.Archive = ArchiveConfig{Enabled: true, Host: "h", User: "u", RemoteDir: "/r"}
		}, "archive.key_file"},
		{"archive complete", func(c *Config) {
			c.Archive = ArchiveConfig{Enabled: true, Host: "h", Port: 22, User: "u", KeyFile: "k", RemoteDir: "/r"}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
