package config

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFlagsOrEnv(t *testing.T) {
	cfg, err := Load("", pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/machines", cfg.MachinesDir)
	assert.Equal(t, "/etc/systemd/nspawn", cfg.UnitsDir)
	assert.Equal(t, "br-nspawn", cfg.Bridge)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8443, cfg.Port)
	assert.Empty(t, cfg.AdminCredentialsFile)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("NSPAWND_MACHINES_DIR", "/srv/containers")
	t.Setenv("NSPAWND_LOG_JSON", "true")

	cfg, err := Load("", pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.NoError(t, err)

	assert.Equal(t, "/srv/containers", cfg.MachinesDir)
	assert.True(t, cfg.LogJSON)
}

func TestLoad_HostPortAndAdminCredentialsFile(t *testing.T) {
	t.Setenv("NSPAWND_HOST", "127.0.0.1")
	t.Setenv("NSPAWND_PORT", "9443")
	t.Setenv("NSPAWND_ADMIN_CREDENTIALS_FILE", "/etc/nspawnd/admin.yaml")

	cfg, err := Load("", pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9443, cfg.Port)
	assert.Equal(t, "/etc/nspawnd/admin.yaml", cfg.AdminCredentialsFile)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("NSPAWND_BRIDGE", "br-from-env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse([]string{"--bridge=br-from-flag"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "br-from-flag", cfg.Bridge)
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/nspawnd.yaml"
	require.NoError(t, os.WriteFile(path, []byte("state_dir: /custom/state\nmetrics_addr: 0.0.0.0:9999\n"), 0644))

	cfg, err := Load(path, pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.NoError(t, err)

	assert.Equal(t, "/custom/state", cfg.StateDir)
	assert.Equal(t, "0.0.0.0:9999", cfg.MetricsAddr)
}

func TestLoad_MissingExplicitConfigFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/nspawnd.yaml", pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.Error(t, err)
}
