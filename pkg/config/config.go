// Package config loads nspawnd's daemon configuration from built-in
// defaults, an optional config file, environment variables, and
// command-line flags, in that order of increasing precedence, using Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every setting the provisioning pipeline, lifecycle
// controller, and port-forward store need at startup, plus the
// HOST/PORT/admin-credentials inputs spec.md §6 lists as environment
// inputs for whatever front end (HTTP surface, nspawnctl) embeds this
// package — the core itself never binds a socket with them.
type Config struct {
	// MachinesDir is the root directory under which each container's
	// filesystem lives (one subdirectory per container name).
	MachinesDir string

	// UnitsDir is where each container's generated host unit file is
	// written, as <UnitsDir>/<name>.
	UnitsDir string

	// StateDir holds nspawnd's own BoltDB state file.
	StateDir string

	// Bridge is the host bridge interface containers are attached to.
	Bridge string

	// LogLevel and LogJSON mirror the teacher's log.Config fields.
	LogLevel string
	LogJSON  bool

	// MetricsAddr is the address the Prometheus /metrics endpoint binds to.
	MetricsAddr string

	// Host and Port are the bind address spec.md §6 says an embedding
	// HTTP surface reads from this package; out of scope per spec.md
	// §1, this package only surfaces the values.
	Host string
	Port int

	// AdminCredentialsFile is the path to the config file holding admin
	// credentials, read once at startup per spec.md §6. Persistent
	// user-account storage is out of scope; this package only carries
	// the path through, it never parses or stores the credentials.
	AdminCredentialsFile string
}

// defaults mirrors the flag defaults below; Viper needs them registered
// separately since it does not read zero values out of pflag.
var defaults = map[string]any{
	"machines_dir":           "/var/lib/machines",
	"units_dir":              "/etc/systemd/nspawn",
	"state_dir":              "/var/lib/nspawnd",
	"bridge":                 "br-nspawn",
	"log_level":              "info",
	"log_json":               false,
	"metrics_addr":           "127.0.0.1:9100",
	"host":                   "0.0.0.0",
	"port":                   8443,
	"admin_credentials_file": "",
}

// BindFlags registers the flags config.Load reads, in the teacher's
// cobra-persistent-flag style (cmd/warren/main.go's --log-level,
// --log-json, --data-dir). Call once, from a command's init().
func BindFlags(flags *pflag.FlagSet) {
	flags.String("machines-dir", defaults["machines_dir"].(string), "Root directory for container filesystems")
	flags.String("units-dir", defaults["units_dir"].(string), "Directory for generated systemd-nspawn unit files")
	flags.String("state-dir", defaults["state_dir"].(string), "Directory for nspawnd's BoltDB state file")
	flags.String("bridge", defaults["bridge"].(string), "Host bridge interface containers attach to")
	flags.String("log-level", defaults["log_level"].(string), "Log level (debug, info, warn, error)")
	flags.Bool("log-json", defaults["log_json"].(bool), "Output logs in JSON format")
	flags.String("metrics-addr", defaults["metrics_addr"].(string), "Bind address for the Prometheus /metrics endpoint")
	flags.String("host", defaults["host"].(string), "Bind address for an embedding HTTP surface")
	flags.Int("port", defaults["port"].(int), "Bind port for an embedding HTTP surface")
	flags.String("admin-credentials-file", defaults["admin_credentials_file"].(string), "Path to the admin credentials file")
}

// Load builds a Config from (in increasing precedence) defaults, an
// optional config file, NSPAWND_-prefixed environment variables, and
// already-parsed command-line flags. configFile may be empty, in which
// case nspawnd.yaml (if present) is looked up in the working directory
// and then in /etc/nspawnd.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("nspawnd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("nspawnd")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/nspawnd")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	if flags != nil {
		for key := range defaults {
			if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flags: %w", err)
				}
			}
		}
	}

	return &Config{
		MachinesDir:          v.GetString("machines_dir"),
		UnitsDir:             v.GetString("units_dir"),
		StateDir:             v.GetString("state_dir"),
		Bridge:               v.GetString("bridge"),
		LogLevel:             v.GetString("log_level"),
		LogJSON:              v.GetBool("log_json"),
		MetricsAddr:          v.GetString("metrics_addr"),
		Host:                 v.GetString("host"),
		Port:                 v.GetInt("port"),
		AdminCredentialsFile: v.GetString("admin_credentials_file"),
	}, nil
}
