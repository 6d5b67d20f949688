// Command nspawnctl is a thin operational CLI over the provisioning,
// lifecycle, and port-forward packages: the same role cmd/warren plays
// over pkg/manager and pkg/worker, just without a cluster or gRPC
// surface in front of it. It talks to the host directly, run by hand
// on the machine it manages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nspawnhost/nspawnd/pkg/config"
	"github.com/nspawnhost/nspawnd/pkg/log"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nspawnctl",
	Short: "Operate systemd-nspawn containers managed by nspawnd",
	Long: `nspawnctl provisions, inspects, and manages systemd-nspawn
containers: it drives the same Provisioning Pipeline, Lifecycle
Controller, and Port-Forward Rule Store an HTTP front end would, as a
direct library caller rather than over the network.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to an nspawnd.yaml config file")
	config.BindFlags(rootCmd.PersistentFlags())

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(portForwardCmd)
}

func initLogging() {
	cfg, err := config.Load(cfgFile, rootCmd.PersistentFlags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}
