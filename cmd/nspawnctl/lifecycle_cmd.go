package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start NAME",
	Short: "Start a stopped container",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		if err := a.lifecycle.Start(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Started: %s\n", args[0])
		return nil
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Stop a running container (graceful poweroff)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		if err := a.lifecycle.Stop(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Stopped: %s\n", args[0])
		return nil
	}),
}

var restartCmd = &cobra.Command{
	Use:   "restart NAME",
	Short: "Restart a container",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		if err := a.lifecycle.Restart(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Restarted: %s\n", args[0])
		return nil
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Stop and permanently remove a container",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		if err := a.lifecycle.Delete(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Deleted: %s\n", args[0])
		return nil
	}),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known container",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		records, err := a.lifecycle.List(context.Background())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No containers found")
			return nil
		}
		fmt.Printf("%-20s %-10s %-20s %s\n", "NAME", "STATUS", "DISTRO", "ADDRESSES")
		for _, r := range records {
			fmt.Printf("%-20s %-10s %-20s %v\n", r.ID, r.Status, r.Distro, r.Addresses)
		}
		return nil
	}),
}

var inspectCmd = &cobra.Command{
	Use:   "inspect NAME",
	Short: "Show detailed container state",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		record, err := a.lifecycle.Inspect(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Name:      %s\n", record.ID)
		fmt.Printf("Status:    %s\n", record.Status)
		fmt.Printf("Distro:    %s\n", record.Distro)
		fmt.Printf("CPU quota: %d%%\n", record.CPUQuotaPercent)
		fmt.Printf("Memory:    %d MB\n", record.MemoryMB)
		fmt.Printf("Disk:      %d GB\n", record.DiskGB)
		fmt.Printf("Addresses: %v\n", record.Addresses)
		fmt.Printf("Uptime:    %s\n", record.Uptime)
		fmt.Printf("Created:   %s\n", record.CreatedAt)
		if len(record.Labels) > 0 {
			fmt.Println("Labels:")
			for k, v := range record.Labels {
				fmt.Printf("  %s: %s\n", k, v)
			}
		}
		return nil
	}),
}

// withApp wires an *app for a subcommand, runs fn, and guarantees
// cleanup even if fn returns early.
func withApp(fn func(a *app, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp(cmd)
		if err != nil {
			return fmt.Errorf("initializing: %w", err)
		}
		defer cleanup()
		return fn(a, cmd, args)
	}
}
