package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nspawnhost/nspawnd/pkg/types"
)

var portForwardCmd = &cobra.Command{
	Use:   "port-forward",
	Short: "Manage host-to-container DNAT port-forward rules",
}

var portForwardAddCmd = &cobra.Command{
	Use:   "add CONTAINER_NAME CONTAINER_IP HOST_PORT CONTAINER_PORT",
	Short: "Install a port-forward rule",
	Args:  cobra.ExactArgs(4),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		hostPort, err := parsePort(args[2])
		if err != nil {
			return fmt.Errorf("host port: %w", err)
		}
		containerPort, err := parsePort(args[3])
		if err != nil {
			return fmt.Errorf("container port: %w", err)
		}
		proto, _ := cmd.Flags().GetString("protocol")

		rule, err := a.portfwd.Add(context.Background(), args[0], args[1], hostPort, containerPort, types.Protocol(proto))
		if err != nil {
			return err
		}
		fmt.Printf("✓ Forwarding %d/%s -> %s:%d\n", rule.HostPort, rule.Protocol, args[0], rule.ContainerPort)
		return nil
	}),
}

var portForwardRemoveCmd = &cobra.Command{
	Use:   "remove RULE_ID CONTAINER_IP",
	Short: "Remove a port-forward rule",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		if err := a.portfwd.Remove(context.Background(), args[1], args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Removed rule: %s\n", args[0])
		return nil
	}),
}

var portForwardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every persisted port-forward rule",
	RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
		rules, err := a.portfwd.List(context.Background())
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("No port-forward rules found")
			return nil
		}
		fmt.Printf("%-36s %-10s %-20s %-15s %s\n", "ID", "HOST PORT", "CONTAINER", "CONTAINER PORT", "PROTOCOL")
		for _, r := range rules {
			fmt.Printf("%-36s %-10d %-20s %-15d %s\n", r.ID, r.HostPort, r.ContainerID, r.ContainerPort, r.Protocol)
		}
		return nil
	}),
}

func init() {
	portForwardAddCmd.Flags().String("protocol", "tcp", "tcp or udp")
	portForwardCmd.AddCommand(portForwardAddCmd)
	portForwardCmd.AddCommand(portForwardRemoveCmd)
	portForwardCmd.AddCommand(portForwardListCmd)
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}
