package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nspawnhost/nspawnd/pkg/types"
)

// containerSpecFile is the on-disk shape nspawnctl create -f accepts,
// the same apiVersion/kind/metadata/spec envelope cmd/warren/apply.go
// uses for its YAML resources.
type containerSpecFile struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   specFileMetadata `yaml:"metadata"`
	Spec       types.ContainerSpec `yaml:"spec"`
}

type specFileMetadata struct {
	Name string `yaml:"name"`
}

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Provision a new container",
	Long: `Provision a new container by running the full Provisioning
Pipeline: architecture detection, root filesystem bootstrap, shadow
and network configuration, optional SSH/WireGuard setup, host unit
file generation, and start.

Examples:
  nspawnctl create web-1 --distro debian:bookworm --root-password ...
  nspawnctl create -f container.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringP("file", "f", "", "YAML file describing the container (overrides positional NAME and flags)")
	createCmd.Flags().String("distro", "", "distro:release, e.g. debian:bookworm")
	createCmd.Flags().String("root-password", "", "Root password, at least 8 characters")
	createCmd.Flags().Int("cpu-quota-percent", 100, "CPU quota, 100 = one full core")
	createCmd.Flags().Int("memory-mb", 512, "Memory limit in MB")
	createCmd.Flags().Int("disk-gb", 10, "Disk quota in GB")
	createCmd.Flags().Bool("enable-ssh", false, "Install and enable an SSH server in the guest")
	createCmd.Flags().String("ipv6", "disabled", "disabled, native, sixin4, or wireguard")
	createCmd.Flags().String("wireguard-config", "", "WireGuard config blob (required if --ipv6=wireguard)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	spec, err := resolveContainerSpec(cmd, args)
	if err != nil {
		return err
	}

	a, cleanup, err := newApp(cmd)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	defer cleanup()

	sub := a.registry.Subscribe()
	defer a.registry.Unsubscribe(sub)

	fmt.Printf("Provisioning %s (%s)...\n", spec.Name, spec.Distro)
	go func() {
		for ev := range sub {
			if ev.Metadata["container_id"] != spec.Name {
				continue
			}
			if stage, ok := ev.Metadata["stage"]; ok {
				fmt.Printf("  [%s] stage: %s\n", spec.Name, stage)
			}
		}
	}()

	err = a.pipeline.Run(context.Background(), spec)
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	fmt.Printf("✓ Container created: %s\n", spec.Name)
	return nil
}

func resolveContainerSpec(cmd *cobra.Command, args []string) (types.ContainerSpec, error) {
	file, _ := cmd.Flags().GetString("file")
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return types.ContainerSpec{}, fmt.Errorf("reading %s: %w", file, err)
		}
		var resource containerSpecFile
		if err := yaml.Unmarshal(data, &resource); err != nil {
			return types.ContainerSpec{}, fmt.Errorf("parsing %s: %w", file, err)
		}
		spec := resource.Spec
		if spec.Name == "" {
			spec.Name = resource.Metadata.Name
		}
		return spec, nil
	}

	if len(args) != 1 {
		return types.ContainerSpec{}, fmt.Errorf("NAME is required when --file is not given")
	}

	distro, _ := cmd.Flags().GetString("distro")
	rootPassword, _ := cmd.Flags().GetString("root-password")
	cpuQuota, _ := cmd.Flags().GetInt("cpu-quota-percent")
	memoryMB, _ := cmd.Flags().GetInt("memory-mb")
	diskGB, _ := cmd.Flags().GetInt("disk-gb")
	enableSSH, _ := cmd.Flags().GetBool("enable-ssh")
	ipv6Raw, _ := cmd.Flags().GetString("ipv6")
	wgConfig, _ := cmd.Flags().GetString("wireguard-config")

	return types.ContainerSpec{
		Name:            args[0],
		Distro:          distro,
		RootPassword:    rootPassword,
		CPUQuotaPercent: cpuQuota,
		MemoryMB:        memoryMB,
		DiskGB:          diskGB,
		EnableSSH:       enableSSH,
		IPv6:            types.IPv6Mode(ipv6Raw),
		WireGuardConfig: wgConfig,
	}, nil
}
