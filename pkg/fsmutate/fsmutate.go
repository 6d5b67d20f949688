// Package fsmutate performs every change to a freshly bootstrapped
// root filesystem by writing files on the host, without booting or
// entering the guest (the SSH/WireGuard install scripts are staged
// here but executed by the Provisioning Pipeline through the Host
// Invoker). Every operation is idempotent where feasible.
package fsmutate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/coreos/go-systemd/v22/unit"
	"github.com/spf13/afero"

	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

const (
	shadowPath    = "/etc/shadow"
	passwdPath    = "/etc/passwd"
	resolvPath    = "/etc/resolv.conf"
	sshdConfig    = "/etc/ssh/sshd_config"
	wireguardConf = "/etc/wireguard/wg0.conf"
	sshScript     = "/tmp/install_ssh.sh"
	wgScript      = "/tmp/install_wireguard.sh"
)

// defaultCapabilities is the minimum capability set systemd-nspawn
// needs to run a Debian/Ubuntu guest.
var defaultCapabilities = []string{
	"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_FOWNER", "CAP_FSETID",
	"CAP_KILL", "CAP_MKNOD", "CAP_NET_BIND_SERVICE", "CAP_NET_RAW",
	"CAP_SETGID", "CAP_SETUID", "CAP_SETPCAP", "CAP_SETFCAP",
	"CAP_SYS_CHROOT", "CAP_AUDIT_WRITE",
}

// Mutator writes to a filesystem abstraction (the real disk in
// production, afero.NewMemMapFs in tests).
type Mutator struct {
	fs afero.Fs
}

// New builds a Mutator over fs. A nil fs defaults to the OS filesystem.
func New(fs afero.Fs) *Mutator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Mutator{fs: fs}
}

// rooted returns an afero.Fs whose root is rootDir, so every operation
// below addresses guest paths ("/etc/shadow") regardless of where the
// machine's root filesystem actually lives on the host.
func (m *Mutator) rooted(rootDir string) afero.Fs {
	return afero.NewBasePathFs(m.fs, rootDir)
}

// SetRootPassword hashes password with a fresh SHA-512 crypt salt and
// writes it into the root shadow line, per spec's bit-exact layout:
// root:$6$<salt>$<hash>:<days>:0:99999:7:::
func (m *Mutator) SetRootPassword(rootDir, password string) error {
	fs := m.rooted(rootDir)

	passwd, err := afero.ReadFile(fs, passwdPath)
	if err != nil {
		return errs.WithStage(errs.PasswordFailed, string(types.StageSetRootPassword), fmt.Errorf("read passwd: %w", err))
	}
	if !hasRootLine(string(passwd), ":") {
		return errs.WithStage(errs.PasswordFailed, string(types.StageSetRootPassword), fmt.Errorf("no root: line in %s", passwdPath))
	}

	crypter := sha512_crypt.New()
	hashed, err := crypter.Generate([]byte(password), nil)
	if err != nil {
		return errs.WithStage(errs.PasswordFailed, string(types.StageSetRootPassword), fmt.Errorf("generate hash: %w", err))
	}

	days := int(time.Now().UTC().Unix() / 86400)
	newLine := fmt.Sprintf("root:%s:%d:0:99999:7:::", hashed, days)

	existing, err := afero.ReadFile(fs, shadowPath)
	if err != nil && !isNotExist(err) {
		return errs.WithStage(errs.PasswordFailed, string(types.StageSetRootPassword), fmt.Errorf("read shadow: %w", err))
	}

	updated := replaceOrPrependLine(string(existing), "root:", newLine)

	if err := afero.WriteFile(fs, shadowPath, []byte(updated), 0640); err != nil {
		return errs.WithStage(errs.PasswordFailed, string(types.StageSetRootPassword), fmt.Errorf("write shadow: %w", err))
	}
	return nil
}

func hasRootLine(content, sep string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "root"+sep) {
			return true
		}
	}
	return false
}

// replaceOrPrependLine replaces the first line with the given prefix,
// or prepends newLine if no such line exists.
func replaceOrPrependLine(content, prefix, newLine string) string {
	lines := strings.Split(content, "\n")
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(line, prefix) {
			lines[i] = newLine
			replaced = true
			break
		}
	}
	if !replaced {
		return newLine + "\n" + content
	}
	return strings.Join(lines, "\n")
}

// ConfigureDNS removes etc/resolv.conf if it is a symlink, then writes
// two fixed nameservers.
func (m *Mutator) ConfigureDNS(rootDir string) error {
	fs := m.rooted(rootDir)

	if lst, ok := fs.(afero.Lstater); ok {
		if fi, _, err := lst.LstatIfPossible(resolvPath); err == nil && fi.Mode()&fileModeSymlink != 0 {
			if err := fs.Remove(resolvPath); err != nil {
				return errs.WithStage(errs.NetworkFailed, string(types.StageConfigureNetwork), fmt.Errorf("remove resolv.conf symlink: %w", err))
			}
		}
	}

	content := "nameserver 8.8.8.8\nnameserver 1.1.1.1\n"
	if err := afero.WriteFile(fs, resolvPath, []byte(content), 0644); err != nil {
		return errs.WithStage(errs.NetworkFailed, string(types.StageConfigureNetwork), fmt.Errorf("write resolv.conf: %w", err))
	}
	return nil
}

// fileModeSymlink mirrors os.ModeSymlink; afero's in-memory filesystem
// never reports it, so this only matters against the real OS fs.
const fileModeSymlink = 1 << (32 - 1 - 4)

// ConfigureNetwork writes a systemd-networkd .network unit attaching
// the guest's host-facing interface to bridge, with DHCPv4 and
// optional IPv6 acceptance.
func (m *Mutator) ConfigureNetwork(rootDir, bridge string, ipv6 types.IPv6Mode) error {
	fs := m.rooted(rootDir)

	ipv6AcceptRA := "no"
	if ipv6 == types.IPv6Native || ipv6 == types.IPv6SixInFour {
		ipv6AcceptRA = "yes"
	}

	opts := []*unit.UnitOption{
		unit.NewUnitOption("Match", "Name", "host0"),
		unit.NewUnitOption("Network", "DHCP", "ipv4"),
		unit.NewUnitOption("Network", "IPv6AcceptRA", ipv6AcceptRA),
		unit.NewUnitOption("Network", "Bridge", bridge),
	}

	if err := fs.MkdirAll("/etc/systemd/network", 0755); err != nil {
		return errs.WithStage(errs.NetworkFailed, string(types.StageConfigureNetwork), fmt.Errorf("mkdir network dir: %w", err))
	}

	serialized, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		return errs.WithStage(errs.NetworkFailed, string(types.StageConfigureNetwork), fmt.Errorf("serialize network unit: %w", err))
	}
	if err := afero.WriteFile(fs, "/etc/systemd/network/80-container-host0.network", serialized, 0644); err != nil {
		return errs.WithStage(errs.NetworkFailed, string(types.StageConfigureNetwork), fmt.Errorf("write network unit: %w", err))
	}
	return nil
}

// InstallSSH stages the SSH install script. The Provisioning Pipeline
// is responsible for executing it through the Host Invoker.
func (m *Mutator) InstallSSH(rootDir string) error {
	fs := m.rooted(rootDir)
	if err := afero.WriteFile(fs, sshScript, []byte(sshInstallScript), 0755); err != nil {
		return errs.WithStage(errs.SshFailed, string(types.StageInstallSSH), fmt.Errorf("stage ssh install script: %w", err))
	}
	return nil
}

// ConfigureWireGuard writes config to etc/wireguard/wg0.conf (mode
// 0600) and stages the install script for the pipeline to execute.
func (m *Mutator) ConfigureWireGuard(rootDir, config string) error {
	fs := m.rooted(rootDir)

	if err := fs.MkdirAll("/etc/wireguard", 0700); err != nil {
		return errs.WithStage(errs.WireGuardFailed, string(types.StageConfigureWireGuard), fmt.Errorf("mkdir wireguard dir: %w", err))
	}
	if err := afero.WriteFile(fs, wireguardConf, []byte(config), 0600); err != nil {
		return errs.WithStage(errs.WireGuardFailed, string(types.StageConfigureWireGuard), fmt.Errorf("write wg0.conf: %w", err))
	}
	if err := afero.WriteFile(fs, wgScript, []byte(wireguardInstallScript), 0755); err != nil {
		return errs.WithStage(errs.WireGuardFailed, string(types.StageConfigureWireGuard), fmt.Errorf("stage wireguard install script: %w", err))
	}
	return nil
}

// WriteHostUnitFile writes the host-side container config file (bridge
// attachment, capability set, CPU/memory caps) to unitsDir/<name> and
// returns the written path.
func (m *Mutator) WriteHostUnitFile(unitsDir, name, bridge string, spec types.ContainerSpec) (string, error) {
	opts := []*unit.UnitOption{
		unit.NewUnitOption("Network", "Bridge", bridge),
		unit.NewUnitOption("Network", "VirtualEthernet", "yes"),
		unit.NewUnitOption("Exec", "Capability", strings.Join(defaultCapabilities, " ")),
		unit.NewUnitOption("Exec", "Boot", "off"),
		unit.NewUnitOption("Service", "CPUQuota", strconv.Itoa(spec.CPUQuotaPercent)+"%"),
		unit.NewUnitOption("Service", "MemoryMax", strconv.Itoa(spec.MemoryMB)+"M"),
	}
	if spec.DiskGB > 0 {
		opts = append(opts, unit.NewUnitOption("Service", "IOReadBandwidthMax", fmt.Sprintf("/ %dM", spec.DiskGB*1024)))
	}

	serialized, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		return "", errs.WithStage(errs.UnitFailed, string(types.StageWriteHostUnit), fmt.Errorf("serialize host unit: %w", err))
	}

	fs := m.fs
	if err := fs.MkdirAll(unitsDir, 0755); err != nil {
		return "", errs.WithStage(errs.UnitFailed, string(types.StageWriteHostUnit), fmt.Errorf("mkdir units dir: %w", err))
	}

	path := unitsDir + "/" + name
	if err := afero.WriteFile(fs, path, serialized, 0644); err != nil {
		return "", errs.WithStage(errs.UnitFailed, string(types.StageWriteHostUnit), fmt.Errorf("write host unit: %w", err))
	}
	return path, nil
}

// RemoveHostUnitFile deletes the host unit file written by
// WriteHostUnitFile, tolerating the case where it never existed.
func (m *Mutator) RemoveHostUnitFile(unitsDir, name string) error {
	path := unitsDir + "/" + name
	if err := m.fs.Remove(path); err != nil && !isNotExist(err) {
		return fmt.Errorf("remove host unit: %w", err)
	}
	return nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, afero.ErrFileNotFound)
}
