// Package types holds the data model shared across the provisioning
// pipeline, the job registry, the lifecycle controller and the
// port-forward store.
package types

import (
	"regexp"
	"strconv"
	"time"
)

// nameRE is the validation pattern for a container name: it doubles as
// the directory name under MACHINES_DIR and the machinectl machine name.
var nameRE = regexp.MustCompile(`^[a-z][a-z0-9-]{0,62}$`)

// ValidName reports whether name satisfies the container name grammar.
func ValidName(name string) bool {
	return nameRE.MatchString(name)
}

// IPv6Mode selects how a container's IPv6 connectivity is provisioned.
type IPv6Mode string

const (
	IPv6Disabled  IPv6Mode = "disabled"
	IPv6Native    IPv6Mode = "native"
	IPv6SixInFour IPv6Mode = "sixin4"
	IPv6WireGuard IPv6Mode = "wireguard"
)

// ContainerSpec is the immutable input to provisioning.
type ContainerSpec struct {
	Name             string   `yaml:"name" json:"name"`
	Distro           string   `yaml:"distro" json:"distro"` // "debian:bookworm", "ubuntu:22.04"
	RootPassword     string   `yaml:"root_password" json:"root_password"`
	CPUQuotaPercent  int      `yaml:"cpu_quota_percent" json:"cpu_quota_percent"`
	MemoryMB         int      `yaml:"memory_mb" json:"memory_mb"`
	DiskGB           int      `yaml:"disk_gb" json:"disk_gb"`
	EnableSSH        bool     `yaml:"enable_ssh" json:"enable_ssh"`
	IPv6             IPv6Mode `yaml:"ipv6" json:"ipv6"`
	WireGuardConfig  string   `yaml:"wireguard_config,omitempty" json:"wireguard_config,omitempty"`
	Labels           map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// Stage names a Provisioning Pipeline step, in execution order.
type Stage string

const (
	StageDetectArch        Stage = "detect_arch"
	StagePrepareDir        Stage = "prepare_dir"
	StageBootstrapRootfs   Stage = "bootstrap_rootfs"
	StageSetRootPassword   Stage = "set_root_password"
	StageConfigureNetwork  Stage = "configure_network"
	StageInstallSSH        Stage = "install_ssh"
	StageConfigureWireGuard Stage = "configure_wireguard"
	StageWriteHostUnit     Stage = "write_host_unit"
	StageStart             Stage = "start"
	StageCompleted         Stage = "completed"
)

// stagePercent is the percent-at-entry table from spec.md §4.4.
var stagePercent = map[Stage]int{
	StageDetectArch:         10,
	StagePrepareDir:         20,
	StageBootstrapRootfs:    30,
	StageSetRootPassword:    60,
	StageConfigureNetwork:   70,
	StageInstallSSH:         80,
	StageConfigureWireGuard: 85,
	StageWriteHostUnit:      90,
	StageStart:              95,
	StageCompleted:          100,
}

// PercentAtEntry returns the fixed progress value published when a job
// enters this stage.
func PercentAtEntry(s Stage) int {
	return stagePercent[s]
}

// TerminalStatus is the terminal state of a CreationJob.
type TerminalStatus string

const (
	TerminalNone      TerminalStatus = "none"
	TerminalCompleted TerminalStatus = "completed"
	TerminalFailed    TerminalStatus = "failed"
)

// CreationJob is the observable, mutable state of one provisioning run.
type CreationJob struct {
	ContainerID    string
	Stage          Stage
	Percent        int
	TerminalStatus TerminalStatus
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Done reports whether the job has reached a terminal status.
func (j *CreationJob) Done() bool {
	return j.TerminalStatus != TerminalNone
}

// ContainerStatus is the machine-manager-observed state of a container.
type ContainerStatus string

const (
	ContainerRunning ContainerStatus = "running"
	ContainerStopped ContainerStatus = "stopped"
	ContainerFailed  ContainerStatus = "failed"
	ContainerUnknown ContainerStatus = "unknown"
)

// ContainerRecord is the observable state of an existing container: the
// authored half (echoed from the spec used to create it) is persisted,
// the observed half (Status, Uptime, Addresses) is re-queried on demand.
type ContainerRecord struct {
	ID              string
	Distro          string
	CPUQuotaPercent int
	MemoryMB        int
	DiskGB          int
	Labels          map[string]string
	CreatedAt       time.Time

	// Observed fields, not persisted by the authored-record store.
	Status    ContainerStatus `json:"-"`
	Addresses []string        `json:"-"`
	Uptime    time.Duration   `json:"-"`
}

// Protocol is a port-forward transport protocol.
type Protocol string

const (
	ProtoTCP Protocol = "tcp"
	ProtoUDP Protocol = "udp"
)

// PortForwardRule is one persisted host-port -> container-port DNAT rule.
type PortForwardRule struct {
	ID            string
	HostPort      int
	ContainerID   string
	ContainerPort int
	Protocol      Protocol
}

// Key returns the (host_port, protocol) uniqueness key from spec.md §3.
func (r PortForwardRule) Key() string {
	return string(r.Protocol) + "/" + strconv.Itoa(r.HostPort)
}

// HostInfo is the read-only snapshot returned by the Host Inspector.
type HostInfo struct {
	Arch            string
	CPUCount        int
	MemoryTotalMB   int64
	MemoryAvailMB   int64
	DiskTotalMB     int64
	DiskAvailMB     int64
	BridgeName      string
	BridgePresent   bool
	BridgeSubnet    string
	Uptime          time.Duration
}
