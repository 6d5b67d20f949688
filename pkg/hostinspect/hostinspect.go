// Package hostinspect answers read-only questions about the host:
// architecture, CPU count, memory, disk space for the machines
// directory's filesystem, bridge presence/subnet, and uptime.
package hostinspect

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nspawnhost/nspawnd/pkg/catalog"
	"github.com/nspawnhost/nspawnd/pkg/hostinvoker"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

// Inspector queries host state through /proc, syscall.Statfs, and (for
// bridge presence and subnet) the Host Invoker.
type Inspector struct {
	invoker     hostinvoker.RunFunc
	catalog     *catalog.Catalog
	machinesDir string
}

// New builds an Inspector. machinesDir is the directory whose
// filesystem disk usage is reported.
func New(invoker hostinvoker.RunFunc, cat *catalog.Catalog, machinesDir string) *Inspector {
	return &Inspector{invoker: invoker, catalog: cat, machinesDir: machinesDir}
}

// Inspect returns a full HostInfo snapshot.
func (i *Inspector) Inspect(ctx context.Context, bridge string) (types.HostInfo, error) {
	info := types.HostInfo{
		Arch:     i.catalog.NormalizeArch(runtime.GOARCH),
		CPUCount: runtime.NumCPU(),
	}

	if total, avail, err := readMemory(); err == nil {
		info.MemoryTotalMB = total
		info.MemoryAvailMB = avail
	}

	if total, avail, err := statfsMB(i.machinesDir); err == nil {
		info.DiskTotalMB = total
		info.DiskAvailMB = avail
	}

	if uptime, err := readUptime(); err == nil {
		info.Uptime = uptime
	}

	present, subnet := i.inspectBridge(ctx, bridge)
	info.BridgePresent = present
	info.BridgeSubnet = subnet
	info.BridgeName = bridge

	return info, nil
}

// DetectArch returns the normalized host architecture, the operation
// the Provisioning Pipeline's detect_arch stage calls.
func (i *Inspector) DetectArch() string {
	return i.catalog.NormalizeArch(runtime.GOARCH)
}

func readMemory() (totalMB, availMB int64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, convErr := strconv.ParseInt(fields[1], 10, 64)
		if convErr != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalMB = kb / 1024
		case "MemAvailable:":
			availMB = kb / 1024
		}
	}
	return totalMB, availMB, scanner.Err()
}

func statfsMB(path string) (totalMB, availMB int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	blockSize := int64(stat.Bsize)
	totalMB = int64(stat.Blocks) * blockSize / (1024 * 1024)
	availMB = int64(stat.Bavail) * blockSize / (1024 * 1024)
	return totalMB, availMB, nil
}

func readUptime() (time.Duration, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, nil
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

var inetCIDRRE = regexp.MustCompile(`inet (\d+\.\d+\.\d+\.\d+/\d+)`)

func (i *Inspector) inspectBridge(ctx context.Context, bridge string) (present bool, subnet string) {
	result := i.invoker.Run(ctx, hostinvoker.Spec{
		Stage:   "host_inspect",
		Argv:    []string{"ip", "addr", "show", bridge},
		Timeout: hostinvoker.TimeoutFirewall,
	})
	if !result.OK() {
		return false, ""
	}
	if match := inetCIDRRE.FindStringSubmatch(result.Stdout); match != nil {
		return true, match[1]
	}
	return true, ""
}
