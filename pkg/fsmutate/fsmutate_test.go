package fsmutate

import (
	"testing"

	"github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nspawnhost/nspawnd/pkg/types"
)

func newTestRoot(t *testing.T, fs afero.Fs, rootDir string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(rootDir+"/etc", 0755))
	require.NoError(t, afero.WriteFile(fs, rootDir+"/etc/passwd", []byte("root:x:0:0:root:/root:/bin/sh\n"), 0644))
}

func TestSetRootPassword_RoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	newTestRoot(t, fs, "/machines/alpha")

	m := New(fs)
	require.NoError(t, m.SetRootPassword("/machines/alpha", "hunter2!"))

	shadow, err := afero.ReadFile(fs, "/machines/alpha/etc/shadow")
	require.NoError(t, err)

	line := string(shadow)
	assert.Contains(t, line, "root:$6$")
	assert.Contains(t, line, ":0:99999:7:::")

	crypter := sha512_crypt.New()
	fields := splitShadowHash(line)
	require.NoError(t, crypter.Verify(fields, []byte("hunter2!")))
	assert.Error(t, crypter.Verify(fields, []byte("wrong-password")))
}

// splitShadowHash extracts the crypt(3) hash field from a shadow line
// of the form root:<hash>:<days>:0:99999:7:::
func splitShadowHash(line string) string {
	parts := make([]byte, 0, len(line))
	field := 0
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			field++
			if field == 2 {
				return string(parts)
			}
			continue
		}
		if field == 1 {
			parts = append(parts, line[i])
		}
	}
	return string(parts)
}

func TestSetRootPassword_MissingPasswdRootLineFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/machines/alpha/etc", 0755))
	require.NoError(t, afero.WriteFile(fs, "/machines/alpha/etc/passwd", []byte("daemon:x:1:1::/:/bin/false\n"), 0644))

	m := New(fs)
	err := m.SetRootPassword("/machines/alpha", "hunter2!")
	require.Error(t, err)
}

func TestConfigureDNS_WritesFixedNameservers(t *testing.T) {
	fs := afero.NewMemMapFs()
	newTestRoot(t, fs, "/machines/alpha")

	m := New(fs)
	require.NoError(t, m.ConfigureDNS("/machines/alpha"))

	content, err := afero.ReadFile(fs, "/machines/alpha/etc/resolv.conf")
	require.NoError(t, err)
	assert.Contains(t, string(content), "nameserver 8.8.8.8")
	assert.Contains(t, string(content), "nameserver 1.1.1.1")
}

func TestConfigureNetwork_WritesNetworkUnit(t *testing.T) {
	fs := afero.NewMemMapFs()
	newTestRoot(t, fs, "/machines/alpha")

	m := New(fs)
	require.NoError(t, m.ConfigureNetwork("/machines/alpha", "br-nspawn", types.IPv6Native))

	content, err := afero.ReadFile(fs, "/machines/alpha/etc/systemd/network/80-container-host0.network")
	require.NoError(t, err)
	assert.Contains(t, string(content), "Bridge=br-nspawn")
	assert.Contains(t, string(content), "IPv6AcceptRA=yes")
}

func TestInstallSSH_StagesScript(t *testing.T) {
	fs := afero.NewMemMapFs()
	newTestRoot(t, fs, "/machines/alpha")

	m := New(fs)
	require.NoError(t, m.InstallSSH("/machines/alpha"))

	content, err := afero.ReadFile(fs, "/machines/alpha/tmp/install_ssh.sh")
	require.NoError(t, err)
	assert.Contains(t, string(content), "PermitRootLogin yes")
	assert.Contains(t, string(content), "PasswordAuthentication yes")
}

func TestConfigureWireGuard_WritesConfigWithMode0600(t *testing.T) {
	fs := afero.NewMemMapFs()
	newTestRoot(t, fs, "/machines/alpha")

	m := New(fs)
	config := "[Interface]\nPrivateKey=abc\nAddress=fd00::2/64\n"
	require.NoError(t, m.ConfigureWireGuard("/machines/alpha", config))

	content, err := afero.ReadFile(fs, "/machines/alpha/etc/wireguard/wg0.conf")
	require.NoError(t, err)
	assert.Equal(t, config, string(content))

	info, err := fs.Stat("/machines/alpha/etc/wireguard/wg0.conf")
	require.NoError(t, err)
	assert.Equal(t, uint32(0600), uint32(info.Mode().Perm()))
}

func TestWriteHostUnitFile_ContainsResourceCaps(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := New(fs)

	spec := types.ContainerSpec{CPUQuotaPercent: 100, MemoryMB: 512, DiskGB: 10}
	path, err := m.WriteHostUnitFile("/etc/systemd/nspawn", "alpha", "br-nspawn", spec)
	require.NoError(t, err)
	assert.Equal(t, "/etc/systemd/nspawn/alpha", path)

	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "CPUQuota=100%")
	assert.Contains(t, string(content), "MemoryMax=512M")
	assert.Contains(t, string(content), "Bridge=br-nspawn")
	assert.Contains(t, string(content), "IOReadBandwidthMax=/ 10240M")
}

func TestWriteHostUnitFile_OmitsDiskCapWhenUnset(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := New(fs)

	spec := types.ContainerSpec{CPUQuotaPercent: 100, MemoryMB: 512}
	path, err := m.WriteHostUnitFile("/etc/systemd/nspawn", "alpha", "br-nspawn", spec)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "IOReadBandwidthMax")
}

func TestRemoveHostUnitFile_TolerantOfMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := New(fs)
	assert.NoError(t, m.RemoveHostUnitFile("/etc/systemd/nspawn", "never-existed"))
}
