package catalog

import (
	"testing"

	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeArch(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	cases := map[string]string{
		"x86_64":  "amd64",
		"amd64":   "amd64",
		"aarch64": "arm64",
		"arm64":   "arm64",
		"riscv64": "riscv64", // unknown values pass through
	}
	for raw, want := range cases {
		assert.Equal(t, want, c.NormalizeArch(raw))
	}
}

func TestLookup_DebianBookworm(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	entry, err := c.Lookup("debian", "bookworm", "x86_64")
	require.NoError(t, err)
	assert.Equal(t, "debootstrap", entry.BootstrapTool)
	assert.Equal(t, "http://deb.debian.org/debian", entry.Mirror)
	assert.Equal(t, "amd64", entry.Arch)
	assert.Equal(t, "bookworm", entry.Suite)
}

func TestLookup_UbuntuArm(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	entry, err := c.Lookup("ubuntu", "22.04", "aarch64")
	require.NoError(t, err)
	assert.Equal(t, "http://ports.ubuntu.com/ubuntu-ports", entry.Mirror)
	assert.Equal(t, "arm64", entry.Arch)
	assert.Equal(t, "jammy", entry.Suite)
}

func TestLookup_UbuntuAmd64(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	entry, err := c.Lookup("ubuntu", "22.04", "x86_64")
	require.NoError(t, err)
	assert.Equal(t, "http://archive.ubuntu.com/ubuntu", entry.Mirror)
}

func TestLookup_UnknownDistroIsUnsupported(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	_, err = c.Lookup("archlinux", "rolling", "x86_64")
	require.Error(t, err)
	assert.Equal(t, errs.Unsupported, errs.KindOf(err))
}

func TestLookup_UnknownReleaseIsUnsupported(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	_, err = c.Lookup("debian", "woody", "x86_64")
	require.Error(t, err)
	assert.Equal(t, errs.Unsupported, errs.KindOf(err))
}
