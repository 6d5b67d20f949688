// Package catalog maps (distro, release, arch) to a bootstrap tool, a
// mirror URL, and a suite name. The lookup tables are data, embedded
// from catalog.yaml, so adding a distro/release is a YAML edit rather
// than a code change.
package catalog

import (
	_ "embed"
	"fmt"

	"github.com/nspawnhost/nspawnd/pkg/errs"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// data is the decoded shape of catalog.yaml.
type data struct {
	ArchAliases map[string]string `yaml:"arch_aliases"`
	Distros     map[string]struct {
		BootstrapTool string            `yaml:"bootstrap_tool"`
		Suites        map[string]string `yaml:"suites"`
		Mirrors       map[string]string `yaml:"mirrors"` // keyed by arch, "default" for arch-independent
	} `yaml:"distros"`
}

// Entry is the resolved result of a Lookup call.
type Entry struct {
	BootstrapTool string
	Mirror        string
	Arch          string // normalized
	Suite         string
}

// Catalog is a loaded, immutable distribution lookup table.
type Catalog struct {
	d data
}

// Load parses the embedded catalog.yaml. It only fails if the embedded
// asset itself is malformed, which would be a build-time defect.
func Load() (*Catalog, error) {
	var d data
	if err := yaml.Unmarshal(catalogYAML, &d); err != nil {
		return nil, fmt.Errorf("parse embedded catalog: %w", err)
	}
	return &Catalog{d: d}, nil
}

// NormalizeArch maps a raw uname-style arch string to its canonical
// form. Unknown values pass through unchanged, per spec.
func (c *Catalog) NormalizeArch(raw string) string {
	if canon, ok := c.d.ArchAliases[raw]; ok {
		return canon
	}
	return raw
}

// Lookup resolves distro (e.g. "debian"), release (e.g. "bookworm" or
// "22.04"), and a raw host arch string into a bootstrap Entry.
// Unrecognized distro/release combinations return Unsupported.
func (c *Catalog) Lookup(distro, release, rawArch string) (Entry, error) {
	arch := c.NormalizeArch(rawArch)

	dist, ok := c.d.Distros[distro]
	if !ok {
		return Entry{}, errs.Newf(errs.Unsupported, "unknown distro %q", distro)
	}

	suite, ok := dist.Suites[release]
	if !ok {
		return Entry{}, errs.Newf(errs.Unsupported, "unknown release %q for distro %q", release, distro)
	}

	mirror, ok := dist.Mirrors[arch]
	if !ok {
		mirror, ok = dist.Mirrors["default"]
	}
	if !ok {
		return Entry{}, errs.Newf(errs.Unsupported, "no mirror for distro %q arch %q", distro, arch)
	}

	return Entry{
		BootstrapTool: dist.BootstrapTool,
		Mirror:        mirror,
		Arch:          arch,
		Suite:         suite,
	}, nil
}
