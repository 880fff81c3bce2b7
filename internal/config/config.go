// Package config parses cmd/arksim's optional YAML device manifest
// (SPEC_FULL.md §10): an alternative to passing every boot parameter as
// a flag, in the spirit of tinyrange-cc's own cmd/ use of flag +
// gopkg.in/yaml.v3 for richer configuration.
package config

import (
	"fmt"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Mount describes one filesystem to mount at boot, e.g. the root FAT
// image.
type Mount struct {
	Device string `yaml:"device"`
	Fstype string `yaml:"fstype"`
	Path   string `yaml:"path"`
}

// Manifest is the top-level shape of a device manifest file.
type Manifest struct {
	KernelVersion string  `yaml:"kernel-version"`
	Harts         int     `yaml:"harts"`
	Console       string  `yaml:"console"`
	Mounts        []Mount `yaml:"mounts"`
}

// Parse decodes data as a device manifest and validates its
// kernel-version field as a semantic version (golang.org/x/mod/semver).
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if m.KernelVersion == "" {
		return &m, nil
	}
	v := m.KernelVersion
	if v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return nil, fmt.Errorf("config: kernel-version %q is not a valid semantic version", m.KernelVersion)
	}
	return &m, nil
}

// Satisfies reports whether the manifest's kernel-version is at least
// minVersion (e.g. "v1.2.0"). A manifest with no kernel-version
// satisfies any minimum.
func (m *Manifest) Satisfies(minVersion string) bool {
	if m.KernelVersion == "" {
		return true
	}
	v := m.KernelVersion
	if v[0] != 'v' {
		v = "v" + v
	}
	return semver.Compare(v, minVersion) >= 0
}
