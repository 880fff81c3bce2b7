package config

import "testing"

func TestParseValidManifest(t *testing.T) {
	data := []byte(`
kernel-version: 1.2.0
harts: 2
console: /dev/ttyS0
mounts:
  - device: /tmp/disk.img
    fstype: vfat
    path: /
`)
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Harts != 2 || m.Console != "/dev/ttyS0" {
		t.Fatalf("manifest = %+v", m)
	}
	if len(m.Mounts) != 1 || m.Mounts[0].Fstype != "vfat" {
		t.Fatalf("mounts = %+v", m.Mounts)
	}
}

func TestParseRejectsBadVersion(t *testing.T) {
	_, err := Parse([]byte("kernel-version: not-a-version\n"))
	if err == nil {
		t.Fatal("expected error for invalid kernel-version")
	}
}

func TestSatisfies(t *testing.T) {
	m, err := Parse([]byte("kernel-version: 2.0.0\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !m.Satisfies("v1.0.0") {
		t.Fatal("2.0.0 should satisfy v1.0.0")
	}
	if m.Satisfies("v3.0.0") {
		t.Fatal("2.0.0 should not satisfy v3.0.0")
	}
}

func TestSatisfiesNoVersionAlwaysTrue(t *testing.T) {
	m := &Manifest{}
	if !m.Satisfies("v9.9.9") {
		t.Fatal("manifest with no kernel-version should satisfy anything")
	}
}
