package hostio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestImage(t *testing.T, blocks int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Truncate(int64(blocks * blockSize)); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestFileBlockDevReadWriteRoundTrip(t *testing.T) {
	path := newTestImage(t, 4)
	dev, err := OpenFileBlockDev(path)
	if err != nil {
		t.Fatalf("OpenFileBlockDev: %v", err)
	}
	defer dev.Close()

	if dev.NumBlocks() != 4 {
		t.Fatalf("NumBlocks = %d, want 4", dev.NumBlocks())
	}

	want := bytes.Repeat([]byte{0xAB}, blockSize)
	if err := dev.WriteBlock(2, want); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	got := make([]byte, blockSize)
	if err := dev.ReadBlock(2, got); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("read back data did not match what was written")
	}
}

func TestFileBlockDevOutOfRangeFails(t *testing.T) {
	path := newTestImage(t, 1)
	dev, err := OpenFileBlockDev(path)
	if err != nil {
		t.Fatalf("OpenFileBlockDev: %v", err)
	}
	defer dev.Close()

	buf := make([]byte, blockSize)
	if err := dev.ReadBlock(5, buf); err == nil {
		t.Fatal("expected out-of-range ReadBlock to fail")
	}
	if err := dev.WriteBlock(5, buf); err == nil {
		t.Fatal("expected out-of-range WriteBlock to fail")
	}
}

func TestProcessResetShutdownCodeStored(t *testing.T) {
	r := ProcessReset{Code: 7}
	if r.Code != 7 {
		t.Fatalf("Code = %d, want 7", r.Code)
	}
}
