package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gentam/nando/boot"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flags = globalFlags{}
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestChips(t *testing.T) {
	out, err := run(t, "chips")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"W25Q128JV", "EF7018", "AT45DB161E"} {
		if !strings.Contains(out, want) {
			t.Errorf("chips output lacks %s:\n%s", want, out)
		}
	}
}

func TestChipsExtraDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chips.yaml")
	yaml := `chips:
  - name: TEST25
    vendor: Acme
    id: "AA0010"
    size: 65536
    erase_size: 4096
    page_offset: 8
    read: 0x0B
    read_id: 0x9F
    write: 0x02
    write_enable: 0x06
    erase: 0x20
    status: 0x05
    busy_bit: 0
    busy_state: true
    freq: 10000000
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "chips", "--db", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "TEST25") || !strings.Contains(out, "W25Q128JV") {
		t.Errorf("merged database output:\n%s", out)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		{"chips", "extra"},
		{"chips", "--mode", "4"},
		{"chips", "--port", "SPI0.0"},
		{"read", "--no-such-flag"},
		{"bootsel"},
		{"bootsel", "dump.bin", "--set", "image3"},
	}
	for _, args := range tests {
		_, err := run(t, args...)
		if ue := (usageError{}); !errors.As(err, &ue) {
			t.Errorf("nando %s = %v, want a usage error", strings.Join(args, " "), err)
		}
	}
}

func TestBootsel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xFF}, boot.End), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "bootsel", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "image2\t") {
		t.Errorf("erased config: %q, want image2", out)
	}

	if out, err = run(t, "bootsel", path, "--set", "image1"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "image1\toffset 0x4000") {
		t.Errorf("after --set image1: %q", out)
	}

	mem, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(mem) != boot.End || mem[boot.ConfigOffset] != 0 {
		t.Errorf("dump: %d bytes, config %#x", len(mem), mem[boot.ConfigOffset])
	}
	if !bytes.Equal(mem[boot.ConfigOffset+1:boot.Image1Offset], bytes.Repeat([]byte{0xFF}, boot.Image1Offset-boot.ConfigOffset-1)) {
		t.Error("config sector not padded with 0xFF")
	}
}
