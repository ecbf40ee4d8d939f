package boardcfg

import (
	"encoding/binary"
	"testing"

	"github.com/yzlqp/OS/internal/dtb"
)

// buildMinimalBlob assembles a device tree exposing just a UART node,
// the same hand-built-FDT approach internal/dtb's own tests use — no
// real device tree compiler is available.
func buildMinimalBlob(t *testing.T, addr uint64) *dtb.Blob {
	t.Helper()

	var structBlock []byte
	put32 := func(v uint32) {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], v)
		structBlock = append(structBlock, tmp[:]...)
	}
	align := func() {
		for len(structBlock)%4 != 0 {
			structBlock = append(structBlock, 0)
		}
	}

	const tagBeginNode, tagProp, tagEndNode, tagEnd = 1, 3, 2, 9

	put32(tagBeginNode)
	structBlock = append(structBlock, "uart@9000000\x00"...)
	align()

	compat := []byte("arm,pl011\x00")
	put32(tagProp)
	put32(uint32(len(compat)))
	put32(0) // nameOff for "compatible" (first string)
	structBlock = append(structBlock, compat...)
	align()

	var reg [16]byte
	binary.BigEndian.PutUint64(reg[0:8], addr)
	binary.BigEndian.PutUint64(reg[8:16], 0x1000)
	put32(tagProp)
	put32(16)
	put32(uint32(len("compatible\x00"))) // nameOff for "reg"
	structBlock = append(structBlock, reg[:]...)
	align()

	put32(tagEndNode)
	put32(tagEnd)

	strings := append([]byte("compatible\x00"), "reg\x00"...)

	header := make([]byte, 16)
	binary.BigEndian.PutUint32(header[0:4], 0xd00dfeed)
	binary.BigEndian.PutUint32(header[8:12], 16)
	binary.BigEndian.PutUint32(header[12:16], uint32(16+len(structBlock)))

	data := append(header, structBlock...)
	data = append(data, strings...)

	blob, err := dtb.New(data)
	if err != nil {
		t.Fatalf("dtb.New() error = %v", err)
	}
	return blob
}

func TestResolveWithNilBlobReturnsQEMUDefaults(t *testing.T) {
	cfg := Resolve(nil)

	if cfg.UARTBase != DefaultUARTBase {
		t.Fatalf("UARTBase = %#x, want default %#x", cfg.UARTBase, DefaultUARTBase)
	}
	if cfg.GICDistBase != DefaultGICDistBase {
		t.Fatalf("GICDistBase = %#x, want default %#x", cfg.GICDistBase, DefaultGICDistBase)
	}
	if cfg.RAMBase != DefaultRAMBase || cfg.RAMSizeBytes != DefaultRAMSizeBytes {
		t.Fatalf("RAM = (%#x, %#x), want defaults (%#x, %#x)",
			cfg.RAMBase, cfg.RAMSizeBytes, DefaultRAMBase, DefaultRAMSizeBytes)
	}
}

func TestResolvePrefersDeviceTreeUARTBaseOverDefault(t *testing.T) {
	const foundAddr = 0x09100000
	blob := buildMinimalBlob(t, foundAddr)

	cfg := Resolve(blob)

	if cfg.UARTBase != foundAddr {
		t.Fatalf("UARTBase = %#x, want the device-tree-supplied %#x", cfg.UARTBase, foundAddr)
	}
}

func TestResolveFallsBackToDefaultGICWhenBlobLacksIt(t *testing.T) {
	blob := buildMinimalBlob(t, 0x09100000) // only a UART node present

	cfg := Resolve(blob)

	if cfg.GICDistBase != DefaultGICDistBase {
		t.Fatalf("GICDistBase = %#x, want default %#x (no matching node in blob)", cfg.GICDistBase, DefaultGICDistBase)
	}
}
