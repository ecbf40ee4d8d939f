// Package ramfb is the graphical scanout collaborator: QEMU's "ramfb"
// device, configured once at boot via a single fw_cfg DMA write, backing
// internal/fbconsole's Surface with a plain linear XRGB8888 buffer in
// RAM that QEMU rescans every frame — no ongoing command queue or flush
// protocol required once configured. Grounded on ramfb_qemu.go, adapted
// to the fixed-selector fallback path (FW_CFG_RAMFB_SELECT) rather than
// walking the fw_cfg file directory, since QEMU's virt machine always
// exposes "etc/ramfb" at that well-known selector when `-device ramfb`
// is present.
//
// External tier in the layering table, alongside internal/uart/
// internal/sdhci/internal/gic/internal/timer: everything here either
// calls straight into internal/asm's MmioRead/MmioWrite/MmioWrite16 or
// does register/buffer arithmetic no test needs a real fw_cfg device to
// exercise.
package ramfb

import (
	"errors"
	"unsafe"

	"github.com/yzlqp/OS/internal/asm"
)

// fw_cfg register offsets from base, matching QEMU's aarch64 virt
// machine layout (ramfb_qemu.go's FW_CFG_DATA_ADDR/_SELECTOR_ADDR/_DMA_ADDR).
const (
	regData     = 0x00
	regSelector = 0x08
	regDMA      = 0x10
)

// Selector keys.
const (
	selID    = 0x0001
	selRAMFB = 0x0019 // etc/ramfb, QEMU's fixed selector for -device ramfb
)

// DMA control bits, in the low bits of the control word; when selecting,
// the selector goes into the high 16 bits of the same word, per
// ramfb_qemu.go's FWCfgDmaAccess.Control layout.
const (
	dmaCtlError  = 1 << 0
	dmaCtlWrite  = 1 << 4
	dmaCtlSelect = 1 << 3
)

const dmaFeatureBit = 1 << 1

// dmaSignature is "QEMU CFG" read back from the DMA address register
// pair when the DMA interface is present, per qemu_cfg_check_dma_support.
const dmaSignature = 0x51454D5520434647

// fourCCXRGB8888 is 'XR24' little-endian, the DRM fourcc ramfb_qemu.go
// configures — 32bpp with the top byte unused (internal/fbconsole writes
// BGRX, the same byte order XRGB8888 stores on a little-endian host).
const fourCCXRGB8888 = 0x34325258

var errNoDMA = errors.New("ramfb: fw_cfg DMA interface not present")

// The hardware-touching reads/writes below are the same testable seam
// every external collaborator in this tree uses.
var (
	read16  = func(addr uintptr) uint16 { return uint16(asm.MmioRead(addr)) }
	read32  = func(addr uintptr) uint32 { return asm.MmioRead(addr) }
	write16 = func(addr uintptr, v uint16) { asm.MmioWrite16(addr, v) }
	write32 = func(addr uintptr, v uint32) { asm.MmioWrite(addr, v) }
)

// dmaAccess is the 16-byte, big-endian, packed DMA request structure
// fw_cfg reads from guest RAM: control, length, then the 64-bit address
// of the buffer being transferred. Matches FWCfgDmaAccess exactly.
type dmaAccess struct {
	control uint32
	length  uint32
	address uint64
}

func putBE32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

func putBE64(dst []byte, v uint64) {
	putBE32(dst[0:4], uint32(v>>32))
	putBE32(dst[4:8], uint32(v))
}

// encode serializes d into its 16-byte wire form, big-endian per the
// fw_cfg DMA ABI.
func (d dmaAccess) encode() [16]byte {
	var out [16]byte
	putBE32(out[0:4], d.control)
	putBE32(out[4:8], d.length)
	putBE64(out[8:16], d.address)
	return out
}

// ramfbCfg is the 28-byte, big-endian, packed configuration record
// written to the "etc/ramfb" fw_cfg entry: the framebuffer's physical
// address, pixel format, flags, dimensions, and stride. Matches
// RAMFBCfg exactly.
type ramfbCfg struct {
	addr   uint64
	fourCC uint32
	flags  uint32
	width  uint32
	height uint32
	stride uint32
}

func (c ramfbCfg) encode() [28]byte {
	var out [28]byte
	putBE64(out[0:8], c.addr)
	putBE32(out[8:12], c.fourCC)
	putBE32(out[12:16], c.flags)
	putBE32(out[16:20], c.width)
	putBE32(out[20:24], c.height)
	putBE32(out[24:28], c.stride)
	return out
}

// Device is one configured ramfb scanout: a fixed-size XRGB8888 buffer
// QEMU rescans into the host display every frame.
type Device struct {
	base   uintptr
	width  int
	height int
	pitch  int
	pixels []byte
}

// physAddr returns the physical address of a byte slice's backing array
// — valid because this kernel runs without paging between kernel VA and
// PA (internal/kconfig.VA2PA's identity offset), the same assumption
// internal/virtio/rng's physAddr helper relies on.
func physAddr(b []byte) uint64 { return uint64(uintptr(unsafe.Pointer(&b[0]))) }

// New configures a width x height ramfb scanout at the fw_cfg interface
// found at base, backed by a freshly allocated pixel buffer. Returns
// errNoDMA if the DMA interface (required to write a 28-byte config in
// one shot, per qemu_cfg_check_dma_support) isn't present — QEMU's virt
// machine has always supported it, but a real board's fw_cfg
// implementation (or absence of `-device ramfb`) might not.
func New(base uintptr, width, height int) (*Device, error) {
	if !dmaSupported(base) {
		return nil, errNoDMA
	}

	d := &Device{
		base:   base,
		width:  width,
		height: height,
		pitch:  width * 4,
		pixels: make([]byte, width*height*4),
	}

	cfg := ramfbCfg{
		addr:   physAddr(d.pixels),
		fourCC: fourCCXRGB8888,
		width:  uint32(width),
		height: uint32(height),
		stride: uint32(d.pitch),
	}
	d.dmaWrite(selRAMFB, cfg.encode())

	return d, nil
}

func dmaSupported(base uintptr) bool {
	write16(base+regSelector, selID)
	features := read32(base + regData)
	if features&dmaFeatureBit == 0 {
		return false
	}
	hi := read32(base + regDMA)
	lo := read32(base + regDMA + 4)
	return (uint64(hi)<<32)|uint64(lo) == dmaSignature
}

// dmaWrite performs one fw_cfg DMA transfer: it builds a dmaAccess
// descriptor pointing at payload, writes the descriptor's own physical
// address into FW_CFG_DMA_ADDR with the select+write control bits and
// selector packed into the high half, the same one-shot sequence
// fw_cfg_dma_write issues.
func (d *Device) dmaWrite(selector uint32, payload [28]byte) {
	req := dmaAccess{
		control: (selector << 16) | dmaCtlSelect | dmaCtlWrite,
		length:  uint32(len(payload)),
		address: uint64(uintptr(unsafe.Pointer(&payload[0]))),
	}
	enc := req.encode()
	write32(d.base+regDMA, uint32(uint64(uintptr(unsafe.Pointer(&enc[0])))>>32))
	write32(d.base+regDMA+4, uint32(uintptr(unsafe.Pointer(&enc[0]))))
}

// Width satisfies internal/fbconsole.Surface.
func (d *Device) Width() int { return d.width }

// Height satisfies internal/fbconsole.Surface.
func (d *Device) Height() int { return d.height }

// Pitch satisfies internal/fbconsole.Surface.
func (d *Device) Pitch() int { return d.pitch }

// Pixels satisfies internal/fbconsole.Surface: the raw scanout buffer.
// QEMU reads straight out of this RAM every frame, so there is no
// explicit flush call — writing a pixel is the flush.
func (d *Device) Pixels() []byte { return d.pixels }
