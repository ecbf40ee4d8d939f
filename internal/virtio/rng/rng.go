// Package rng is the VirtIO entropy source collaborator: it drives a
// virtio-mmio RNG device's request/request-queue a split virtqueue the
// way virtio_rng.go's rngRequestBytes/rngPollCompletion pair does, and
// registers itself as a character device reachable via mknod (the
// second device class beyond the console), exercising the open-file
// table's device dispatch beyond the console alone. Grounded on
// virtio_rng.go and virtqueue.go. External tier in the layering table,
// alongside internal/uart/internal/sdhci/internal/gic/internal/timer.
//
// The teacher discovers its device by scanning a PCI bus
// (pci_qemu.go, explicitly not wired — see DESIGN.md); this package
// takes the virtio-mmio transport instead, the same division of labor
// internal/uart.New/internal/sdhci.New/internal/gic.New already follow:
// a fixed MMIO base supplied by the caller (eventually
// internal/boardcfg/internal/dtb), not bus enumeration.
package rng

import (
	"errors"
	"unsafe"

	"github.com/yzlqp/OS/internal/asm"
)

// physAddr returns the physical address of a statically-allocated Go
// value. This kernel's identity mapping (spec §5) makes the virtual and
// physical addresses of kernel memory equal, the same assumption
// virtqueueGetPhysicalAddr documents for its own identity-mapped kernel.
func physAddr[T any](v *T) uintptr { return uintptr(unsafe.Pointer(v)) }

// virtio-mmio v2 register offsets from the device's MMIO base (VirtIO
// 1.1 §4.2.2).
const (
	regMagicValue       = 0x000
	regVersion          = 0x004
	regDeviceID         = 0x008
	regDeviceFeatures   = 0x010
	regDeviceFeaturesSel = 0x014
	regDriverFeatures   = 0x020
	regDriverFeaturesSel = 0x024
	regQueueSel         = 0x030
	regQueueNumMax      = 0x034
	regQueueNum         = 0x038
	regQueueReady       = 0x044
	regQueueNotify      = 0x050
	regInterruptStatus  = 0x060
	regInterruptACK     = 0x064
	regStatus           = 0x070
	regQueueDescLow     = 0x080
	regQueueDescHigh    = 0x084
	regQueueDriverLow   = 0x090 // avail ring
	regQueueDriverHigh  = 0x094
	regQueueDeviceLow   = 0x0A0 // used ring
	regQueueDeviceHigh  = 0x0A4
)

// Device status bits (VirtIO 1.1 §2.1).
const (
	statusAcknowledge = 1 << 0
	statusDriver      = 1 << 1
	statusFeaturesOK  = 1 << 3
	statusDriverOK    = 1 << 4
)

const deviceIDRNG = 4

const virtQueueSize = 8 // matches rngDescTable's static 8-descriptor allocation

// Descriptor flags (VirtIO 1.1 §2.6.5).
const descFWrite = 1 << 1

const requestQueue = 0

const pollTimeout = 1_000_000

var errTimeout = errors.New("rng: device request timed out")
var errNoDevice = errors.New("rng: no virtio-mmio RNG device at base")

// The register access seam: a testable function-var pair wrapping
// internal/asm's MMIO primitives, the same substitution pattern
// internal/uart/internal/sdhci/internal/gic use.
var (
	read32  = func(addr uintptr) uint32 { return asm.MmioRead(addr) }
	write32 = func(addr uintptr, v uint32) { asm.MmioWrite(addr, v) }
)

// virtqDesc mirrors VirtQDesc's wire layout: 16 bytes, physical address
// + length + flags + next-in-chain index.
type virtqDesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

// Device is one virtio-mmio RNG instance. Like the teacher's rngQueue,
// the descriptor table and rings are statically sized (queue size 8)
// rather than allocated, since there is exactly one request in flight
// at a time and no reason to size-negotiate a larger queue.
type Device struct {
	base uintptr

	descTable [virtQueueSize]virtqDesc
	availRing [4 + virtQueueSize]uint16    // flags, idx, ring[8]
	usedRing  [4 + virtQueueSize*2]uint16  // flags, idx, (id,len)[8] as uint16 pairs
	lastUsed  uint16

	buf [256]byte

	fallbackState uint32
}

// New probes base for a virtio-mmio device reporting deviceIDRNG,
// negotiates no optional features (plain VirtIO 1.1, no legacy quirks),
// and sets up the single request virtqueue, mirroring
// initVirtIORNGDevice's reset/ACKNOWLEDGE/DRIVER/FEATURES_OK/queue-setup/
// DRIVER_OK sequence once a base address is already known (this package
// has no PCI bus to scan for one).
func New(base uintptr) (*Device, error) {
	if read32(base+regMagicValue) != 0x74726976 { // "virt" little-endian
		return nil, errNoDevice
	}
	if read32(base+regDeviceID) != deviceIDRNG {
		return nil, errNoDevice
	}

	d := &Device{base: base, fallbackState: 0x12345678}

	write32(d.reg(regStatus), 0)
	write32(d.reg(regStatus), statusAcknowledge)
	write32(d.reg(regStatus), statusAcknowledge|statusDriver)

	write32(d.reg(regDriverFeaturesSel), 0)
	write32(d.reg(regDriverFeatures), 0)

	write32(d.reg(regStatus), statusAcknowledge|statusDriver|statusFeaturesOK)
	if read32(d.reg(regStatus))&statusFeaturesOK == 0 {
		return nil, errors.New("rng: feature negotiation rejected")
	}

	d.setupQueue()

	write32(d.reg(regStatus), statusAcknowledge|statusDriver|statusFeaturesOK|statusDriverOK)
	return d, nil
}

func (d *Device) reg(offset uintptr) uintptr { return d.base + offset }

// setupQueue selects the request queue, clamps it to virtQueueSize, and
// hands the device the physical addresses of the static desc/avail/used
// arrays, the MMIO-transport equivalent of rngSetupQueue's PCI common-
// config writes.
func (d *Device) setupQueue() {
	write32(d.reg(regQueueSel), requestQueue)

	max := read32(d.reg(regQueueNumMax))
	size := uint32(virtQueueSize)
	if max < size {
		size = max
	}
	write32(d.reg(regQueueNum), size)

	descPhys := physAddr(&d.descTable[0])
	availPhys := physAddr(&d.availRing[0])
	usedPhys := physAddr(&d.usedRing[0])

	write32(d.reg(regQueueDescLow), uint32(descPhys))
	write32(d.reg(regQueueDescHigh), uint32(descPhys>>32))
	write32(d.reg(regQueueDriverLow), uint32(availPhys))
	write32(d.reg(regQueueDriverHigh), uint32(availPhys>>32))
	write32(d.reg(regQueueDeviceLow), uint32(usedPhys))
	write32(d.reg(regQueueDeviceHigh), uint32(usedPhys>>32))

	write32(d.reg(regQueueReady), 1)
}

// Read fills dst with random bytes, servicing the RANDOM device's
// character-device Device.Read callback. Requests are capped at the
// static buffer size, the same len(rngBuffer) clamp rngRequestBytes
// applies; callers needing more simply call Read again.
func (d *Device) Read(dst []byte) (int32, error) {
	n := len(dst)
	if n > len(d.buf) {
		n = len(d.buf)
	}

	if err := d.request(uint32(n)); err != nil {
		d.fallback(dst[:n])
		return int32(n), nil
	}

	got, err := d.poll()
	if err != nil {
		d.fallback(dst[:n])
		return int32(n), nil
	}
	if int(got) < n {
		n = int(got)
	}
	copy(dst[:n], d.buf[:n])
	return int32(n), nil
}

// request posts a single write-only descriptor covering d.buf and
// notifies the device, the MMIO-transport equivalent of
// rngRequestBytes.
func (d *Device) request(length uint32) error {
	descIdx := uint16(0)
	d.descTable[descIdx] = virtqDesc{
		addr:  uint64(physAddr(&d.buf[0])),
		len:   length,
		flags: descFWrite,
		next:  0,
	}

	availIdx := d.availRing[1]
	d.availRing[2+availIdx%virtQueueSize] = descIdx

	asm.DSB()
	d.availRing[1] = availIdx + 1
	asm.DSB()

	write32(d.reg(regQueueNotify), requestQueue)
	return nil
}

// poll waits for the device to retire the posted descriptor, mirroring
// rngPollCompletion's used-ring comparison, and returns the byte count
// the device wrote.
func (d *Device) poll() (uint32, error) {
	for timeout := pollTimeout; timeout > 0; timeout-- {
		currentIdx := d.usedRing[1]
		if currentIdx == d.lastUsed {
			continue
		}
		elemOffset := 4 + (d.lastUsed%virtQueueSize)*2
		length := uint32(d.usedRing[elemOffset+1])
		d.lastUsed++
		return length, nil
	}
	return 0, errTimeout
}

// fallback generates deterministic pseudo-random bytes via the same LCG
// getFakeRandomBytes uses, for when no device is present or a request
// times out — entropy quality is not a concern this kernel's console/
// filesystem/scheduler paths depend on, only availability.
func (d *Device) fallback(dst []byte) {
	for i := range dst {
		d.fallbackState = d.fallbackState*1103515245 + 12345
		dst[i] = byte(d.fallbackState >> 16)
	}
}
