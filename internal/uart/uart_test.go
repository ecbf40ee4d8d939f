package uart

import "testing"

// fakeRegs is a tiny in-memory stand-in for the PL011's MMIO register
// file, the same struct-literal-fixture shape bitfield_test.go uses for
// its own fakes.
func fakeRegs(t *testing.T, base uintptr) map[uintptr]uint32 {
	t.Helper()
	regs := map[uintptr]uint32{}
	origRead, origWrite := mmioRead, mmioWrite
	mmioRead = func(addr uintptr) uint32 { return regs[addr] }
	mmioWrite = func(addr uintptr, val uint32) { regs[addr] = val }
	t.Cleanup(func() { mmioRead, mmioWrite = origRead, origWrite })
	return regs
}

func TestInitProgramsBaudDividerAndEnablesUART(t *testing.T) {
	const base = 0x09000000
	regs := fakeRegs(t, base)

	u := New(base)
	u.Init(24_000_000, 115200)

	cr := regs[base+regCR]
	if cr&crUARTEN == 0 || cr&crTXE == 0 || cr&crRXE == 0 {
		t.Fatalf("Init() left CR = %#x, want UARTEN|TXE|RXE set", cr)
	}
	lcrh := regs[base+regLCRH]
	if lcrh&lcrhFEN == 0 {
		t.Fatalf("Init() left LCRH = %#x, want FIFOs enabled", lcrh)
	}
	divider := (uint32(24_000_000) * 4) / 115200
	if regs[base+regIBRD] != divider/64 || regs[base+regFBRD] != divider%64 {
		t.Fatalf("Init() baud divisor = (%d, %d), want (%d, %d)",
			regs[base+regIBRD], regs[base+regFBRD], divider/64, divider%64)
	}
}

func TestPutcWritesDROnceTxFIFOHasRoom(t *testing.T) {
	const base = 0x09000000
	regs := fakeRegs(t, base)
	regs[base+regFR] = 0 // FIFO already has room; Putc must not spin

	u := New(base)
	u.Putc('Q')

	if regs[base+regDR] != uint32('Q') {
		t.Fatalf("Putc() wrote DR = %#x, want %#x", regs[base+regDR], 'Q')
	}
}

func TestGetcReadsDROnceRxFIFOHasData(t *testing.T) {
	const base = 0x09000000
	regs := fakeRegs(t, base)
	regs[base+regFR] = 0 // data already present; Getc must not spin
	regs[base+regDR] = uint32('z')

	u := New(base)
	if got := u.Getc(); got != 'z' {
		t.Fatalf("Getc() = %q, want %q", got, 'z')
	}
}

func TestTxReadyAndRxReadyReflectFRBits(t *testing.T) {
	const base = 0x09000000
	regs := fakeRegs(t, base)
	u := New(base)

	regs[base+regFR] = frTXFF | frRXFE
	if u.TxReady() {
		t.Fatal("TxReady() should be false when TXFF is set")
	}
	if u.RxReady() {
		t.Fatal("RxReady() should be false when RXFE is set")
	}

	regs[base+regFR] = 0
	if !u.TxReady() {
		t.Fatal("TxReady() should be true once TXFF clears")
	}
	if !u.RxReady() {
		t.Fatal("RxReady() should be true once RXFE clears")
	}
}
