package proc

// sysExecNo and sysExitNo duplicate internal/syscall.SysExec/SysExit.
// initcode below is placed at user VA 0 before internal/syscall exists
// from this package's point of view (proc sits under syscall in the
// layering table, per spec §2's L4/L10 split), so the numbers are copied
// rather than imported to avoid a cycle; they must stay in lockstep with
// internal/syscall's own SysExec/SysExit constants.
const (
	sysExecNo = 1
	sysExitNo = 2
)

// initcode is the pid-1 bootstrap program, hand-assembled AArch64: it
// calls exec("/init", argv) and, should that ever return, exit(status).
// Mirrors original_source/kernel/proc/proc.c's init_user(), which maps a
// prebuilt initcode binary (assembled from initcode.S at build time) at
// user VA 0; no such binary ships in this tree, so the equivalent machine
// code is encoded directly below. Equivalent to:
//
//	_start:
//	        adr  x0, str_init   // x0 = "/init"
//	        adr  x1, argv       // x1 = argv
//	        mov  x8, #1         // SysExec
//	        svc  #0
//	exit:
//	        mov  x8, #2         // SysExit
//	        svc  #0
//	        b    exit
//	        .align 3
//	argv:
//	        .quad str_init
//	        .quad 0
//	str_init:
//	        .asciz "/init"
var initcode = []byte{
	0x80, 0x01, 0x00, 0x10, // 0x00: adr x0, #0x30 (str_init)
	0xe1, 0x00, 0x00, 0x10, // 0x04: adr x1, #0x20 (argv)
	0x28, 0x00, 0x80, 0xd2, // 0x08: mov x8, #1
	0x01, 0x00, 0x00, 0xd4, // 0x0c: svc #0
	0x48, 0x00, 0x80, 0xd2, // 0x10: exit: mov x8, #2
	0x01, 0x00, 0x00, 0xd4, // 0x14: svc #0
	0xfe, 0xff, 0xff, 0x17, // 0x18: b exit
	0x1f, 0x20, 0x03, 0xd5, // 0x1c: nop (pad to 8-byte align)
	0x30, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 0x20: argv[0] = &str_init
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // 0x28: argv[1] = 0
	'/', 'i', 'n', 'i', 't', 0x00, 0x00, 0x00, // 0x30: "/init\0" + pad
}
