package syscall

import (
	"github.com/yzlqp/OS/internal/fs"
	"github.com/yzlqp/OS/internal/proc"
	"github.com/yzlqp/OS/internal/vm"
)

// statSize is the wire size of an fs.Stat as copied out to user memory:
// dev, ino, type (as uint16), nlink, size — fixed width fields only, no
// padding-sensitive struct layout crossing the syscall boundary.
const statSize = 4 + 4 + 2 + 2 + 8

func encodeStat(b []byte, st fs.Stat) {
	b[0], b[1], b[2], b[3] = byte(st.Dev), byte(st.Dev>>8), byte(st.Dev>>16), byte(st.Dev>>24)
	b[4], b[5], b[6], b[7] = byte(st.Ino), byte(st.Ino>>8), byte(st.Ino>>16), byte(st.Ino>>24)
	typ := uint16(st.Type)
	b[8], b[9] = byte(typ), byte(typ>>8)
	b[10], b[11] = byte(st.Nlink), byte(st.Nlink>>8)
	putWord(b[12:20], st.Size)
}

// putWord/getWord encode/decode the little-endian uint64 the trap-frame
// argument helpers exchange with user memory (wait's status pointer,
// exec's argv array).
func putWord(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getWord(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// putWord32/getWord32 are putWord/getWord's 4-byte counterparts, used for
// the pair of ints sys_pipe copies back to user memory (two fds, not one
// word-sized value).
func putWord32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getWord32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

func copyOutTo(p *proc.Proc, va uint64, src []byte) error {
	return vm.CopyOut(p.Pagetable(), va, src)
}

func copyInFrom(p *proc.Proc, dst []byte, va uint64) error {
	return vm.CopyIn(p.Pagetable(), dst, va, nil)
}

// copyInStrAt copies the NUL-terminated string at va (one of exec's argv
// pointers, already range-checked by the caller) into buf.
func copyInStrAt(p *proc.Proc, buf []byte, va uint64) (int, error) {
	return vm.CopyInStr(p.Pagetable(), buf, va, len(buf))
}
