// Package guestwasm assembles small guest modules for sandbox tests.
//
// Modules follow the guest ABI: they export memory, allocate(i32) i32 and run() i32,
// import host calls by module and name, and pass JSON requests as ptr<<32|len.
package guestwasm

import (
	"bytes"
	"encoding/binary"
)

// Sig selects a host call signature.
type Sig byte

const (
	// SigCall is (i64) -> i64: request in, response out.
	SigCall Sig = 0
	// SigNoResult is (i64) -> (), used by ext_core.log and ext_core.fail.
	SigNoResult Sig = 1
)

const (
	typeAllocate = 2
	typeRun      = 3

	dataBase  = 1024
	heapStart = 65536
	memPages  = 4
)

// Builder accumulates imports, data and the body of run.
type Builder struct {
	imports      []imported
	data         []byte
	body         []byte
	omitAllocate bool
	omitRun      bool
}

type imported struct {
	module, name string
	sig          Sig
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{}
}

// Import declares a host function and returns its function index.
// All imports must be declared before instructions that reference them.
func (b *Builder) Import(module, name string, sig Sig) uint32 {
	b.imports = append(b.imports, imported{module: module, name: name, sig: sig})
	return uint32(len(b.imports) - 1) //nolint:gosec // test helper
}

// Call invokes an import with payload and discards any result.
func (b *Builder) Call(fn uint32, payload string) *Builder {
	b.pushPayload(payload)
	b.call(fn)
	if b.imports[fn].sig == SigCall {
		b.body = append(b.body, 0x1a) // drop
	}
	return b
}

// CallInto invokes fn with payload and passes its packed response straight to sink,
// typically ext_core.log, so tests can observe what the host returned.
func (b *Builder) CallInto(fn uint32, payload string, sink uint32) *Builder {
	b.pushPayload(payload)
	b.call(fn)
	b.call(sink)
	return b
}

// Trap executes unreachable.
func (b *Builder) Trap() *Builder {
	b.body = append(b.body, 0x00)
	return b
}

// Spin loops forever.
func (b *Builder) Spin() *Builder {
	b.body = append(b.body, 0x03, 0x40, 0x0c, 0x00, 0x0b)
	return b
}

// OmitAllocate drops the allocate export.
func (b *Builder) OmitAllocate() *Builder {
	b.omitAllocate = true
	return b
}

// OmitRun drops the run export.
func (b *Builder) OmitRun() *Builder {
	b.omitRun = true
	return b
}

// Return finishes run with the given status and builds the module.
func (b *Builder) Return(status int32) []byte {
	body := append([]byte{}, b.body...)
	body = append(body, 0x41)
	body = appendSLEB(body, int64(status))
	body = append(body, 0x0b)
	return b.build(body)
}

func (b *Builder) pushPayload(payload string) {
	offset := dataBase + len(b.data)
	b.data = append(b.data, payload...)
	packed := int64(offset)<<32 | int64(len(payload))
	b.body = append(b.body, 0x42)
	b.body = appendSLEB(b.body, packed)
}

func (b *Builder) call(fn uint32) {
	b.body = append(b.body, 0x10)
	b.body = appendULEB(b.body, uint64(fn))
}

func (b *Builder) build(runBody []byte) []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	// type: 0 (i64)->i64, 1 (i64)->(), 2 (i32)->i32, 3 ()->i32
	writeSection(&out, 1, vec(
		[]byte{0x60, 0x01, 0x7e, 0x01, 0x7e},
		[]byte{0x60, 0x01, 0x7e, 0x00},
		[]byte{0x60, 0x01, 0x7f, 0x01, 0x7f},
		[]byte{0x60, 0x00, 0x01, 0x7f},
	))

	if len(b.imports) > 0 {
		entries := make([][]byte, 0, len(b.imports))
		for _, imp := range b.imports {
			e := appendName(nil, imp.module)
			e = appendName(e, imp.name)
			e = append(e, 0x00, byte(imp.sig))
			entries = append(entries, e)
		}
		writeSection(&out, 2, vec(entries...))
	}

	writeSection(&out, 3, vec([]byte{typeAllocate}, []byte{typeRun}))
	writeSection(&out, 5, vec([]byte{0x00, memPages}))

	global := []byte{0x7f, 0x01, 0x41}
	global = appendSLEB(global, heapStart)
	global = append(global, 0x0b)
	writeSection(&out, 6, vec(global))

	base := uint64(len(b.imports))
	exports := [][]byte{append(appendName(nil, "memory"), 0x02, 0x00)}
	if !b.omitAllocate {
		exports = append(exports, appendULEB(append(appendName(nil, "allocate"), 0x00), base))
	}
	if !b.omitRun {
		exports = append(exports, appendULEB(append(appendName(nil, "run"), 0x00), base+1))
	}
	writeSection(&out, 7, vec(exports...))

	// allocate bumps a global heap pointer and returns its old value.
	allocate := []byte{0x00, 0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6a, 0x24, 0x00, 0x0b}
	run := append([]byte{0x00}, runBody...)
	writeSection(&out, 10, vec(sized(allocate), sized(run)))

	if len(b.data) > 0 {
		seg := []byte{0x00, 0x41}
		seg = appendSLEB(seg, dataBase)
		seg = append(seg, 0x0b)
		seg = appendULEB(seg, uint64(len(b.data)))
		seg = append(seg, b.data...)
		writeSection(&out, 11, vec(seg))
	}
	return out.Bytes()
}

func writeSection(out *bytes.Buffer, id byte, content []byte) {
	out.WriteByte(id)
	out.Write(appendULEB(nil, uint64(len(content))))
	out.Write(content)
}

func vec(items ...[]byte) []byte {
	out := appendULEB(nil, uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func sized(body []byte) []byte {
	return append(appendULEB(nil, uint64(len(body))), body...)
}

func appendName(dst []byte, name string) []byte {
	dst = appendULEB(dst, uint64(len(name)))
	return append(dst, name...)
}

func appendULEB(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

func appendSLEB(dst []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(dst, c)
		}
		dst = append(dst, c|0x80)
	}
}
