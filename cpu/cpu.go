// Package cpu supplies the x86/x86-64 instruction-engine glue a
// debugger needs on top of a raw process: a register catalog,
// breakpoint-byte generation, instruction length probing,
// disassembly, and frame-pointer stack walking.
package cpu

import "github.com/lookbusy1344/x86dbg/process"

// Reg is a register index, stable across 32- and 64-bit targets; the
// 64-bit-only registers (R8-R15) are simply absent from the catalog of
// a 32-bit Cpu.
type Reg int

const (
	RegAX Reg = iota
	RegBX
	RegCX
	RegDX
	RegSI
	RegDI
	RegSP
	RegBP
	RegIP
	RegFlags
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	regCount
)

// RegInfo describes one entry of a Cpu's register catalog.
type RegInfo struct {
	Reg  Reg
	Name string
	Size int // bytes
}

// Cpu is the architecture-specific glue between a Debugger facade and
// a raw ProcessBackend: it knows how to decode instructions, generate
// and recognize breakpoint encodings, and walk stack frames. It holds
// no process state of its own.
type Cpu interface {
	// Registers returns the register catalog for this Cpu (AX..FLAGS,
	// plus R8-R15 on amd64).
	Registers() []RegInfo

	// RegisterByName looks up a register by its catalog name (case
	// sensitive, exact match only), returning ok=false if it doesn't exist.
	RegisterByName(name string) (Reg, bool)

	// InstructionLength decodes a single instruction starting at buf
	// and returns its length in bytes, or an error if buf does not
	// begin with a valid instruction.
	InstructionLength(buf []byte) (int, error)

	// FixedBreakpointSize returns the size in bytes of this
	// architecture's breakpoint encoding, or 0 if breakpoints must be
	// sized to the instruction they replace.
	FixedBreakpointSize() int

	// GenerateBreakpoint fills buf (already sized to the breakpoint
	// length) with the architecture's breakpoint-trap encoding.
	GenerateBreakpoint(pc process.Address, buf []byte)

	// GetPC reads the current program counter from proc.
	GetPC(proc process.Backend) (process.Address, error)

	// OnBreakpointHit adjusts proc's program counter after a
	// breakpoint trap fires, so it again points at the patched
	// instruction rather than just after it.
	OnBreakpointHit(proc process.Backend) error

	// Disassemble decodes up to count instructions (or until EOF /
	// read failure if count < 0) starting at addr, reading target
	// memory through read. It invokes fn once per decoded
	// instruction; a non-nil error from fn stops iteration.
	Disassemble(addr process.Address, count int, read MemReader, fn func(Instruction) error) error

	// StackTrace walks the call stack starting at the current PC and
	// frame pointer, invoking fn once per frame. fn may set *cancel to
	// stop the walk early.
	StackTrace(proc process.Backend, read MemReader, fn func(pc, frame process.Address, cancel *bool) error) error
}

// MemReader reads len(buf) bytes of target memory at addr into buf,
// through the Debugger's logical (breakpoint-spliced) view.
type MemReader func(addr process.Address, buf []byte) error

// Instruction is one decoded instruction, as produced by Disassemble.
type Instruction struct {
	Addr   process.Address
	Bytes  []byte
	Length int
	Text   string // Intel-syntax disassembly
}

func regInfo64() []RegInfo {
	return []RegInfo{
		{RegAX, "rax", 8}, {RegBX, "rbx", 8}, {RegCX, "rcx", 8}, {RegDX, "rdx", 8},
		{RegSI, "rsi", 8}, {RegDI, "rdi", 8}, {RegSP, "rsp", 8}, {RegBP, "rbp", 8},
		{RegIP, "rip", 8}, {RegFlags, "eflags", 8},
		{RegR8, "r8", 8}, {RegR9, "r9", 8}, {RegR10, "r10", 8}, {RegR11, "r11", 8},
		{RegR12, "r12", 8}, {RegR13, "r13", 8}, {RegR14, "r14", 8}, {RegR15, "r15", 8},
	}
}

func regInfo32() []RegInfo {
	return []RegInfo{
		{RegAX, "eax", 4}, {RegBX, "ebx", 4}, {RegCX, "ecx", 4}, {RegDX, "edx", 4},
		{RegSI, "esi", 4}, {RegDI, "edi", 4}, {RegSP, "esp", 4}, {RegBP, "ebp", 4},
		{RegIP, "eip", 4}, {RegFlags, "eflags", 4},
	}
}

func byName(catalog []RegInfo, name string) (Reg, bool) {
	for _, r := range catalog {
		if r.Name == name {
			return r.Reg, true
		}
	}
	return 0, false
}
