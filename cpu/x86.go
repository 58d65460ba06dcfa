package cpu

import (
	"bytes"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/lookbusy1344/x86dbg/process"
)

// x86Cpu implements Cpu for 32-bit and 64-bit x86.
//
// Grounded on original_source/src/x86.cc: breakpoints are a single
// 0xCC (INT3) byte regardless of word size, instruction length comes
// from decoding one instruction at the target address, and
// OnBreakpointHit rewinds IP by exactly one byte (the INT3 width)
// after a trap.
type x86Cpu struct {
	mode    int // 32 or 64, per x86asm.Mode
	catalog []RegInfo
}

// New64 returns a Cpu for x86-64 (amd64) targets.
func New64() Cpu { return &x86Cpu{mode: 64, catalog: regInfo64()} }

// New32 returns a Cpu for 32-bit x86 (i386) targets.
func New32() Cpu { return &x86Cpu{mode: 32, catalog: regInfo32()} }

func (c *x86Cpu) Registers() []RegInfo { return c.catalog }

func (c *x86Cpu) RegisterByName(name string) (Reg, bool) { return byName(c.catalog, name) }

func (c *x86Cpu) InstructionLength(buf []byte) (int, error) {
	inst, err := x86asm.Decode(buf, c.mode)
	if err != nil {
		return 0, fmt.Errorf("cpu: decode instruction: %w", err)
	}
	return inst.Len, nil
}

func (c *x86Cpu) FixedBreakpointSize() int { return 1 }

func (c *x86Cpu) GenerateBreakpoint(_ process.Address, buf []byte) {
	for i := range buf {
		buf[i] = 0xCC
	}
}

func (c *x86Cpu) GetPC(proc process.Backend) (process.Address, error) {
	v, err := proc.GetRegister(int(RegIP))
	if err != nil {
		return 0, err
	}
	return process.Address(v), nil
}

func (c *x86Cpu) OnBreakpointHit(proc process.Backend) error {
	ip, err := proc.GetRegister(int(RegIP))
	if err != nil {
		return err
	}
	return proc.SetRegister(int(RegIP), ip-1)
}

// Disassemble streams instructions starting at addr, filling a
// block-sized lookahead buffer through read as it's consumed, exactly
// as original_source/src/x86.cc's input_hook does for udis86.
func (c *x86Cpu) Disassemble(addr process.Address, count int, read MemReader, fn func(Instruction) error) error {
	const blockSize = 256
	buf := make([]byte, blockSize)
	offset := blockSize // force an initial fill

	pc := addr
	for count < 0 || count > 0 {
		// Ensure at least the max instruction length (15 bytes on
		// x86) is available ahead of offset; refill if not.
		if offset+15 > len(buf) {
			if err := read(pc, buf); err != nil {
				return nil // EOF-style stop, matching the original's UD_EOI-on-read-failure.
			}
			offset = 0
		}

		inst, err := x86asm.Decode(buf[offset:], c.mode)
		if err != nil {
			return nil
		}

		text := x86asm.IntelSyntax(inst, uint64(pc), nil)
		ib := bytes.Clone(buf[offset : offset+inst.Len])

		if err := fn(Instruction{Addr: pc, Bytes: ib, Length: inst.Len, Text: text}); err != nil {
			return err
		}

		offset += inst.Len
		pc += process.Address(inst.Len)
		if count > 0 {
			count--
		}
	}
	return nil
}

// StackTrace walks call frames via the frame pointer, translating
// original_source/src/x86.cc's Cpu::StackTrace almost instruction for
// instruction: it special-cases being stopped mid-prologue/epilogue
// ("mov bp, sp", "push bp", "ret") before falling back to the regular
// {saved-bp, return-address} chain.
func (c *x86Cpu) StackTrace(proc process.Backend, read MemReader, fn func(pc, frame process.Address, cancel *bool) error) error {
	ptrSize := 8
	if c.mode == 32 {
		ptrSize = 4
	}

	cancel := false

	ipVal, err := proc.GetRegister(int(RegIP))
	if err != nil {
		return err
	}
	frameVal, err := proc.GetRegister(int(RegBP))
	if err != nil {
		return err
	}
	ip, frame := process.Address(ipVal), process.Address(frameVal)

	if err := fn(ip, frame, &cancel); err != nil {
		return err
	}
	if cancel {
		return nil
	}

	buf := make([]byte, 16)
	if err := read(ip, buf); err != nil {
		return err
	}
	inst, err := x86asm.Decode(buf, c.mode)
	if err != nil {
		return fmt.Errorf("cpu: stack trace disassemble failed: %w", err)
	}

	switch inst.Op {
	case x86asm.MOV:
		if dst, ok := inst.Args[0].(x86asm.Reg); ok && (dst == x86asm.EBP || dst == x86asm.RBP) {
			if src, ok := inst.Args[1].(x86asm.Reg); ok && (src == x86asm.ESP || src == x86asm.RSP) {
				spVal, err := proc.GetRegister(int(RegSP))
				if err != nil {
					return err
				}
				frame = process.Address(spVal)
			}
		}

	case x86asm.PUSH:
		if reg, ok := inst.Args[0].(x86asm.Reg); !ok || (reg != x86asm.EBP && reg != x86asm.RBP) {
			break
		}
		fallthrough

	case x86asm.RET:
		spVal, err := proc.GetRegister(int(RegSP))
		if err != nil {
			return err
		}
		stack := process.Address(spVal)

		retBuf := make([]byte, ptrSize)
		if err := read(stack, retBuf); err != nil {
			return err
		}
		ip = readPtr(retBuf, ptrSize)

		if ip != 0 {
			if err := fn(ip, frame, &cancel); err != nil {
				return err
			}
			if cancel {
				return nil
			}
		}
	}

	for !cancel && ip != 0 && frame != 0 {
		pair := make([]byte, 2*ptrSize)
		if err := read(frame, pair); err != nil {
			return err
		}

		frame = readPtr(pair[:ptrSize], ptrSize)
		ip = readPtr(pair[ptrSize:], ptrSize)

		if ip != 0 {
			if err := fn(ip, frame, &cancel); err != nil {
				return err
			}
		}
	}
	return nil
}

func readPtr(buf []byte, size int) process.Address {
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return process.Address(v)
}
