// Package debugger implements the Debugger facade: it binds a process
// backend, a Cpu, and a breakpoint table together into the single
// logical view of a traced process that every other layer (API, TUI,
// GUI) consumes.
package debugger

import (
	"github.com/lookbusy1344/x86dbg/breakpoint"
	"github.com/lookbusy1344/x86dbg/cpu"
	"github.com/lookbusy1344/x86dbg/process"
)

// EventSink receives outbound notifications from a Debugger: informational
// messages, process exit, delivered signals, and newly probed modules.
//
// Grounded on original_source/include/dbg/process.h's ProcessEvents,
// generalized with the on_module_probed addition.
type EventSink interface {
	OnMessage(msg string)
	OnProcessExited(code int)
	OnSignal(sig int)
	OnModuleProbed(base breakpoint.Address, name string)
}

// Debugger is the facade described in this package's doc comment. All
// memory access and breakpoint management goes through it rather than
// directly through the ProcessBackend, so that breakpoint patch bytes
// never leak into a caller's view of target memory.
type Debugger struct {
	proc  process.Backend
	cpu   cpu.Cpu
	bps   *breakpoint.Table
	sink  EventSink
}

// sinkAdapter bridges process.EventSink (used by the OS backend) to
// this package's EventSink (used by everything above the facade).
type sinkAdapter struct{ d *Debugger }

func (s sinkAdapter) OnMessage(msg string)    { s.d.sink.OnMessage(msg) }
func (s sinkAdapter) OnProcessExited(c int)   { s.d.sink.OnProcessExited(c) }
func (s sinkAdapter) OnSignal(sig int)        { s.d.sink.OnSignal(sig) }
func (s sinkAdapter) OnModuleProbed(base process.Address, name string) {
	s.d.sink.OnModuleProbed(breakpoint.Address(base), name)
}

// nopSink is used until a caller installs a real EventSink.
type nopSink struct{}

func (nopSink) OnMessage(string)                    {}
func (nopSink) OnProcessExited(int)                 {}
func (nopSink) OnSignal(int)                        {}
func (nopSink) OnModuleProbed(breakpoint.Address, string) {}

// New constructs a Debugger around the given Cpu and a backend
// constructor. The backend constructor is called with an EventSink
// adapter that forwards to the Debugger's own sink, mirroring
// original_source/src/dbg.cc's Create() wiring (proc->Cpu = cpu,
// proc->EventCallbacks set before anything attaches).
func New(c cpu.Cpu, newBackend func(process.EventSink) process.Backend) *Debugger {
	d := &Debugger{cpu: c, bps: breakpoint.NewTable(), sink: nopSink{}}
	d.proc = newBackend(sinkAdapter{d})
	return d
}

// SetEventSink installs the sink that receives this Debugger's
// outbound notifications.
func (d *Debugger) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = nopSink{}
	}
	d.sink = sink
}

// Attach attaches to an already-running process.
func (d *Debugger) Attach(pid int) error {
	if err := d.proc.Attach(pid); err != nil {
		return errOs(err, "attach to pid %d", pid)
	}
	return nil
}

// Launch starts and attaches to a new process.
func (d *Debugger) Launch(argv []string) error {
	if len(argv) == 0 {
		return errInvalidArgument("empty argv")
	}
	if err := d.proc.Launch(argv); err != nil {
		return errOs(err, "launch %s", argv[0])
	}
	return nil
}

// BlockSize is the process backend's recommended bulk-transfer granularity.
func (d *Debugger) BlockSize() int { return d.proc.BlockSize() }

// GetRegister reads one register, addressed by the bound Cpu's Reg index.
//
// Grounded on original_source/src/shell/register.cc, which reads
// registers straight through proc rather than through the facade.
func (d *Debugger) GetRegister(regno int) (uint64, error) {
	v, err := d.proc.GetRegister(regno)
	if err != nil {
		return 0, errOs(err, "get register %d", regno)
	}
	return v, nil
}

// SetRegister writes one register, addressed by the bound Cpu's Reg index.
func (d *Debugger) SetRegister(regno int, value uint64) error {
	if err := d.proc.SetRegister(regno, value); err != nil {
		return errOs(err, "set register %d", regno)
	}
	return nil
}

// ReadMemory reads len(buf) bytes of the target's logical memory at
// addr, splicing in each breakpoint's original bytes so a caller never
// observes a breakpoint's patch.
//
// Grounded on original_source/src/dbg.cc Debugger::ReadMemory.
func (d *Debugger) ReadMemory(addr breakpoint.Address, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	if err := d.proc.ReadMemory(process.Address(addr), buf); err != nil {
		return errOs(err, "read memory at 0x%x", addr)
	}

	for _, bp := range d.bps.FindInRange(addr, len(buf)) {
		start := max(addr, bp.Addr)
		end := min(addr+breakpoint.Address(len(buf)), bp.Addr+breakpoint.Address(bp.Size))
		if start >= end {
			continue
		}
		copy(buf[start-addr:], bp.OldText()[start-bp.Addr:end-bp.Addr])
	}
	return nil
}

// WriteMemory writes buf into the target's logical memory at addr. Any
// byte range shadowed by a breakpoint is written into that
// breakpoint's recorded original-text buffer instead of the live
// process, so the breakpoint's patch remains intact until deleted.
//
// Grounded on original_source/src/dbg.cc Debugger::WriteMemory.
func (d *Debugger) WriteMemory(addr breakpoint.Address, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	for _, bp := range d.bps.FindInRange(addr, len(buf)) {
		if bp.Addr > addr {
			prefix := int(bp.Addr - addr)
			if err := d.proc.WriteMemory(process.Address(addr), buf[:prefix]); err != nil {
				return errOs(err, "write memory at 0x%x", addr)
			}
			addr += breakpoint.Address(prefix)
			buf = buf[prefix:]
		}

		off := 0
		if bp.Addr < addr {
			off = int(addr - bp.Addr)
		}

		n := min(len(buf), bp.Size-off)
		copy(bp.OldText()[off:], buf[:n])

		addr += breakpoint.Address(n)
		buf = buf[n:]

		if len(buf) == 0 {
			return nil
		}
	}

	if err := d.proc.WriteMemory(process.Address(addr), buf); err != nil {
		return errOs(err, "write memory at 0x%x", addr)
	}
	return nil
}

// Detach restores every breakpoint's original bytes, then releases
// the process to run freely.
func (d *Debugger) Detach() error {
	for _, bp := range d.bps.All() {
		if err := d.proc.WriteMemory(process.Address(bp.Addr), bp.OldText()); err != nil {
			return errOs(err, "restore original bytes at 0x%x", bp.Addr)
		}
	}
	if err := d.proc.Detach(); err != nil {
		return errOs(err, "detach")
	}
	return nil
}

// CurrentBreakpoint returns the breakpoint (if any) at the current PC.
func (d *Debugger) CurrentBreakpoint() (*breakpoint.Breakpoint, error) {
	pc, err := d.cpu.GetPC(d.proc)
	if err != nil {
		return nil, errOs(err, "get pc")
	}
	return d.bps.Lookup(breakpoint.Address(pc)), nil
}

// Step executes exactly one instruction. If the current PC sits on a
// breakpoint, its patch is removed before stepping and reapplied
// immediately after, so the single-step executes the real instruction.
//
// Grounded on original_source/src/dbg.cc Debugger::Step.
func (d *Debugger) Step() error {
	bp, err := d.CurrentBreakpoint()
	if err != nil {
		return err
	}

	if bp != nil {
		if err := d.proc.WriteMemory(process.Address(bp.Addr), bp.OldText()); err != nil {
			return errOs(err, "unpatch breakpoint at 0x%x", bp.Addr)
		}
	}

	if err := d.proc.Step(); err != nil {
		return errOs(err, "step")
	}

	if bp != nil {
		if err := d.proc.WriteMemory(process.Address(bp.Addr), bp.PatchedText()); err != nil {
			return errOs(err, "repatch breakpoint at 0x%x", bp.Addr)
		}
	}
	return nil
}

// Go resumes the process until the next breakpoint, signal, or exit.
// If stopped on a breakpoint, it first steps over it (see Step) and
// rechecks before actually resuming, so a single-byte breakpoint at
// the current PC can never cause an instant re-trap. When the resume
// itself stops on a bare trap, Cpu.OnBreakpointHit rewinds PC back to
// the breakpoint's address before Go returns, so callers always see
// PC sitting on the breakpoint rather than just past it.
//
// Grounded on original_source/src/dbg.cc Debugger::Go.
func (d *Debugger) Go() error {
	bp, err := d.CurrentBreakpoint()
	if err != nil {
		return err
	}

	if bp != nil {
		if err := d.Step(); err != nil {
			return err
		}
		after, err := d.CurrentBreakpoint()
		if err != nil {
			return err
		}
		if after != nil {
			// Landed on another breakpoint immediately; stop here
			// rather than resuming past it.
			return nil
		}
	}

	if err := d.proc.Go(); err != nil {
		return errOs(err, "go")
	}

	if d.proc.LastStopWasTrap() {
		if err := d.cpu.OnBreakpointHit(d.proc); err != nil {
			return errOs(err, "on breakpoint hit")
		}
	}
	return nil
}

// SetBreakpoint patches a software breakpoint at pc. If the Cpu uses a
// variable-size encoding, the instruction at pc is decoded first to
// size the patch correctly; on any failure after the table insert, the
// insert is rolled back so the table never holds a half-applied entry.
//
// Grounded on original_source/src/dbg.cc Debugger::SetBreakpoint.
func (d *Debugger) SetBreakpoint(pc breakpoint.Address) (*breakpoint.Breakpoint, error) {
	size := d.cpu.FixedBreakpointSize()

	text := make([]byte, 16)
	if size == 0 {
		if err := d.ReadMemory(pc, text); err != nil {
			return nil, err
		}
		n, err := d.cpu.InstructionLength(text)
		if err != nil || n <= 0 {
			return nil, errInternal("could not determine instruction length at 0x%x", pc)
		}
		size = n
	} else {
		if err := d.ReadMemory(pc, text[:size]); err != nil {
			return nil, err
		}
	}

	bp, err := d.bps.Insert(pc, size)
	if err != nil {
		return nil, newErr(KindOverlap, err, "set breakpoint at 0x%x", pc)
	}

	bp.SetOldText(text[:size])

	patch := make([]byte, size)
	d.cpu.GenerateBreakpoint(process.Address(pc), patch)
	bp.SetPatchedText(patch)

	if err := d.proc.WriteMemory(process.Address(pc), patch); err != nil {
		d.bps.RollbackLast()
		return nil, errOs(err, "patch breakpoint at 0x%x", pc)
	}
	return bp, nil
}

// DeleteBreakpoint removes the breakpoint at table index idx,
// restoring its original bytes in the target first.
//
// Grounded on original_source/src/dbg.cc Debugger::DeleteBreakpoint.
func (d *Debugger) DeleteBreakpoint(idx int) error {
	all := d.bps.All()
	if idx < 0 || idx >= len(all) {
		return errInvalidArgument("invalid breakpoint index %d", idx)
	}
	bp := all[idx]

	if err := d.proc.WriteMemory(process.Address(bp.Addr), bp.OldText()); err != nil {
		return errOs(err, "restore original bytes at 0x%x", bp.Addr)
	}

	if _, err := d.bps.RemoveAt(idx); err != nil {
		return errInternal("%v", err)
	}
	return nil
}

// Breakpoints returns every currently installed breakpoint, in table order.
func (d *Debugger) Breakpoints() []*breakpoint.Breakpoint { return d.bps.All() }

// Cpu returns the Cpu bound to this Debugger, for callers that need to
// disassemble or walk the stack directly.
func (d *Debugger) Cpu() cpu.Cpu { return d.cpu }

// Pid returns the attached process ID: 0 before any Attach or Launch,
// and -1 after Detach, Quit or (on Linux) the target's exit.
func (d *Debugger) Pid() int { return d.proc.Pid() }

// GetPC returns the current program counter.
func (d *Debugger) GetPC() (breakpoint.Address, error) {
	pc, err := d.cpu.GetPC(d.proc)
	if err != nil {
		return 0, errOs(err, "get pc")
	}
	return breakpoint.Address(pc), nil
}

// Disassemble decodes up to count instructions starting at addr,
// reading through the facade's breakpoint-spliced logical memory, and
// invokes fn once per instruction.
//
// Grounded on original_source/src/shell/disassemble.cc, which calls
// dbg->cpu->Disassemble directly against the live process.
func (d *Debugger) Disassemble(addr breakpoint.Address, count int, fn func(cpu.Instruction) error) error {
	read := func(a process.Address, buf []byte) error {
		return d.ReadMemory(breakpoint.Address(a), buf)
	}
	if err := d.cpu.Disassemble(process.Address(addr), count, read, fn); err != nil {
		return errOs(err, "disassemble at 0x%x", addr)
	}
	return nil
}

// StackTrace walks the call stack from the current PC and frame
// pointer, invoking fn once per frame.
//
// Grounded on original_source/src/shell/commands.cc's "bt" command,
// which calls st.dbg->cpu->StackTrace directly against the live process.
func (d *Debugger) StackTrace(fn func(pc, frame breakpoint.Address, cancel *bool) error) error {
	read := func(a process.Address, buf []byte) error {
		return d.ReadMemory(breakpoint.Address(a), buf)
	}
	wrapped := func(pc, frame process.Address, cancel *bool) error {
		return fn(breakpoint.Address(pc), breakpoint.Address(frame), cancel)
	}
	if err := d.cpu.StackTrace(d.proc, read, wrapped); err != nil {
		return errOs(err, "stack trace")
	}
	return nil
}
