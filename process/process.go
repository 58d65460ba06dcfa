// Package process abstracts the OS-specific mechanics of controlling a
// native process: attaching, reading/writing its memory, inspecting
// and altering its registers, and stepping or resuming it.
//
// Two concrete backends exist: ptrace_linux.go (ptrace(2) + wait4,
// Linux) and exc_darwin.go (Mach exception ports, Darwin). Callers
// only see the Backend interface.
package process

import "fmt"

// Address is a target process virtual address.
type Address uint64

// Backend is the OS-specific half of process control. It knows
// nothing about breakpoints or disassembly; that is the Debugger
// facade's and Cpu's job respectively.
type Backend interface {
	// Attach attaches to an already-running process.
	Attach(pid int) error

	// Launch starts argv[0] with the given arguments, stopped at its
	// entry point, and attaches to it.
	Launch(argv []string) error

	// BlockSize is the recommended granularity for bulk memory
	// transfers against this backend.
	BlockSize() int

	ReadMemory(addr Address, buf []byte) error
	WriteMemory(addr Address, buf []byte) error

	// GetRegister/SetRegister address registers by the Cpu's Reg
	// index (an architecture detail this package does not interpret).
	GetRegister(regno int) (uint64, error)
	SetRegister(regno int, value uint64) error

	// Step resumes the process for exactly one instruction, then stops it.
	Step() error
	// Go resumes the process until the next breakpoint, signal, or exit.
	Go() error
	// Interrupt asynchronously stops a running Go.
	Interrupt() error

	// LastStopWasTrap reports whether the most recent Step or Go
	// returned because of a bare trap (SIGTRAP after PTRACE_CONT on
	// Linux; an EXC_BREAKPOINT exception on Darwin) rather than a
	// process exit or a delivered signal. The Debugger facade uses this
	// to know when to call Cpu.OnBreakpointHit.
	LastStopWasTrap() bool

	// Detach removes the backend's hold on the process, letting it
	// run freely.
	Detach() error
	// Quit forcibly terminates the target process.
	Quit() error

	// Pid returns the target's process ID, after a successful Attach
	// or Launch.
	Pid() int
}

// EventSink receives asynchronous notifications from a Backend: output
// the target produced, process exit, delivered signals, and newly
// mapped modules discovered while probing the process's address space.
type EventSink interface {
	OnMessage(msg string)
	OnProcessExited(code int)
	OnSignal(sig int)
	OnModuleProbed(base Address, name string)
}

// NopEventSink discards every event. Useful as a default when no
// caller has installed a real sink yet.
type NopEventSink struct{}

func (NopEventSink) OnMessage(string)             {}
func (NopEventSink) OnProcessExited(int)          {}
func (NopEventSink) OnSignal(int)                 {}
func (NopEventSink) OnModuleProbed(Address, string) {}

// ErrNotAttached is returned by backend operations invoked before a
// successful Attach/Launch.
var ErrNotAttached = fmt.Errorf("process: not attached")
