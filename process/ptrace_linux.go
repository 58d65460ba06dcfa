//go:build linux

package process

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// regOffsetsAmd64 maps a Cpu register index to its field within
// unix.PtraceRegs, matching the amd64 System V register catalog order
// a Cpu implementation hands us.
var regOffsetsAmd64 = []func(*unix.PtraceRegs) *uint64{
	func(r *unix.PtraceRegs) *uint64 { return &r.Rax },
	func(r *unix.PtraceRegs) *uint64 { return &r.Rbx },
	func(r *unix.PtraceRegs) *uint64 { return &r.Rcx },
	func(r *unix.PtraceRegs) *uint64 { return &r.Rdx },
	func(r *unix.PtraceRegs) *uint64 { return &r.Rsi },
	func(r *unix.PtraceRegs) *uint64 { return &r.Rdi },
	func(r *unix.PtraceRegs) *uint64 { return &r.Rsp },
	func(r *unix.PtraceRegs) *uint64 { return &r.Rbp },
	func(r *unix.PtraceRegs) *uint64 { return &r.Rip },
	func(r *unix.PtraceRegs) *uint64 { return &r.Eflags },
	func(r *unix.PtraceRegs) *uint64 { return &r.R8 },
	func(r *unix.PtraceRegs) *uint64 { return &r.R9 },
	func(r *unix.PtraceRegs) *uint64 { return &r.R10 },
	func(r *unix.PtraceRegs) *uint64 { return &r.R11 },
	func(r *unix.PtraceRegs) *uint64 { return &r.R12 },
	func(r *unix.PtraceRegs) *uint64 { return &r.R13 },
	func(r *unix.PtraceRegs) *uint64 { return &r.R14 },
	func(r *unix.PtraceRegs) *uint64 { return &r.R15 },
}

// PtraceBackend implements Backend on Linux using ptrace(2) and wait4.
//
// Grounded on original_source/src/ptrace.cc: registers are cached and
// marked dirty on every resume (Step/Go); a held pendingSignal is
// re-injected on the next resume; lastStep records whether the last
// resume was a single-step or a continue, so a later SIGTRAP can be
// told apart from a breakpoint hit.
type PtraceBackend struct {
	pid             int
	sink            EventSink
	registersDirty  bool
	registers       unix.PtraceRegs
	pendingSignal   int
	lastStepWasCont bool
	lastStopWasTrap bool
	memFile         *os.File
}

// NewPtraceBackend returns a backend that delivers events to sink (may
// be NopEventSink{}).
func NewPtraceBackend(sink EventSink) *PtraceBackend {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &PtraceBackend{sink: sink, registersDirty: true}
}

func (p *PtraceBackend) Pid() int { return p.pid }

func (p *PtraceBackend) Attach(pid int) error {
	if err := unix.PtraceAttach(pid); err != nil {
		return fmt.Errorf("process: ptrace attach %d: %w", pid, err)
	}
	p.pid = pid
	return p.onAttach()
}

func (p *PtraceBackend) Launch(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("process: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("process: launch %s: %w", argv[0], err)
	}
	p.pid = cmd.Process.Pid
	return p.onAttach()
}

func (p *PtraceBackend) onAttach() error {
	if err := p.wait(true); err != nil {
		return err
	}

	if f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", p.pid), os.O_RDWR, 0); err == nil {
		p.memFile = f
	}

	p.detectModules()
	return nil
}

// BlockSize returns the bulk-transfer granularity: a full page via
// /proc/<pid>/mem when available, else one machine word via the
// traditional PEEKDATA/POKEDATA interface.
func (p *PtraceBackend) BlockSize() int {
	if p.memFile != nil {
		return 4096
	}
	return 8
}

func (p *PtraceBackend) ReadMemory(addr Address, buf []byte) error {
	if p.memFile != nil {
		_, err := p.memFile.ReadAt(buf, int64(addr))
		if err != nil {
			return fmt.Errorf("process: read memory at 0x%x: %w", addr, err)
		}
		return nil
	}
	if _, err := unix.PtracePeekData(p.pid, uintptr(addr), buf); err != nil {
		return fmt.Errorf("process: peekdata at 0x%x: %w", addr, err)
	}
	return nil
}

func (p *PtraceBackend) WriteMemory(addr Address, buf []byte) error {
	if p.memFile != nil {
		_, err := p.memFile.WriteAt(buf, int64(addr))
		if err != nil {
			return fmt.Errorf("process: write memory at 0x%x: %w", addr, err)
		}
		return nil
	}
	if _, err := unix.PtracePokeData(p.pid, uintptr(addr), buf); err != nil {
		return fmt.Errorf("process: pokedata at 0x%x: %w", addr, err)
	}
	return nil
}

func (p *PtraceBackend) loadAllRegisters() error {
	if !p.registersDirty {
		return nil
	}
	if err := unix.PtraceGetRegs(p.pid, &p.registers); err != nil {
		return fmt.Errorf("process: getregs: %w", err)
	}
	p.registersDirty = false
	return nil
}

func (p *PtraceBackend) storeAllRegisters() error {
	if err := unix.PtraceSetRegs(p.pid, &p.registers); err != nil {
		p.registersDirty = true
		return fmt.Errorf("process: setregs: %w", err)
	}
	return nil
}

func (p *PtraceBackend) GetRegister(regno int) (uint64, error) {
	if regno < 0 || regno >= len(regOffsetsAmd64) {
		return 0, fmt.Errorf("process: invalid register %d", regno)
	}
	if err := p.loadAllRegisters(); err != nil {
		return 0, err
	}
	return *regOffsetsAmd64[regno](&p.registers), nil
}

func (p *PtraceBackend) SetRegister(regno int, value uint64) error {
	if regno < 0 || regno >= len(regOffsetsAmd64) {
		return fmt.Errorf("process: invalid register %d", regno)
	}
	if err := p.loadAllRegisters(); err != nil {
		return err
	}
	*regOffsetsAmd64[regno](&p.registers) = value
	return p.storeAllRegisters()
}

// markRegistersDirty forces the next GetRegister/SetRegister to reload
// from the kernel; any resume invalidates the cache.
func (p *PtraceBackend) markRegistersDirty() { p.registersDirty = true }

func (p *PtraceBackend) wait(block bool) error {
	p.pendingSignal = 0
	p.lastStopWasTrap = false

	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(p.pid, &ws, 0, nil)
		if err != nil {
			return fmt.Errorf("process: wait4: %w", err)
		}

		switch {
		case ws.Exited():
			p.sink.OnMessage(fmt.Sprintf("exited with status %d", ws.ExitStatus()))
			p.sink.OnProcessExited(ws.ExitStatus())
			p.pid = -1
			return nil

		case ws.Signaled():
			sig := ws.Signal()
			p.sink.OnMessage(fmt.Sprintf("terminated due to signal %s", sig))
			p.sink.OnProcessExited(-1)
			p.pid = -1
			return nil

		case ws.Stopped():
			sig := ws.StopSignal()
			if sig != unix.SIGTRAP {
				switch sig {
				case unix.SIGTTIN, unix.SIGTTOU, unix.SIGCHLD:
					// Transparently resume with whatever resume mode
					// was last requested (step or continue); full
					// terminal pgrp hand-off is an interactive-shell
					// concern out of scope for this non-interactive core.
					var resumeErr error
					if p.lastStepWasCont {
						resumeErr = unix.PtraceCont(p.pid, int(unix.SIGCONT))
					} else {
						resumeErr = unix.PtraceSingleStep(p.pid)
					}
					if resumeErr != nil {
						return fmt.Errorf("process: resume after %s: %w", sig, resumeErr)
					}
					continue
				case unix.SIGINT, unix.SIGSTOP:
					// Report only, no pending-signal re-injection.
				default:
					p.pendingSignal = int(sig)
				}

				p.sink.OnMessage(fmt.Sprintf("stopped due to signal %s", sig))
				p.sink.OnSignal(int(sig))
				return nil
			}

			if p.lastStepWasCont {
				// SIGTRAP after PTRACE_CONT: a breakpoint trap. This
				// backend only classifies the stop; LastStopWasTrap
				// tells the Debugger facade to call Cpu.OnBreakpointHit,
				// which rewinds PC by the trap width.
				p.lastStopWasTrap = true
			}
			return nil

		default:
			return nil
		}
	}
}

func (p *PtraceBackend) Step() error {
	p.markRegistersDirty()
	p.lastStepWasCont = false
	// unix.PtraceSingleStep takes no signal, so issue the request
	// directly to re-inject any held pendingSignal, as Go does.
	if _, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SINGLESTEP, uintptr(p.pid), 0, uintptr(p.pendingSignal), 0, 0); errno != 0 {
		return fmt.Errorf("process: singlestep: %w", errno)
	}
	return p.wait(true)
}

func (p *PtraceBackend) Go() error {
	p.markRegistersDirty()
	p.lastStepWasCont = true
	if err := unix.PtraceCont(p.pid, p.pendingSignal); err != nil {
		return fmt.Errorf("process: cont: %w", err)
	}
	return p.wait(true)
}

// LastStopWasTrap reports whether the most recent Step or Go stopped
// on a bare SIGTRAP rather than a signal or exit.
func (p *PtraceBackend) LastStopWasTrap() bool { return p.lastStopWasTrap }

func (p *PtraceBackend) Interrupt() error {
	if p.pid < 0 {
		return nil
	}
	if err := unix.Kill(p.pid, unix.SIGINT); err != nil {
		return fmt.Errorf("process: interrupt: %w", err)
	}
	return p.wait(true)
}

func (p *PtraceBackend) Detach() error {
	if err := unix.PtraceDetach(p.pid); err != nil {
		return fmt.Errorf("process: detach: %w", err)
	}
	p.clearPid()
	return nil
}

func (p *PtraceBackend) Quit() error {
	if p.pid < 0 {
		return nil
	}
	// PTRACE_KILL is deprecated and unreliable on modern kernels;
	// SIGKILL is the documented replacement.
	if err := unix.Kill(p.pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("process: kill: %w", err)
	}
	p.clearPid()
	return nil
}

func (p *PtraceBackend) clearPid() {
	p.pid = -1
	if p.memFile != nil {
		p.memFile.Close()
		p.memFile = nil
	}
}

// detectModules reads /proc/<pid>/maps for executable, zero-offset
// mappings and reports each as a probed module, mirroring
// original_source's DetectModules.
func (p *PtraceBackend) detectModules() {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		rng, perms, offsetStr := fields[0], fields[1], fields[2]
		path := ""
		if len(fields) >= 6 {
			path = fields[5]
		}

		if len(perms) < 3 || perms[2] != 'x' {
			continue
		}
		offset, err := strconv.ParseUint(offsetStr, 16, 64)
		if err != nil || offset != 0 {
			continue
		}

		startStr, _, ok := strings.Cut(rng, "-")
		if !ok {
			continue
		}
		start, err := strconv.ParseUint(startStr, 16, 64)
		if err != nil {
			continue
		}

		if path == "-unknown-" {
			path = ""
		}

		p.sink.OnModuleProbed(Address(start), path)
	}
}
