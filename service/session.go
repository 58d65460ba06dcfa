// Package service provides a thread-safe wrapper around a
// debugger.Debugger, shared by the API server, the TUI, and the GUI so
// none of them talk to the facade directly.
//
// Lock ordering: Session holds its own sync.RWMutex (s.mu) around all
// field access. The Debugger facade has no lock of its own - callers
// reach it only through Session, so there is only one lock to reason
// about.
package service

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/lookbusy1344/x86dbg/breakpoint"
	"github.com/lookbusy1344/x86dbg/cpu"
	"github.com/lookbusy1344/x86dbg/debugger"
	"github.com/lookbusy1344/x86dbg/loader"
	"github.com/lookbusy1344/x86dbg/process"
)

// Observer receives the same notifications a debugger.EventSink does,
// plus a state-changed signal UIs can poll or subscribe to.
type Observer interface {
	OnMessage(msg string)
	OnProcessExited(code int)
	OnSignal(sig int)
	OnModuleProbed(mod ModuleInfo)
	OnStateChanged(state ExecutionState)
}

// nopObserver discards every notification.
type nopObserver struct{}

func (nopObserver) OnMessage(string)            {}
func (nopObserver) OnProcessExited(int)         {}
func (nopObserver) OnSignal(int)                {}
func (nopObserver) OnModuleProbed(ModuleInfo)   {}
func (nopObserver) OnStateChanged(ExecutionState) {}

// Session binds a debugger.Debugger to one target process and tracks
// the state a UI layer cares about: whether it is attached, its
// high-level run state, and the last probed module list.
type Session struct {
	mu       sync.RWMutex
	dbg      *debugger.Debugger
	state    ExecutionState
	observer Observer
	modules  []ModuleInfo
}

// eventAdapter bridges debugger.EventSink to Session, so the Debugger
// can be constructed before a Session exists to receive its callbacks.
type eventAdapter struct{ s *Session }

func (a eventAdapter) OnMessage(msg string) {
	a.s.mu.RLock()
	obs := a.s.observer
	a.s.mu.RUnlock()
	obs.OnMessage(msg)
}

func (a eventAdapter) OnProcessExited(code int) {
	a.s.mu.Lock()
	a.s.state = StateExited
	obs := a.s.observer
	a.s.mu.Unlock()
	obs.OnProcessExited(code)
	obs.OnStateChanged(StateExited)
}

func (a eventAdapter) OnSignal(sig int) {
	a.s.mu.RLock()
	obs := a.s.observer
	a.s.mu.RUnlock()
	obs.OnSignal(sig)
}

func (a eventAdapter) OnModuleProbed(base breakpoint.Address, name string) {
	mod := ModuleInfo{Path: name, Base: uint64(base)}
	a.s.mu.Lock()
	a.s.modules = append(a.s.modules, mod)
	obs := a.s.observer
	a.s.mu.Unlock()
	obs.OnModuleProbed(mod)
}

// NewBackend constructs the platform-appropriate process.Backend for
// the running GOOS, wired to receive the Session's events.
func NewBackend(sink process.EventSink) process.Backend {
	switch runtime.GOOS {
	case "darwin":
		return process.NewExceptionPortBackend(sink)
	default:
		return process.NewPtraceBackend(sink)
	}
}

// cpu.New64/cpu.New32 select the register-width Cpu; x86-64 targets are
// the common case, so NewSession uses cpu.New64.

// NewSession constructs a Session around a 64-bit x86 Cpu and the
// platform's default process.Backend.
func NewSession() *Session {
	return NewSessionWith(cpu.New64(), NewBackend)
}

// NewSessionWith constructs a Session around an explicit Cpu and
// backend constructor, for tests and for 32-bit targets (cpu.New32).
func NewSessionWith(c cpu.Cpu, newBackend func(process.EventSink) process.Backend) *Session {
	s := &Session{state: StateIdle, observer: nopObserver{}}
	s.dbg = debugger.New(c, newBackend)
	s.dbg.SetEventSink(eventAdapter{s})
	return s
}

// SetObserver installs the Observer that receives this Session's
// notifications. Passing nil restores the no-op observer.
func (s *Session) SetObserver(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obs == nil {
		obs = nopObserver{}
	}
	s.observer = obs
}

func (s *Session) setState(state ExecutionState) {
	s.mu.Lock()
	s.state = state
	obs := s.observer
	s.mu.Unlock()
	obs.OnStateChanged(state)
}

// Attach attaches to an already-running process and probes its module map.
func (s *Session) Attach(pid int) error {
	s.mu.Lock()
	err := s.dbg.Attach(pid)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.probeModules(pid)
	s.setState(StateStopped)
	return nil
}

// Launch starts and attaches to argv, then probes its module map.
func (s *Session) Launch(argv []string) error {
	s.mu.Lock()
	err := s.dbg.Launch(argv)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.probeModules(s.Pid())
	s.setState(StateStopped)
	return nil
}

// probeModules is best-effort: a probing failure (e.g. unsupported
// platform, or a /proc/<pid>/maps race on a just-exited process) is
// reported but does not fail Attach/Launch.
func (s *Session) probeModules(pid int) {
	if runtime.GOOS != "linux" {
		return
	}
	mods, err := loader.ProbeLinux(pid)
	if err != nil {
		s.mu.RLock()
		obs := s.observer
		s.mu.RUnlock()
		obs.OnMessage(fmt.Sprintf("module probe failed: %v", err))
		return
	}
	s.mu.Lock()
	s.modules = s.modules[:0]
	for _, m := range mods {
		s.modules = append(s.modules, ModuleInfo{Path: m.Path, Base: uint64(m.Base), Size: m.Size, Exec: m.Exec})
	}
	mods2 := append([]ModuleInfo(nil), s.modules...)
	obs := s.observer
	s.mu.Unlock()
	for _, m := range mods2 {
		obs.OnModuleProbed(m)
	}
}

// Detach restores every breakpoint and releases the process.
func (s *Session) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dbg.Detach(); err != nil {
		return err
	}
	s.state = StateIdle
	return nil
}

// Pid returns the attached process ID: 0 before any Attach or Launch,
// and -1 after Detach, Quit or (on Linux) the target's exit.
func (s *Session) Pid() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbg.Pid()
}

// State returns the current high-level run state.
func (s *Session) State() ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Modules returns the most recently probed module list.
func (s *Session) Modules() []ModuleInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ModuleInfo(nil), s.modules...)
}

// Registers returns a snapshot of every register in the bound Cpu's
// catalog.
func (s *Session) Registers() ([]RegisterValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog := s.dbg.Cpu().Registers()
	out := make([]RegisterValue, 0, len(catalog))
	for _, r := range catalog {
		v, err := s.dbg.GetRegister(int(r.Reg))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", r.Name, err)
		}
		out = append(out, RegisterValue{Name: r.Name, Value: v, Size: r.Size})
	}
	return out, nil
}

// SetRegister writes one register by catalog name.
func (s *Session) SetRegister(name string, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.dbg.Cpu().RegisterByName(name)
	if !ok {
		return fmt.Errorf("unknown register %q", name)
	}
	return s.dbg.SetRegister(int(reg), value)
}

// ReadMemory reads len(buf) bytes of the target's logical memory.
func (s *Session) ReadMemory(addr uint64, buf []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbg.ReadMemory(breakpoint.Address(addr), buf)
}

// WriteMemory writes buf into the target's logical memory.
func (s *Session) WriteMemory(addr uint64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dbg.WriteMemory(breakpoint.Address(addr), buf)
}

// AddBreakpoint installs a software breakpoint at addr.
func (s *Session) AddBreakpoint(addr uint64) (BreakpointInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bp, err := s.dbg.SetBreakpoint(breakpoint.Address(addr))
	if err != nil {
		return BreakpointInfo{}, err
	}
	idx := -1
	for i, b := range s.dbg.Breakpoints() {
		if b == bp {
			idx = i
			break
		}
	}
	return BreakpointInfo{Index: idx, Address: uint64(bp.Addr), Size: bp.Size}, nil
}

// RemoveBreakpoint deletes the breakpoint at table index idx.
func (s *Session) RemoveBreakpoint(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dbg.DeleteBreakpoint(idx)
}

// Breakpoints returns every installed breakpoint, in table order.
func (s *Session) Breakpoints() []BreakpointInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.dbg.Breakpoints()
	out := make([]BreakpointInfo, len(all))
	for i, bp := range all {
		out[i] = BreakpointInfo{Index: i, Address: uint64(bp.Addr), Size: bp.Size}
	}
	return out
}

// Step executes exactly one instruction.
func (s *Session) Step() error {
	s.mu.Lock()
	err := s.dbg.Step()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.setState(StateStopped)
	return nil
}

// Go resumes the process until the next breakpoint, signal, or exit.
func (s *Session) Go() error {
	s.setState(StateRunning)
	s.mu.Lock()
	err := s.dbg.Go()
	s.mu.Unlock()
	if err != nil {
		s.setState(StateStopped)
		return err
	}
	if bp, _ := s.CurrentBreakpoint(); bp != nil {
		s.setState(StateBreakpoint)
	} else {
		s.setState(StateStopped)
	}
	return nil
}

// CurrentBreakpoint returns the breakpoint at the current PC, if any.
func (s *Session) CurrentBreakpoint() (*breakpoint.Breakpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbg.CurrentBreakpoint()
}

// PC returns the current program counter.
func (s *Session) PC() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, err := s.dbg.GetPC()
	return uint64(pc), err
}

// Disassemble decodes up to count instructions starting at addr.
func (s *Session) Disassemble(addr uint64, count int) ([]DisassemblyLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lines []DisassemblyLine
	err := s.dbg.Disassemble(breakpoint.Address(addr), count, func(inst cpu.Instruction) error {
		lines = append(lines, DisassemblyLine{
			Address: uint64(inst.Addr),
			Bytes:   append([]byte(nil), inst.Bytes...),
			Text:    inst.Text,
		})
		return nil
	})
	return lines, err
}

// StackTrace walks the call stack, returning up to maxFrames frames.
func (s *Session) StackTrace(maxFrames int) ([]StackFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var frames []StackFrame
	err := s.dbg.StackTrace(func(pc, frame breakpoint.Address, cancel *bool) error {
		frames = append(frames, StackFrame{PC: uint64(pc), Frame: uint64(frame)})
		if len(frames) >= maxFrames {
			*cancel = true
		}
		return nil
	})
	return frames, err
}
