package service

import (
	"testing"

	"github.com/lookbusy1344/x86dbg/cpu"
	"github.com/lookbusy1344/x86dbg/process"
)

// memBackend is an in-process fake process.Backend, mirroring the one
// in the debugger package's own tests, so Session can be exercised
// without a real OS process.
type memBackend struct {
	mem  []byte
	regs map[int]uint64
}

func newMemBackend(size int) *memBackend {
	return &memBackend{mem: make([]byte, size), regs: map[int]uint64{}}
}

func (m *memBackend) Attach(int) error      { return nil }
func (m *memBackend) Launch([]string) error { return nil }
func (m *memBackend) BlockSize() int        { return 64 }
func (m *memBackend) ReadMemory(addr process.Address, buf []byte) error {
	copy(buf, m.mem[addr:int(addr)+len(buf)])
	return nil
}
func (m *memBackend) WriteMemory(addr process.Address, buf []byte) error {
	copy(m.mem[addr:int(addr)+len(buf)], buf)
	return nil
}
func (m *memBackend) GetRegister(regno int) (uint64, error) { return m.regs[regno], nil }
func (m *memBackend) SetRegister(regno int, v uint64) error { m.regs[regno] = v; return nil }
func (m *memBackend) Step() error                           { return nil }
func (m *memBackend) Go() error                              { return nil }
func (m *memBackend) Interrupt() error                       { return nil }
func (m *memBackend) Detach() error                          { return nil }
func (m *memBackend) Quit() error                             { return nil }
func (m *memBackend) Pid() int                                { return 99 }
func (m *memBackend) LastStopWasTrap() bool                   { return false }

type recordingObserver struct {
	states   []ExecutionState
	messages []string
}

func (o *recordingObserver) OnMessage(msg string)          { o.messages = append(o.messages, msg) }
func (o *recordingObserver) OnProcessExited(int)           {}
func (o *recordingObserver) OnSignal(int)                  {}
func (o *recordingObserver) OnModuleProbed(ModuleInfo)     {}
func (o *recordingObserver) OnStateChanged(s ExecutionState) { o.states = append(o.states, s) }

func newTestSession() (*Session, *memBackend) {
	var backend *memBackend
	s := NewSessionWith(cpu.New64(), func(sink process.EventSink) process.Backend {
		backend = newMemBackend(0x2000)
		return backend
	})
	return s, backend
}

func TestSessionAttachReachesStopped(t *testing.T) {
	s, _ := newTestSession()
	obs := &recordingObserver{}
	s.SetObserver(obs)

	if err := s.Attach(99); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %v, want StateStopped", s.State())
	}
	if len(obs.states) == 0 || obs.states[len(obs.states)-1] != StateStopped {
		t.Fatal("observer was not notified of the stopped state")
	}
}

func TestSessionBreakpointRoundTrip(t *testing.T) {
	s, backend := newTestSession()
	if err := s.Attach(99); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteMemory(0x1000, []byte{0x90}); err != nil {
		t.Fatal(err)
	}
	info, err := s.AddBreakpoint(0x1000)
	if err != nil {
		t.Fatalf("AddBreakpoint failed: %v", err)
	}
	if info.Index != 0 || info.Address != 0x1000 {
		t.Fatalf("unexpected breakpoint info: %+v", info)
	}
	if backend.mem[0x1000] != 0xCC {
		t.Fatalf("expected live memory patched, got 0x%02x", backend.mem[0x1000])
	}

	if len(s.Breakpoints()) != 1 {
		t.Fatalf("expected 1 breakpoint, got %d", len(s.Breakpoints()))
	}

	if err := s.RemoveBreakpoint(0); err != nil {
		t.Fatalf("RemoveBreakpoint failed: %v", err)
	}
	if len(s.Breakpoints()) != 0 {
		t.Fatal("expected breakpoint table empty after remove")
	}
}

func TestSessionRegisters(t *testing.T) {
	s, _ := newTestSession()
	if err := s.Attach(99); err != nil {
		t.Fatal(err)
	}

	if err := s.SetRegister("rax", 0x42); err != nil {
		t.Fatalf("SetRegister failed: %v", err)
	}

	regs, err := s.Registers()
	if err != nil {
		t.Fatalf("Registers failed: %v", err)
	}
	found := false
	for _, r := range regs {
		if r.Name == "rax" {
			found = true
			if r.Value != 0x42 {
				t.Fatalf("rax = 0x%x, want 0x42", r.Value)
			}
		}
	}
	if !found {
		t.Fatal("rax missing from register snapshot")
	}
}
