package debugger

import (
	"testing"

	"github.com/lookbusy1344/x86dbg/breakpoint"
	"github.com/lookbusy1344/x86dbg/cpu"
	"github.com/lookbusy1344/x86dbg/process"
)

// memBackend is an in-process fake process.Backend backed by a flat
// byte slice, used to exercise the facade's memory splicing and
// breakpoint bookkeeping without a real OS process.
type memBackend struct {
	mem             []byte
	regs            map[int]uint64
	stepCount       int
	goCount         int
	trapOnNextGo    bool   // simulate a SIGTRAP-after-continue breakpoint stop
	ipAfterGo       uint64 // IP the "kernel" reports once Go() stops
	lastStopWasTrap bool
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
func (m *memBackend) Step() error { m.stepCount++; return nil }
func (m *memBackend) Go() error {
	m.goCount++
	m.lastStopWasTrap = m.trapOnNextGo
	if m.trapOnNextGo {
		m.regs[int(cpu.RegIP)] = m.ipAfterGo
	}
	return nil
}
func (m *memBackend) Interrupt() error           { return nil }
func (m *memBackend) Detach() error              { return nil }
func (m *memBackend) Quit() error                { return nil }
func (m *memBackend) Pid() int                   { return 42 }
func (m *memBackend) LastStopWasTrap() bool      { return m.lastStopWasTrap }

type recordingSink struct {
	messages []string
}

func (s *recordingSink) OnMessage(msg string)                           { s.messages = append(s.messages, msg) }
func (s *recordingSink) OnProcessExited(int)                            {}
func (s *recordingSink) OnSignal(int)                                   {}
func (s *recordingSink) OnModuleProbed(breakpoint.Address, string) {}

func newTestDebugger(mem int) (*Debugger, *memBackend) {
	var backend *memBackend
	d := New(cpu.New64(), func(process.EventSink) process.Backend {
		backend = newMemBackend(mem)
		return backend
	})
	return d, backend
}

func TestReadMemorySplicesOutBreakpointPatch(t *testing.T) {
	d, backend := newTestDebugger(0x401000)

	orig := []byte{0x90, 0x91, 0x92, 0x93}
	if err := d.WriteMemory(0x1000, orig); err != nil {
		t.Fatalf("WriteMemory failed: %v", err)
	}

	if _, err := d.SetBreakpoint(0x1001); err != nil {
		t.Fatalf("SetBreakpoint failed: %v", err)
	}

	// The live process byte at 0x1001 is now 0xCC...
	if backend.mem[0x1001] != 0xCC {
		t.Fatalf("expected live memory patched with 0xCC, got 0x%02x", backend.mem[0x1001])
	}

	// ...but the logical view must still show the original byte.
	buf := make([]byte, 4)
	if err := d.ReadMemory(0x1000, buf); err != nil {
		t.Fatalf("ReadMemory failed: %v", err)
	}
	if buf[1] != 0x91 {
		t.Fatalf("ReadMemory leaked breakpoint patch: got 0x%02x, want 0x91", buf[1])
	}
}

func TestWriteMemoryThroughBreakpointUpdatesOriginal(t *testing.T) {
	d, backend := newTestDebugger(0x401000)

	if err := d.WriteMemory(0x2000, []byte{0xAA}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetBreakpoint(0x2000); err != nil {
		t.Fatalf("SetBreakpoint failed: %v", err)
	}

	// Writing through the breakpoint must update the shadowed original,
	// not the live 0xCC patch byte.
	if err := d.WriteMemory(0x2000, []byte{0xBB}); err != nil {
		t.Fatalf("WriteMemory failed: %v", err)
	}
	if backend.mem[0x2000] != 0xCC {
		t.Fatalf("live patch byte was overwritten: got 0x%02x", backend.mem[0x2000])
	}

	buf := make([]byte, 1)
	if err := d.ReadMemory(0x2000, buf); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0xBB {
		t.Fatalf("logical read = 0x%02x, want 0xBB", buf[0])
	}
}

func TestSetBreakpointOverlapFails(t *testing.T) {
	d, _ := newTestDebugger(0x401000)

	if _, err := d.SetBreakpoint(0x3000); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetBreakpoint(0x3000); err == nil {
		t.Fatal("expected overlap error setting a second breakpoint at the same address")
	}
	if len(d.Breakpoints()) != 1 {
		t.Fatalf("got %d breakpoints, want 1 (failed insert must not grow the table)", len(d.Breakpoints()))
	}
}

func TestDeleteBreakpointRestoresOriginal(t *testing.T) {
	d, backend := newTestDebugger(0x401000)

	if err := d.WriteMemory(0x4000, []byte{0x55}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetBreakpoint(0x4000); err != nil {
		t.Fatal(err)
	}
	if err := d.DeleteBreakpoint(0); err != nil {
		t.Fatalf("DeleteBreakpoint failed: %v", err)
	}
	if backend.mem[0x4000] != 0x55 {
		t.Fatalf("original byte not restored: got 0x%02x", backend.mem[0x4000])
	}
	if len(d.Breakpoints()) != 0 {
		t.Fatal("expected breakpoint table empty after delete")
	}
}

func TestStepOverBreakpointUnpatchesAndRepatches(t *testing.T) {
	d, backend := newTestDebugger(0x401000)

	if err := d.WriteMemory(0x5000, []byte{0x90}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetBreakpoint(0x5000); err != nil {
		t.Fatal(err)
	}
	backend.regs[int(cpu.RegIP)] = 0x5000

	if err := d.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if backend.stepCount != 1 {
		t.Fatalf("stepCount = %d, want 1", backend.stepCount)
	}
	// Repatched after the step.
	if backend.mem[0x5000] != 0xCC {
		t.Fatalf("expected breakpoint repatched after Step, got 0x%02x", backend.mem[0x5000])
	}
}

// TestGoRewindsPCAfterBreakpointTrap exercises scenario S1: Go() must
// leave PC sitting on the breakpoint's own address, not one byte past
// it, so a subsequent CurrentBreakpoint lookup still finds it.
func TestGoRewindsPCAfterBreakpointTrap(t *testing.T) {
	d, backend := newTestDebugger(0x401000)

	if err := d.WriteMemory(0x400000, []byte{0x90}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetBreakpoint(0x400000); err != nil {
		t.Fatalf("SetBreakpoint failed: %v", err)
	}

	// PC starts away from the breakpoint, so Go() takes the plain
	// resume path (not the step-over-self branch) and the mock backend
	// reports a SIGTRAP-after-continue stop with IP one byte past it.
	backend.regs[int(cpu.RegIP)] = 0x500000
	backend.ipAfterGo = 0x400001
	backend.trapOnNextGo = true

	if err := d.Go(); err != nil {
		t.Fatalf("Go failed: %v", err)
	}

	pc, err := d.GetPC()
	if err != nil {
		t.Fatalf("GetPC failed: %v", err)
	}
	if pc != 0x400000 {
		t.Fatalf("pc = 0x%x, want 0x400000 (rewound to the breakpoint's vaddr)", pc)
	}

	bp, err := d.CurrentBreakpoint()
	if err != nil {
		t.Fatalf("CurrentBreakpoint failed: %v", err)
	}
	if bp == nil {
		t.Fatal("CurrentBreakpoint is nil after rewind; Lookup(vaddr+1) would have missed it")
	}
}

func TestDetachRestoresAllBreakpoints(t *testing.T) {
	d, backend := newTestDebugger(0x401000)

	if err := d.WriteMemory(0x6000, []byte{0x11}); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteMemory(0x7000, []byte{0x22}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetBreakpoint(0x6000); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SetBreakpoint(0x7000); err != nil {
		t.Fatal(err)
	}

	if err := d.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if backend.mem[0x6000] != 0x11 || backend.mem[0x7000] != 0x22 {
		t.Fatal("Detach did not restore all original bytes")
	}
}
