package cpu

import (
	"testing"

	"github.com/lookbusy1344/x86dbg/process"
)

func TestRegisterCatalog64(t *testing.T) {
	c := New64()
	regs := c.Registers()
	if len(regs) != 18 {
		t.Fatalf("got %d registers, want 18 (AX..FLAGS + R8-R15)", len(regs))
	}

	if _, ok := c.RegisterByName("rip"); !ok {
		t.Fatal("expected rip in 64-bit catalog")
	}
	if _, ok := c.RegisterByName("r15"); !ok {
		t.Fatal("expected r15 in 64-bit catalog")
	}
}

func TestRegisterCatalog32(t *testing.T) {
	c := New32()
	if len(c.Registers()) != 10 {
		t.Fatalf("got %d registers, want 10 (no R8-R15 on 32-bit)", len(c.Registers()))
	}
	if _, ok := c.RegisterByName("r8"); ok {
		t.Fatal("did not expect r8 in 32-bit catalog")
	}
}

func TestGenerateBreakpointIsInt3(t *testing.T) {
	c := New64()
	buf := make([]byte, c.FixedBreakpointSize())
	c.GenerateBreakpoint(0x1000, buf)
	if buf[0] != 0xCC {
		t.Fatalf("GenerateBreakpoint produced 0x%02x, want 0xCC", buf[0])
	}
}

func TestInstructionLength(t *testing.T) {
	c := New64()
	// "mov eax, 1" (b8 01 00 00 00) followed by a ret (c3).
	buf := []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0xc3}
	n, err := c.InstructionLength(buf)
	if err != nil {
		t.Fatalf("InstructionLength failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("InstructionLength = %d, want 5", n)
	}
}

type fakeBackend struct {
	regs map[int]uint64
}

func newFakeBackend() *fakeBackend { return &fakeBackend{regs: map[int]uint64{}} }

func (f *fakeBackend) Attach(int) error         { return nil }
func (f *fakeBackend) Launch([]string) error    { return nil }
func (f *fakeBackend) BlockSize() int           { return 64 }
func (f *fakeBackend) ReadMemory(process.Address, []byte) error  { return nil }
func (f *fakeBackend) WriteMemory(process.Address, []byte) error { return nil }
func (f *fakeBackend) GetRegister(regno int) (uint64, error)     { return f.regs[regno], nil }
func (f *fakeBackend) SetRegister(regno int, v uint64) error     { f.regs[regno] = v; return nil }
func (f *fakeBackend) Step() error      { return nil }
func (f *fakeBackend) Go() error        { return nil }
func (f *fakeBackend) Interrupt() error { return nil }
func (f *fakeBackend) Detach() error    { return nil }
func (f *fakeBackend) Quit() error      { return nil }
func (f *fakeBackend) Pid() int         { return 1 }
func (f *fakeBackend) LastStopWasTrap() bool { return false }

func TestOnBreakpointHitRewindsIP(t *testing.T) {
	c := New64()
	fb := newFakeBackend()
	fb.regs[int(RegIP)] = 0x2001

	if err := c.OnBreakpointHit(fb); err != nil {
		t.Fatalf("OnBreakpointHit failed: %v", err)
	}
	if fb.regs[int(RegIP)] != 0x2000 {
		t.Fatalf("IP = 0x%x, want 0x2000", fb.regs[int(RegIP)])
	}
}
