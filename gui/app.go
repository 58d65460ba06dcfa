package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/lookbusy1344/x86dbg/service"
)

var debugLog *log.Logger

func init() {
	if os.Getenv("X86DBG_DEBUG") != "" {
		f, err := os.OpenFile("/tmp/x86dbg-gui-debug.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			debugLog = log.New(os.Stderr, "GUI: ", log.Ltime|log.Lmicroseconds|log.Lshortfile)
		} else {
			debugLog = log.New(f, "GUI: ", log.Ltime|log.Lmicroseconds|log.Lshortfile)
		}
	} else {
		debugLog = log.New(io.Discard, "", 0)
	}
}

// App binds a debug session to the Wails frontend.
type App struct {
	ctx context.Context
	svc *service.Session
}

// NewApp creates a new App, with no target attached yet.
func NewApp() *App {
	return &App{svc: service.NewSession()}
}

// startup is called when the app starts.
func (a *App) startup(ctx context.Context) {
	debugLog.Println("startup() called")
	a.ctx = ctx
	a.svc.SetObserver(guiObserver{a})
}

// guiObserver forwards session notifications to the Wails frontend as
// runtime events, the GUI's equivalent of the TUI's output view.
type guiObserver struct{ a *App }

func (o guiObserver) OnMessage(msg string) {
	runtime.EventsEmit(o.a.ctx, "dbg:message", msg)
}

func (o guiObserver) OnProcessExited(code int) {
	runtime.EventsEmit(o.a.ctx, "dbg:exited", code)
}

func (o guiObserver) OnSignal(sig int) {
	runtime.EventsEmit(o.a.ctx, "dbg:signal", sig)
}

func (o guiObserver) OnModuleProbed(mod service.ModuleInfo) {
	runtime.EventsEmit(o.a.ctx, "dbg:module", mod)
}

func (o guiObserver) OnStateChanged(state service.ExecutionState) {
	runtime.EventsEmit(o.a.ctx, "dbg:state-changed", string(state))
}

// Attach attaches to an already-running process.
func (a *App) Attach(pid int) error {
	if err := a.svc.Attach(pid); err != nil {
		runtime.EventsEmit(a.ctx, "dbg:error", err.Error())
		return err
	}
	return nil
}

// Launch starts and attaches to a new target process.
func (a *App) Launch(argv []string) error {
	if err := a.svc.Launch(argv); err != nil {
		runtime.EventsEmit(a.ctx, "dbg:error", err.Error())
		return err
	}
	return nil
}

// Detach releases the target process.
func (a *App) Detach() error {
	return a.svc.Detach()
}

// GetRegisters returns current register values.
func (a *App) GetRegisters() ([]service.RegisterValue, error) {
	return a.svc.Registers()
}

// SetRegister writes one register by catalog name.
func (a *App) SetRegister(name string, value uint64) error {
	err := a.svc.SetRegister(name, value)
	if err == nil {
		runtime.EventsEmit(a.ctx, "dbg:state-changed", string(a.svc.State()))
	}
	return err
}

// Step executes a single instruction.
func (a *App) Step() error {
	err := a.svc.Step()
	if err != nil {
		runtime.EventsEmit(a.ctx, "dbg:error", err.Error())
	}
	return err
}

// Continue resumes execution in the background until the next stop.
func (a *App) Continue() error {
	ctx := a.ctx
	go func() {
		if err := a.svc.Go(); err != nil {
			runtime.EventsEmit(ctx, "dbg:error", err.Error())
		}
	}()
	return nil
}

// AddBreakpoint installs a software breakpoint.
func (a *App) AddBreakpoint(address uint64) (service.BreakpointInfo, error) {
	bp, err := a.svc.AddBreakpoint(address)
	if err == nil {
		runtime.EventsEmit(a.ctx, "dbg:state-changed", string(a.svc.State()))
	}
	return bp, err
}

// RemoveBreakpoint deletes a breakpoint by table index.
func (a *App) RemoveBreakpoint(idx int) error {
	err := a.svc.RemoveBreakpoint(idx)
	if err == nil {
		runtime.EventsEmit(a.ctx, "dbg:state-changed", string(a.svc.State()))
	}
	return err
}

// GetBreakpoints returns every installed breakpoint.
func (a *App) GetBreakpoints() []service.BreakpointInfo {
	return a.svc.Breakpoints()
}

// GetMemory reads size bytes of target memory at address.
func (a *App) GetMemory(address uint64, size uint32) ([]byte, error) {
	buf := make([]byte, size)
	if err := a.svc.ReadMemory(address, buf); err != nil {
		return nil, fmt.Errorf("read memory at 0x%x: %w", address, err)
	}
	return buf, nil
}

// SetMemory writes data into target memory at address.
func (a *App) SetMemory(address uint64, data []byte) error {
	return a.svc.WriteMemory(address, data)
}

// GetDisassembly decodes count instructions starting at address.
func (a *App) GetDisassembly(address uint64, count int) ([]service.DisassemblyLine, error) {
	return a.svc.Disassemble(address, count)
}

// GetStackTrace walks the call stack up to maxFrames deep.
func (a *App) GetStackTrace(maxFrames int) ([]service.StackFrame, error) {
	return a.svc.StackTrace(maxFrames)
}

// GetModules returns the modules probed at attach/launch time.
func (a *App) GetModules() []service.ModuleInfo {
	return a.svc.Modules()
}

// GetExecutionState returns the current run state.
func (a *App) GetExecutionState() string {
	return string(a.svc.State())
}

// GetPC returns the current program counter.
func (a *App) GetPC() (uint64, error) {
	return a.svc.PC()
}

// GetPid returns the attached process ID: 0 before any Attach or
// Launch, and -1 after Detach or the target's exit.
func (a *App) GetPid() int {
	return a.svc.Pid()
}
