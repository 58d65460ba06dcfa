// Package tui is a text user interface for a debug session, built on
// tcell and tview the way the teacher's debugger package was.
package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lookbusy1344/x86dbg/service"
)

// TUI is the text user interface bound to one debug session.
type TUI struct {
	Svc *service.Session

	App   *tview.Application
	Pages *tview.Pages

	MainLayout *tview.Flex
	LeftPanel  *tview.Flex
	RightPanel *tview.Flex

	RegisterView    *tview.TextView
	MemoryView      *tview.TextView
	StackView       *tview.TextView
	DisassemblyView *tview.TextView
	BreakpointsView *tview.TextView
	OutputView      *tview.TextView
	CommandInput    *tview.InputField

	memoryAddr uint64
}

// observer bridges service.Observer notifications to the output view.
type observer struct{ t *TUI }

func (o observer) OnMessage(msg string) {
	o.t.App.QueueUpdateDraw(func() { o.t.WriteOutput(msg + "\n") })
}

func (o observer) OnProcessExited(code int) {
	o.t.App.QueueUpdateDraw(func() {
		o.t.WriteOutput(fmt.Sprintf("[yellow]process exited with code %d[white]\n", code))
	})
}

func (o observer) OnSignal(sig int) {
	o.t.App.QueueUpdateDraw(func() {
		o.t.WriteOutput(fmt.Sprintf("[yellow]signal %d delivered[white]\n", sig))
	})
}

func (o observer) OnModuleProbed(mod service.ModuleInfo) {
	o.t.App.QueueUpdateDraw(func() {
		o.t.WriteOutput(fmt.Sprintf("module: %s @ 0x%x (size 0x%x, exec=%v)\n", mod.Path, mod.Base, mod.Size, mod.Exec))
	})
}

func (o observer) OnStateChanged(state service.ExecutionState) {
	o.t.App.QueueUpdateDraw(o.t.RefreshAll)
}

// New creates a new text user interface around a session.
func New(svc *service.Session) *TUI {
	t := &TUI{
		Svc: svc,
		App: tview.NewApplication(),
	}

	t.initializeViews()
	t.buildLayout()
	t.setupKeyBindings()
	svc.SetObserver(observer{t})

	return t
}

func (t *TUI) initializeViews() {
	t.RegisterView = tview.NewTextView().SetDynamicColors(true).SetScrollable(false)
	t.RegisterView.SetBorder(true).SetTitle(" Registers ")

	t.MemoryView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(false)
	t.MemoryView.SetBorder(true).SetTitle(" Memory ")

	t.StackView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(false)
	t.StackView.SetBorder(true).SetTitle(" Stack ")

	t.DisassemblyView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(false)
	t.DisassemblyView.SetBorder(true).SetTitle(" Disassembly ")

	t.BreakpointsView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(false)
	t.BreakpointsView.SetBorder(true).SetTitle(" Breakpoints ")

	t.OutputView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(true)
	t.OutputView.SetBorder(true).SetTitle(" Output ")

	t.CommandInput = tview.NewInputField().SetLabel("> ").SetFieldWidth(0)
	t.CommandInput.SetBorder(true).SetTitle(" Command ")
	t.CommandInput.SetDoneFunc(t.handleCommand)
}

func (t *TUI) buildLayout() {
	t.LeftPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.DisassemblyView, 0, 3, false).
		AddItem(t.StackView, 0, 2, false)

	rightTop := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.RegisterView, 10, 0, false).
		AddItem(t.MemoryView, 0, 1, false)

	t.RightPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 3, false).
		AddItem(t.BreakpointsView, 8, 0, false)

	mainContent := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(t.LeftPanel, 0, 2, false).
		AddItem(t.RightPanel, 0, 1, false)

	t.MainLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(mainContent, 0, 4, false).
		AddItem(t.OutputView, 8, 0, false).
		AddItem(t.CommandInput, 3, 0, true)

	t.Pages = tview.NewPages().AddPage("main", t.MainLayout, true, true)
}

func (t *TUI) setupKeyBindings() {
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF5:
			t.executeCommand("continue")
			return nil
		case tcell.KeyF10, tcell.KeyF11:
			t.executeCommand("step")
			return nil
		case tcell.KeyCtrlC:
			t.App.Stop()
			return nil
		case tcell.KeyCtrlL:
			t.RefreshAll()
			return nil
		}
		return event
	})
}

func (t *TUI) handleCommand(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	cmd := t.CommandInput.GetText()
	if cmd != "" {
		t.executeCommand(cmd)
		t.CommandInput.SetText("")
	}
}

// executeCommand parses and runs one command line.
func (t *TUI) executeCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	var err error
	switch fields[0] {
	case "continue", "c":
		err = t.Svc.Go()
	case "step", "s":
		err = t.Svc.Step()
	case "break", "b":
		err = t.cmdBreak(fields[1:])
	case "delete", "d":
		err = t.cmdDelete(fields[1:])
	case "memory", "x":
		err = t.cmdMemory(fields[1:])
	case "quit", "q":
		t.App.Stop()
		return
	case "help":
		t.WriteOutput("commands: continue|c, step|s, break|b <addr>, delete|d <idx>, memory|x <addr>, quit|q\n")
	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}

	if err != nil {
		t.WriteOutput(fmt.Sprintf("[red]error:[white] %v\n", err))
	}
	t.RefreshAll()
}

func (t *TUI) cmdBreak(args []string) error {
	addr, err := t.resolveAddr(args)
	if err != nil {
		return err
	}
	bp, err := t.Svc.AddBreakpoint(addr)
	if err != nil {
		return err
	}
	t.WriteOutput(fmt.Sprintf("breakpoint %d set at 0x%x\n", bp.Index, bp.Address))
	return nil
}

func (t *TUI) cmdDelete(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <index>")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}
	return t.Svc.RemoveBreakpoint(idx)
}

func (t *TUI) cmdMemory(args []string) error {
	addr, err := t.resolveAddr(args)
	if err != nil {
		return err
	}
	t.memoryAddr = addr
	return nil
}

// resolveAddr parses a hexadecimal address argument (the 0x prefix is
// optional), or defaults to PC.
func (t *TUI) resolveAddr(args []string) (uint64, error) {
	if len(args) == 0 {
		return t.Svc.PC()
	}
	s := strings.TrimPrefix(args[0], "0x")
	return strconv.ParseUint(s, 16, 64)
}

// WriteOutput appends text to the output view.
func (t *TUI) WriteOutput(text string) {
	_, _ = fmt.Fprint(t.OutputView, text)
	t.OutputView.ScrollToEnd()
}

// RefreshAll redraws every view panel from current session state.
func (t *TUI) RefreshAll() {
	t.updateRegisterView()
	t.updateMemoryView()
	t.updateStackView()
	t.updateDisassemblyView()
	t.updateBreakpointsView()
}

func (t *TUI) updateRegisterView() {
	regs, err := t.Svc.Registers()
	if err != nil {
		t.RegisterView.SetText(fmt.Sprintf("[red]%v[white]", err))
		return
	}

	var lines []string
	var cols []string
	for i, r := range regs {
		cols = append(cols, fmt.Sprintf("%-4s: 0x%0*x", r.Name, r.Size*2, r.Value))
		if (i+1)%4 == 0 {
			lines = append(lines, strings.Join(cols, "  "))
			cols = nil
		}
	}
	if len(cols) > 0 {
		lines = append(lines, strings.Join(cols, "  "))
	}
	t.RegisterView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateMemoryView() {
	addr := t.memoryAddr
	if addr == 0 {
		if pc, err := t.Svc.PC(); err == nil {
			addr = pc
		}
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("[yellow]Address: 0x%x[white]", addr))

	buf := make([]byte, 16*16)
	if err := t.Svc.ReadMemory(addr, buf); err != nil {
		lines = append(lines, fmt.Sprintf("[red]%v[white]", err))
		t.MemoryView.SetText(strings.Join(lines, "\n"))
		return
	}

	for row := 0; row < 16; row++ {
		rowBytes := buf[row*16 : row*16+16]
		var hexBytes []string
		var ascii []byte
		for _, b := range rowBytes {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", b))
			if b >= 32 && b < 127 {
				ascii = append(ascii, b)
			} else {
				ascii = append(ascii, '.')
			}
		}
		lines = append(lines, fmt.Sprintf("0x%x: %s  %s", addr+uint64(row*16), strings.Join(hexBytes, " "), string(ascii)))
	}
	t.MemoryView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateStackView() {
	frames, err := t.Svc.StackTrace(16)
	if err != nil {
		t.StackView.SetText(fmt.Sprintf("[red]%v[white]", err))
		return
	}

	var lines []string
	for _, f := range frames {
		lines = append(lines, fmt.Sprintf("pc=0x%x frame=0x%x", f.PC, f.Frame))
	}
	t.StackView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateDisassemblyView() {
	pc, err := t.Svc.PC()
	if err != nil {
		t.DisassemblyView.SetText(fmt.Sprintf("[red]%v[white]", err))
		return
	}

	lines, err := t.Svc.Disassemble(pc, 16)
	if err != nil {
		t.DisassemblyView.SetText(fmt.Sprintf("[red]%v[white]", err))
		return
	}

	var out []string
	bps := t.Svc.Breakpoints()
	for _, l := range lines {
		marker := "  "
		color := "white"
		if l.Address == pc {
			marker, color = "->", "yellow"
		}
		for _, bp := range bps {
			if bp.Address == l.Address {
				marker = "* "
			}
		}
		out = append(out, fmt.Sprintf("[%s]%s 0x%x: %s[white]", color, marker, l.Address, l.Text))
	}
	t.DisassemblyView.SetText(strings.Join(out, "\n"))
}

func (t *TUI) updateBreakpointsView() {
	bps := t.Svc.Breakpoints()
	if len(bps) == 0 {
		t.BreakpointsView.SetText("[yellow]No breakpoints set[white]")
		return
	}

	var lines []string
	for _, bp := range bps {
		lines = append(lines, fmt.Sprintf("  %d: 0x%x (size %d)", bp.Index, bp.Address, bp.Size))
	}
	t.BreakpointsView.SetText(strings.Join(lines, "\n"))
}

// Run starts the TUI event loop.
func (t *TUI) Run() error {
	t.RefreshAll()
	t.WriteOutput("[green]x86dbg[white]\n")
	t.WriteOutput("F5 continue, F10/F11 step, Ctrl-L refresh, Ctrl-C quit. Type 'help' for commands.\n\n")
	return t.App.SetRoot(t.Pages, true).SetFocus(t.CommandInput).Run()
}

// Stop stops the TUI application.
func (t *TUI) Stop() {
	t.App.Stop()
}
