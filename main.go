package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/lookbusy1344/x86dbg/api"
	"github.com/lookbusy1344/x86dbg/config"
	"github.com/lookbusy1344/x86dbg/service"
	"github.com/lookbusy1344/x86dbg/tui"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		attachPid   = flag.Int("attach", 0, "Attach to an already-running process by pid")
		tuiMode     = flag.Bool("tui", false, "Use the text user interface")
		apiServer   = flag.Bool("api-server", false, "Start HTTP API server mode")
		apiPort     = flag.Int("port", 0, "API server port (used with -api-server; default from config)")
		configPath  = flag.String("config", "", "Configuration file path (default: platform config dir)")
		blockSize   = flag.Int("block-size", 0, "Bulk memory transfer block size hint (default from config)")
		verboseMode = flag.Bool("verbose", false, "Verbose output")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("x86dbg %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *blockSize > 0 {
		cfg.Process.BlockSize = *blockSize
	}
	if *verboseMode {
		fmt.Printf("Process block size hint: %d\n", cfg.Process.BlockSize)
	}

	if *apiServer {
		port := *apiPort
		if port == 0 {
			port = cfg.API.Port
		}
		runAPIServer(port)
		return
	}

	argv := flag.Args()
	if *attachPid == 0 && len(argv) == 0 {
		printHelp()
		os.Exit(0)
	}

	svc := service.NewSession()
	if *attachPid != 0 {
		if *verboseMode {
			fmt.Printf("Attaching to pid %d...\n", *attachPid)
		}
		if err := svc.Attach(*attachPid); err != nil {
			fmt.Fprintf(os.Stderr, "Error attaching to pid %d: %v\n", *attachPid, err)
			os.Exit(1)
		}
	} else {
		if *verboseMode {
			fmt.Printf("Launching %s...\n", strings.Join(argv, " "))
		}
		if err := svc.Launch(argv); err != nil {
			fmt.Fprintf(os.Stderr, "Error launching %v: %v\n", argv, err)
			os.Exit(1)
		}
	}
	defer func() {
		if err := svc.Detach(); err != nil && *verboseMode {
			fmt.Fprintf(os.Stderr, "Error detaching: %v\n", err)
		}
	}()

	if *tuiMode {
		shell := tui.New(svc)
		if err := shell.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	runREPL(svc)
}

// loadConfig loads the named config file, or the platform default if
// path is empty, falling back to in-memory defaults if neither exists.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// runAPIServer starts the HTTP+websocket API server and blocks until a
// shutdown signal arrives, either from the OS or from the parent
// process (TUI/GUI) that spawned this server dying.
func runAPIServer(port int) {
	server := api.NewServer(port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownOnce sync.Once
	performShutdown := func() {
		shutdownOnce.Do(func() {
			fmt.Println("\nShutting down API server...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("API server stopped")
			os.Exit(0)
		})
	}

	monitor := api.NewProcessMonitor(performShutdown)
	monitor.Start()
	defer monitor.Stop()

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "API server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-sigChan
	performShutdown()
}

// runREPL is the default minimal shell: a line-oriented command loop
// over the Debugger facade, for when neither -tui nor -api-server is
// requested. If stdin is a terminal, it is left in its normal cooked
// mode - raw mode is the target's concern, not the debugger's, once
// control is handed off with "continue".
func runREPL(svc *service.Session) {
	isTerminal := term.IsTerminal(int(os.Stdin.Fd()))
	if isTerminal {
		fmt.Println("x86dbg - type 'help' for commands, 'quit' to exit")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if isTerminal {
			fmt.Print("(x86dbg) ")
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !replCommand(svc, line) {
			return
		}
	}
}

// replCommand runs one REPL command line. It returns false when the
// session should end.
func replCommand(svc *service.Session, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "q", "exit":
		return false
	case "continue", "c":
		runAndReport(svc.Go)
	case "step", "s":
		runAndReport(svc.Step)
	case "break", "b":
		replBreak(svc, args)
	case "delete", "d":
		replDelete(svc, args)
	case "registers", "info":
		replRegisters(svc)
	case "pc":
		if pc, err := svc.PC(); err != nil {
			fmt.Println("error:", err)
		} else {
			fmt.Printf("pc = 0x%x\n", pc)
		}
	case "modules":
		for _, m := range svc.Modules() {
			fmt.Printf("0x%x %s (size 0x%x, exec=%v)\n", m.Base, m.Path, m.Size, m.Exec)
		}
	case "breakpoints":
		for _, bp := range svc.Breakpoints() {
			fmt.Printf("%d: 0x%x (size %d)\n", bp.Index, bp.Address, bp.Size)
		}
	case "help":
		printREPLHelp()
	default:
		fmt.Printf("unknown command %q (try 'help')\n", cmd)
	}
	return true
}

func runAndReport(fn func() error) {
	if err := fn(); err != nil {
		fmt.Println("error:", err)
	}
}

func replBreak(svc *service.Session, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: break <addr>")
		return
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
	if err != nil {
		fmt.Println("invalid address:", args[0])
		return
	}
	bp, err := svc.AddBreakpoint(addr)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("breakpoint %d set at 0x%x\n", bp.Index, bp.Address)
}

func replDelete(svc *service.Session, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: delete <index>")
		return
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("invalid index:", args[0])
		return
	}
	if err := svc.RemoveBreakpoint(idx); err != nil {
		fmt.Println("error:", err)
	}
}

func replRegisters(svc *service.Session) {
	regs, err := svc.Registers()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, r := range regs {
		fmt.Printf("%-6s 0x%0*x\n", r.Name, r.Size*2, r.Value)
	}
}

func printREPLHelp() {
	fmt.Print(`Commands:
  continue, c          resume until breakpoint, signal, or exit
  step, s              execute one instruction
  break, b <addr>      set a breakpoint (hex address)
  delete, d <index>    remove a breakpoint by table index
  registers, info      show all registers
  pc                   show the program counter
  breakpoints          list installed breakpoints
  modules              list probed modules
  help                 show this message
  quit, q, exit        detach and exit
`)
}

func printHelp() {
	fmt.Printf(`x86dbg %s

Usage: x86dbg [options] -- <program> [args...]
       x86dbg -attach <pid> [options]
       x86dbg -api-server [-port N]

Options:
  -help              Show this help message
  -version           Show version information
  -attach PID        Attach to an already-running process
  -tui               Use the text user interface
  -api-server        Start HTTP API server mode
  -port N            API server port (used with -api-server)
  -config PATH       Configuration file path
  -block-size N      Bulk memory transfer block size hint
  -verbose           Enable verbose output

Examples:
  # Launch and debug a program
  x86dbg ./a.out arg1 arg2

  # Attach to a running process
  x86dbg -attach 12345

  # Attach with the text user interface
  x86dbg -attach 12345 -tui

  # Start the API server for TUI/GUI/external frontends
  x86dbg -api-server -port 7777

Default shell commands (no -tui, no -api-server):
  continue, step, break ADDR, delete INDEX, registers, pc, breakpoints, modules, quit
`, Version)
}
