// Package loader probes a live process's memory map and reports the
// modules (executables and shared libraries) mapped into it.
//
// Only Linux is supported: ProbeLinux reads /proc/<pid>/maps. The
// package has no probe for other platforms.
package loader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lookbusy1344/x86dbg/process"
)

// Module describes one file-backed image mapped into the process.
type Module struct {
	Path string
	Base process.Address
	Size uint64
	Exec bool
}

// ProbeLinux reads /proc/<pid>/maps and returns one module per mapped
// file path, taken from that file's zero-offset mappings and coalesced
// to their lowest base address. Mappings are not filtered by
// permission: Exec reports whether a zero-offset mapping of the file is
// executable. Mappings with no backing file (anonymous, or a bracketed
// name such as [stack] or [heap]) are skipped.
func ProbeLinux(pid int) ([]Module, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("open maps: %w", err)
	}
	defer f.Close()

	seen := make(map[string]*Module)
	var order []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}

		addrRange := fields[0]
		perms := fields[1]
		offset := fields[2]
		path := fields[5]

		if path == "" || strings.HasPrefix(path, "[") {
			continue
		}

		// Only the first (zero-offset) mapping of a file carries its
		// load base; later segments (.data, .bss) share the module.
		if offset != "0000000000000000" && offset != "00000000" {
			continue
		}

		lo, _, ok := strings.Cut(addrRange, "-")
		if !ok {
			continue
		}
		base, err := strconv.ParseUint(lo, 16, 64)
		if err != nil {
			continue
		}

		hiStr := addrRange[len(lo)+1:]
		hi, err := strconv.ParseUint(hiStr, 16, 64)
		if err != nil {
			continue
		}

		exec := strings.Contains(perms, "x")

		if m, ok := seen[path]; ok {
			if process.Address(base) < m.Base {
				m.Base = process.Address(base)
			}
			m.Exec = m.Exec || exec
			continue
		}

		m := &Module{
			Path: path,
			Base: process.Address(base),
			Size: hi - base,
			Exec: exec,
		}
		seen[path] = m
		order = append(order, path)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan maps: %w", err)
	}

	modules := make([]Module, 0, len(order))
	for _, path := range order {
		modules = append(modules, *seen[path])
	}
	return modules, nil
}
