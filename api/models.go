package api

import (
	"time"

	"github.com/lookbusy1344/x86dbg/service"
)

// SessionCreateRequest requests a new debug session, either attaching
// to an existing pid or launching a new target.
type SessionCreateRequest struct {
	Attach int      `json:"attach,omitempty"` // pid to attach to
	Launch []string `json:"launch,omitempty"` // argv to launch
}

// SessionCreateResponse is the response from creating a session.
type SessionCreateResponse struct {
	SessionID string    `json:"sessionId"`
	Pid       int       `json:"pid"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStatusResponse is the current status of a session.
type SessionStatusResponse struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	Pid       int    `json:"pid"`
	PC        uint64 `json:"pc"`
}

// RegisterInfo is one register in an API response.
type RegisterInfo struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
	Size  int    `json:"size"`
}

// RegistersResponse is a full register snapshot.
type RegistersResponse struct {
	Registers []RegisterInfo `json:"registers"`
}

// SetRegisterRequest requests writing one register.
type SetRegisterRequest struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

// MemoryRequest requests a memory read.
type MemoryRequest struct {
	Address uint64 `json:"address"`
	Length  uint32 `json:"length"`
}

// MemoryResponse is a memory read result.
type MemoryResponse struct {
	Address uint64 `json:"address"`
	Data    []byte `json:"data"`
}

// MemoryWriteRequest requests a memory write.
type MemoryWriteRequest struct {
	Address uint64 `json:"address"`
	Data    []byte `json:"data"`
}

// DisassemblyRequest requests a disassembly listing.
type DisassemblyRequest struct {
	Address uint64 `json:"address"`
	Count   int    `json:"count"`
}

// DisassemblyResponse is a disassembly listing.
type DisassemblyResponse struct {
	Instructions []InstructionInfo `json:"instructions"`
}

// InstructionInfo is one disassembled instruction.
type InstructionInfo struct {
	Address uint64 `json:"address"`
	Bytes   []byte `json:"bytes"`
	Text    string `json:"text"`
}

// StackTraceResponse is a stack walk result.
type StackTraceResponse struct {
	Frames []FrameInfo `json:"frames"`
}

// FrameInfo is one stack frame.
type FrameInfo struct {
	PC    uint64 `json:"pc"`
	Frame uint64 `json:"frame"`
}

// BreakpointRequest requests adding a breakpoint.
type BreakpointRequest struct {
	Address uint64 `json:"address"`
}

// BreakpointInfo is one installed breakpoint.
type BreakpointInfo struct {
	Index   int    `json:"index"`
	Address uint64 `json:"address"`
	Size    int    `json:"size"`
}

// BreakpointsResponse lists installed breakpoints.
type BreakpointsResponse struct {
	Breakpoints []BreakpointInfo `json:"breakpoints"`
}

// ModuleInfo is one module reported by attach-time probing.
type ModuleInfo struct {
	Path string `json:"path"`
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
	Exec bool   `json:"exec"`
}

// ModulesResponse lists probed modules.
type ModulesResponse struct {
	Modules []ModuleInfo `json:"modules"`
}

// ErrorResponse is a generic error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// SuccessResponse is a generic success body.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Event is an outbound websocket event.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StateEvent reports a run-state transition.
type StateEvent struct {
	State string `json:"state"`
	PC    uint64 `json:"pc"`
}

// MessageEvent mirrors debugger.EventSink.OnMessage.
type MessageEvent struct {
	Message string `json:"message"`
}

// SignalEvent mirrors debugger.EventSink.OnSignal.
type SignalEvent struct {
	Signal int `json:"signal"`
}

// ExitEvent mirrors debugger.EventSink.OnProcessExited.
type ExitEvent struct {
	Code int `json:"code"`
}

// ToRegistersResponse converts a service register snapshot to its wire form.
func ToRegistersResponse(regs []service.RegisterValue) RegistersResponse {
	out := RegistersResponse{Registers: make([]RegisterInfo, len(regs))}
	for i, r := range regs {
		out.Registers[i] = RegisterInfo{Name: r.Name, Value: r.Value, Size: r.Size}
	}
	return out
}

// ToDisassemblyResponse converts service disassembly lines to wire form.
func ToDisassemblyResponse(lines []service.DisassemblyLine) DisassemblyResponse {
	out := DisassemblyResponse{Instructions: make([]InstructionInfo, len(lines))}
	for i, l := range lines {
		out.Instructions[i] = InstructionInfo{Address: l.Address, Bytes: l.Bytes, Text: l.Text}
	}
	return out
}

// ToBreakpointsResponse converts service breakpoint info to wire form.
func ToBreakpointsResponse(bps []service.BreakpointInfo) BreakpointsResponse {
	out := BreakpointsResponse{Breakpoints: make([]BreakpointInfo, len(bps))}
	for i, b := range bps {
		out.Breakpoints[i] = BreakpointInfo{Index: b.Index, Address: b.Address, Size: b.Size}
	}
	return out
}

// ToModulesResponse converts service module info to wire form.
func ToModulesResponse(mods []service.ModuleInfo) ModulesResponse {
	out := ModulesResponse{Modules: make([]ModuleInfo, len(mods))}
	for i, m := range mods {
		out.Modules[i] = ModuleInfo{Path: m.Path, Base: m.Base, Size: m.Size, Exec: m.Exec}
	}
	return out
}
