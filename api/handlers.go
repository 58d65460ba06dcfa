package api

import (
	"net/http"
)

const defaultStackFrames = 32

// handleCreateSession creates a new debug session, attaching to an
// existing pid or launching a new target per the request body.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionCreateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	session, err := s.sessions.CreateSession(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, SessionCreateResponse{
		SessionID: session.ID,
		Pid:       session.Svc.Pid(),
		CreatedAt: session.CreatedAt,
	})
}

// handleListSessions lists every active session ID.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.ListSessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": ids,
		"count":    len(ids),
	})
}

// handleGetSessionStatus reports a session's run state, pid, and PC.
func (s *Server) handleGetSessionStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	pc, err := session.Svc.PC()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SessionStatusResponse{
		SessionID: session.ID,
		State:     string(session.Svc.State()),
		Pid:       session.Svc.Pid(),
		PC:        pc,
	})
}

// handleDestroySession detaches and removes a session.
func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.sessions.DestroySession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "session detached"})
}

// handleGo resumes the target until the next breakpoint, signal, or exit.
func (s *Server) handleGo(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := session.Svc.Go(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleInterrupt answers 501 Not Implemented. The process backends
// have an Interrupt method, but neither service.Session nor the
// Debugger facade exposes one, so the API cannot stop a running target
// out-of-band.
func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request, sessionID string) {
	if _, err := s.sessions.GetSession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusNotImplemented, "interrupt is not yet supported")
}

// handleStep single-steps one instruction.
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := session.Svc.Step(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleRegisters handles GET (snapshot) and PUT (write one register).
func (s *Server) handleRegisters(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		regs, err := session.Svc.Registers()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, ToRegistersResponse(regs))

	case http.MethodPut:
		var req SetRegisterRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		if err := session.Svc.SetRegister(req.Name, req.Value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMemory handles GET (read) and PUT (write) of target memory.
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		var req MemoryRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		buf := make([]byte, req.Length)
		if err := session.Svc.ReadMemory(req.Address, buf); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, MemoryResponse{Address: req.Address, Data: buf})

	case http.MethodPut:
		var req MemoryWriteRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		if err := session.Svc.WriteMemory(req.Address, req.Data); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDisassembly decodes a run of instructions starting at an address.
func (s *Server) handleDisassembly(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req DisassemblyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}

	lines, err := session.Svc.Disassemble(req.Address, req.Count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ToDisassemblyResponse(lines))
}

// handleStackTrace walks the call stack from the current frame.
func (s *Server) handleStackTrace(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	frames, err := session.Svc.StackTrace(defaultStackFrames)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := StackTraceResponse{Frames: make([]FrameInfo, len(frames))}
	for i, f := range frames {
		out.Frames[i] = FrameInfo{PC: f.PC, Frame: f.Frame}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleModules lists the modules probed at attach/launch time.
func (s *Server) handleModules(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ToModulesResponse(session.Svc.Modules()))
}

// handleAddBreakpoint installs a software breakpoint.
func (s *Server) handleAddBreakpoint(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req BreakpointRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	bp, err := session.Svc.AddBreakpoint(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, BreakpointInfo{Index: bp.Index, Address: bp.Address, Size: bp.Size})
}

// handleDeleteBreakpoint removes a breakpoint by table index.
func (s *Server) handleDeleteBreakpoint(w http.ResponseWriter, r *http.Request, sessionID string, idx int) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := session.Svc.RemoveBreakpoint(idx); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleListBreakpoints lists every installed breakpoint.
func (s *Server) handleListBreakpoints(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ToBreakpointsResponse(session.Svc.Breakpoints()))
}
