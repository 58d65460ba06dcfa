package api

import "github.com/lookbusy1344/x86dbg/service"

// broadcastObserver implements service.Observer by fanning a Session's
// notifications out to every subscribed WebSocket client through a
// Broadcaster. It replaces the Wails-specific EventEmittingWriter the
// teacher's GUI build used, the same role NewEventWriter played before
// the API gained its own session/event model.
type broadcastObserver struct {
	broadcaster *Broadcaster
	sessionID   string
}

func newBroadcastObserver(b *Broadcaster, sessionID string) *broadcastObserver {
	return &broadcastObserver{broadcaster: b, sessionID: sessionID}
}

func (o *broadcastObserver) OnMessage(msg string) {
	debugLog("session %s: message: %s", o.sessionID, msg)
	o.broadcaster.BroadcastMessage(o.sessionID, msg)
}

func (o *broadcastObserver) OnProcessExited(code int) {
	debugLog("session %s: process exited: %d", o.sessionID, code)
	o.broadcaster.BroadcastExit(o.sessionID, code)
}

func (o *broadcastObserver) OnSignal(sig int) {
	debugLog("session %s: signal: %d", o.sessionID, sig)
	o.broadcaster.BroadcastSignal(o.sessionID, sig)
}

func (o *broadcastObserver) OnModuleProbed(mod service.ModuleInfo) {
	debugLog("session %s: module probed: %s @ 0x%x", o.sessionID, mod.Path, mod.Base)
	o.broadcaster.BroadcastModule(o.sessionID, ModuleInfo{Path: mod.Path, Base: mod.Base, Size: mod.Size, Exec: mod.Exec})
}

func (o *broadcastObserver) OnStateChanged(state service.ExecutionState) {
	o.broadcaster.BroadcastState(o.sessionID, map[string]interface{}{"state": string(state)})
}
