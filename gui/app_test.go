package main

import (
	"testing"
)

func TestApp_InitialState(t *testing.T) {
	app := NewApp()

	if pid := app.GetPid(); pid != 0 {
		t.Errorf("expected pid 0 before attach, got %d", pid)
	}
	if state := app.GetExecutionState(); state != "idle" {
		t.Errorf("expected idle state before attach, got %q", state)
	}
	if bps := app.GetBreakpoints(); len(bps) != 0 {
		t.Errorf("expected no breakpoints before attach, got %d", len(bps))
	}
}

func TestApp_AttachInvalidPidFails(t *testing.T) {
	app := NewApp()

	if err := app.Attach(-1); err == nil {
		t.Fatal("expected Attach(-1) to fail")
	}
	if state := app.GetExecutionState(); state != "idle" {
		t.Errorf("expected idle state after failed attach, got %q", state)
	}
}
