package breakpoint

import "testing"

func TestInsertAndLookup(t *testing.T) {
	tbl := NewTable()

	bp, err := tbl.Insert(0x1000, 1)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if bp.Addr != 0x1000 || bp.Size != 1 {
		t.Fatalf("unexpected breakpoint: %+v", bp)
	}

	if got := tbl.Lookup(0x1000); got != bp {
		t.Fatalf("Lookup(0x1000) = %v, want %v", got, bp)
	}
	if got := tbl.Lookup(0x1001); got != nil {
		t.Fatalf("Lookup(0x1001) = %v, want nil", got)
	}
}

func TestInsertOverlapRejected(t *testing.T) {
	tbl := NewTable()

	if _, err := tbl.Insert(0x1000, 4); err != nil {
		t.Fatalf("first Insert failed: %v", err)
	}
	if _, err := tbl.Insert(0x1002, 4); err == nil {
		t.Fatal("expected overlap error, got nil")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (failed insert must not grow table)", tbl.Len())
	}
}

func TestInsertAdjacentAllowed(t *testing.T) {
	tbl := NewTable()

	if _, err := tbl.Insert(0x1000, 4); err != nil {
		t.Fatalf("first Insert failed: %v", err)
	}
	if _, err := tbl.Insert(0x1004, 4); err != nil {
		t.Fatalf("adjacent Insert failed: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}
}

func TestRollbackLast(t *testing.T) {
	tbl := NewTable()

	if _, err := tbl.Insert(0x1000, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Insert(0x2000, 1); err != nil {
		t.Fatal(err)
	}

	tbl.RollbackLast()

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
	if tbl.Lookup(0x1000) == nil {
		t.Fatal("expected 0x1000 breakpoint to survive rollback")
	}
	if tbl.Lookup(0x2000) != nil {
		t.Fatal("expected 0x2000 breakpoint to be rolled back")
	}
}

func TestFindInRangeSorted(t *testing.T) {
	tbl := NewTable()

	if _, err := tbl.Insert(0x2000, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Insert(0x1000, 1); err != nil {
		t.Fatal(err)
	}

	got := tbl.FindInRange(0x0, 0x3000)
	if len(got) != 2 {
		t.Fatalf("FindInRange returned %d entries, want 2", len(got))
	}
	if got[0].Addr != 0x1000 || got[1].Addr != 0x2000 {
		t.Fatalf("FindInRange not sorted by address: %+v", got)
	}
}

func TestRemoveAt(t *testing.T) {
	tbl := NewTable()

	if _, err := tbl.Insert(0x1000, 1); err != nil {
		t.Fatal(err)
	}
	bp2, err := tbl.Insert(0x2000, 1)
	if err != nil {
		t.Fatal(err)
	}

	idx := tbl.IndexOf(bp2)
	if idx != 1 {
		t.Fatalf("IndexOf(bp2) = %d, want 1", idx)
	}

	removed, err := tbl.RemoveAt(idx)
	if err != nil {
		t.Fatalf("RemoveAt failed: %v", err)
	}
	if removed != bp2 {
		t.Fatal("RemoveAt returned wrong breakpoint")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}

	if _, err := tbl.RemoveAt(5); err == nil {
		t.Fatal("expected error removing out-of-range index")
	}
}

func TestOldTextPatchedText(t *testing.T) {
	tbl := NewTable()
	bp, err := tbl.Insert(0x1000, 2)
	if err != nil {
		t.Fatal(err)
	}

	bp.SetOldText([]byte{0x90, 0x90})
	bp.SetPatchedText([]byte{0xCC, 0xCC})

	if got := bp.OldText(); got[0] != 0x90 || got[1] != 0x90 {
		t.Fatalf("OldText() = %v", got)
	}
	if got := bp.PatchedText(); got[0] != 0xCC || got[1] != 0xCC {
		t.Fatalf("PatchedText() = %v", got)
	}
}
