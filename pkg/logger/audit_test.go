package logger

import (
	"fmt"
	"testing"
)

func TestAuditRecentOrdered(t *testing.T) {
	a := NewAudit(8)
	for i := 0; i < 5; i++ {
		a.Append(AuditEntry{Kind: AuditTransition, Reason: fmt.Sprintf("r%d", i)})
	}
	if a.Len() != 5 {
		t.Fatalf("len = %d, want 5", a.Len())
	}
	got := a.Recent(3)
	if len(got) != 3 {
		t.Fatalf("recent = %d entries, want 3", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("r%d", i+2)
		if e.Reason != want {
			t.Fatalf("entry %d reason = %s, want %s", i, e.Reason, want)
		}
	}
}

func TestAuditWrapsAndEvicts(t *testing.T) {
	a := NewAudit(4)
	for i := 0; i < 10; i++ {
		a.Append(AuditEntry{Kind: AuditWrap, Reason: fmt.Sprintf("r%d", i)})
	}
	if a.Len() != 4 {
		t.Fatalf("len = %d, want capacity 4", a.Len())
	}
	got := a.Recent(0)
	if len(got) != 4 {
		t.Fatalf("recent = %d entries, want 4", len(got))
	}
	if got[0].Reason != "r6" || got[3].Reason != "r9" {
		t.Fatalf("window = %s..%s, want r6..r9", got[0].Reason, got[3].Reason)
	}
}

func TestAuditStampsTime(t *testing.T) {
	a := NewAudit(2)
	a.Append(AuditEntry{Kind: AuditSLOBreach})
	if e := a.Recent(1)[0]; e.At.IsZero() {
		t.Fatalf("At must be stamped on append")
	}
}
