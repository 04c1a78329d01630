package metrics

import "testing"

func TestAutomationCounters(t *testing.T) {
	runsBefore, statusBefore, outcomeBefore := AutomationSnapshot()

	IncRunFinished("ok")
	IncRunFinished("ok")
	IncRunFinished("aborted")
	IncActionOutcome("skipped")

	runs, byStatus, byOutcome := AutomationSnapshot()
	if runs != runsBefore+3 {
		t.Fatalf("expected %d runs, got %d", runsBefore+3, runs)
	}
	if byStatus["ok"] != statusBefore["ok"]+2 {
		t.Fatalf("ok count = %d", byStatus["ok"])
	}
	if byStatus["aborted"] != statusBefore["aborted"]+1 {
		t.Fatalf("aborted count = %d", byStatus["aborted"])
	}
	if byOutcome["skipped"] != outcomeBefore["skipped"]+1 {
		t.Fatalf("skipped count = %d", byOutcome["skipped"])
	}
}

func TestSnapshotIsolation(t *testing.T) {
	_, byStatus, _ := AutomationSnapshot()
	byStatus["ok"] = 999999
	_, again, _ := AutomationSnapshot()
	if again["ok"] == 999999 {
		t.Fatal("snapshot must copy internal maps")
	}
}
