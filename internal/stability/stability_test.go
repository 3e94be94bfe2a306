package stability_test

import (
	"testing"
	"time"

	"voxpipe/internal/stability"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newDetector() *stability.Detector {
	return stability.NewDetector(stability.DefaultThresholds())
}

func TestFileBecomesStableAfterAgeQuietAndChecks(t *testing.T) {
	d := newDetector()
	table := stability.NewTable()
	mtime := base.Add(-time.Minute)

	obs := d.Observe(table, "/in/a.m4a", 1024, mtime, base)
	if obs.State != stability.StateNew {
		t.Fatalf("expected new on first observation, got %s", obs.State)
	}

	var last stability.Observation
	for now := base.Add(2 * time.Second); now.Before(base.Add(29 * time.Second)); now = now.Add(2 * time.Second) {
		last = d.Observe(table, "/in/a.m4a", 1024, mtime, now)
		if last.State == stability.StateStable {
			t.Fatalf("stable before min age at %s", now.Sub(base))
		}
		if last.Reason != stability.ReasonBelowMinAge {
			t.Fatalf("expected below_min_age, got %s", last.Reason)
		}
	}

	last = d.Observe(table, "/in/a.m4a", 1024, mtime, base.Add(30*time.Second))
	if last.State != stability.StateStable {
		t.Fatalf("expected stable at 30s, got %s (%s)", last.State, last.Reason)
	}
	if last.Age != 30*time.Second {
		t.Fatalf("unexpected age %s", last.Age)
	}
}

func TestGrowingFileNeverStable(t *testing.T) {
	d := newDetector()
	table := stability.NewTable()
	for i := 0; i < 120; i++ {
		now := base.Add(time.Duration(i) * 2 * time.Second)
		obs := d.Observe(table, "/in/growing.m4a", int64(1000+i), now, now)
		if obs.State == stability.StateStable {
			t.Fatalf("growing file reported stable at poll %d", i)
		}
		if i > 0 && obs.Reason != stability.ReasonMetadataChanged {
			t.Fatalf("expected metadata_changed, got %s", obs.Reason)
		}
	}
}

func TestMtimeOnlyChangeResetsChecks(t *testing.T) {
	d := newDetector()
	table := stability.NewTable()
	mtime := base
	d.Observe(table, "/in/a.m4a", 10, mtime, base)
	for i := 1; i <= 5; i++ {
		d.Observe(table, "/in/a.m4a", 10, mtime, base.Add(time.Duration(i)*2*time.Second))
	}
	if table["/in/a.m4a"].StableChecks == 0 {
		t.Fatal("expected checks to accumulate")
	}
	obs := d.Observe(table, "/in/a.m4a", 10, mtime.Add(time.Second), base.Add(12*time.Second))
	if obs.State != stability.StateChanging || obs.Checks != 0 {
		t.Fatalf("expected reset on mtime change, got %+v", obs)
	}
	if !table["/in/a.m4a"].LastChanged.Equal(base.Add(12 * time.Second)) {
		t.Fatal("expected last-changed to move forward")
	}
}

func TestQuietPeriodAfterLateChange(t *testing.T) {
	d := newDetector()
	table := stability.NewTable()
	d.Observe(table, "/in/a.m4a", 10, base, base)
	// Change at 25s, then hold steady.
	d.Observe(table, "/in/a.m4a", 20, base, base.Add(25*time.Second))

	obs := d.Observe(table, "/in/a.m4a", 20, base, base.Add(31*time.Second))
	if obs.Reason != stability.ReasonQuietPeriod {
		t.Fatalf("expected quiet_period, got %s", obs.Reason)
	}
	d.Observe(table, "/in/a.m4a", 20, base, base.Add(33*time.Second))
	obs = d.Observe(table, "/in/a.m4a", 20, base, base.Add(35*time.Second))
	if obs.State != stability.StateStable {
		t.Fatalf("expected stable after quiet period and checks, got %s (%s, checks=%d)", obs.State, obs.Reason, obs.Checks)
	}
}

func TestChecksRequireSpacing(t *testing.T) {
	d := newDetector()
	table := stability.NewTable()
	d.Observe(table, "/in/a.m4a", 10, base, base)
	// Past min age and quiet period, but polled in a fast burst.
	start := base.Add(40 * time.Second)
	var obs stability.Observation
	for i := 0; i < 10; i++ {
		obs = d.Observe(table, "/in/a.m4a", 10, base, start.Add(time.Duration(i)*100*time.Millisecond))
	}
	if obs.State == stability.StateStable {
		t.Fatal("burst polling must not satisfy required checks")
	}
	if obs.Reason != stability.ReasonAwaitingChecks || obs.Checks != 1 {
		t.Fatalf("expected one counted check, got %+v", obs)
	}
	d.Observe(table, "/in/a.m4a", 10, base, start.Add(2*time.Second))
	obs = d.Observe(table, "/in/a.m4a", 10, base, start.Add(4*time.Second))
	if obs.State != stability.StateStable {
		t.Fatalf("expected stable after spaced checks, got %+v", obs)
	}
}

func TestEmptyFileNeverStable(t *testing.T) {
	d := newDetector()
	table := stability.NewTable()
	for i := 0; i < 60; i++ {
		now := base.Add(time.Duration(i) * 5 * time.Second)
		obs := d.Observe(table, "/in/empty.m4a", 0, base, now)
		if obs.State == stability.StateStable {
			t.Fatalf("zero-byte file reported stable after %s", now.Sub(base))
		}
		if i > 0 && obs.Reason != stability.ReasonEmptyFile {
			t.Fatalf("expected empty_file, got %s", obs.Reason)
		}
	}
}

func TestResetRestartsConfirmationAndCountsProbeFailures(t *testing.T) {
	d := newDetector()
	table := stability.NewTable()
	d.Observe(table, "/in/a.m4a", 10, base, base)
	for i := 1; i <= 20; i++ {
		d.Observe(table, "/in/a.m4a", 10, base, base.Add(time.Duration(i)*2*time.Second))
	}
	now := base.Add(41 * time.Second)
	if n := d.Reset(table, "/in/a.m4a", now, true); n != 1 {
		t.Fatalf("expected probe failure count 1, got %d", n)
	}
	obs := d.Observe(table, "/in/a.m4a", 10, base, now.Add(2*time.Second))
	if obs.State == stability.StateStable {
		t.Fatal("expected reset to require a fresh quiet period")
	}
	if d.Reset(table, "/in/missing.m4a", now, true) != 0 {
		t.Fatal("reset of unknown path should be a no-op")
	}
}

func TestMetadataChangeClearsFailureCount(t *testing.T) {
	d := newDetector()
	table := stability.NewTable()
	d.Observe(table, "/in/a.m4a", 10, base, base)
	d.Reset(table, "/in/a.m4a", base.Add(time.Second), true)
	if n := d.Reset(table, "/in/a.m4a", base.Add(2*time.Second), true); n != 2 {
		t.Fatalf("expected two recorded failures, got %d", n)
	}

	obs := d.Observe(table, "/in/a.m4a", 4096, base.Add(5*time.Second), base.Add(5*time.Second))
	if obs.Reason != stability.ReasonMetadataChanged {
		t.Fatalf("expected metadata_changed, got %s", obs.Reason)
	}
	if obs.File.ProbeFailures != 0 {
		t.Fatalf("failures against partial content carried over: %d", obs.File.ProbeFailures)
	}
	if n := d.Reset(table, "/in/a.m4a", base.Add(6*time.Second), true); n != 1 {
		t.Fatalf("expected counting to restart at 1, got %d", n)
	}
}

func TestTableSettleAndPrune(t *testing.T) {
	d := newDetector()
	table := stability.NewTable()
	d.Observe(table, "/in/a.m4a", 1, base, base)
	d.Observe(table, "/in/b.m4a", 1, base, base)

	table.Settle("/in/a.m4a")
	if !table.Settled("/in/a.m4a") || table.Settled("/in/b.m4a") {
		t.Fatal("unexpected settled state")
	}
	d.Observe(table, "/in/a.m4a", 2, base, base.Add(time.Second))
	if table.Settled("/in/a.m4a") {
		t.Fatal("metadata change must clear settled flag")
	}

	removed := table.Prune(map[string]struct{}{"/in/a.m4a": {}})
	if len(removed) != 1 || removed[0] != "/in/b.m4a" {
		t.Fatalf("unexpected pruned paths: %v", removed)
	}
	if _, ok := table["/in/b.m4a"]; ok {
		t.Fatal("expected b pruned")
	}
}
