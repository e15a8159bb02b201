package schedule

import (
	"testing"
	"time"

	"aquacore/x/timex"
)

func TestParseCompactSchedule(t *testing.T) {
	points, err := Parse("08-00:light=1,pump=0;20-00:light=0,pump=1;")
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].TimeOfDaySec != 8*3600 || points[0].Values["light"] != 1 {
		t.Fatalf("unexpected first point: %+v", points[0])
	}
	if points[1].TimeOfDaySec != 20*3600 || points[1].Values["pump"] != 1 {
		t.Fatalf("unexpected second point: %+v", points[1])
	}
}

func TestParseRejectsMalformedEntry(t *testing.T) {
	if _, err := Parse("08-00:"); err == nil {
		t.Fatal("expected malformed input error")
	}
	if _, err := Parse("99-00:light=1;"); err == nil {
		t.Fatal("expected malformed hour to fail")
	}
}

func TestInterpolateBetweenTwoPoints(t *testing.T) {
	points, err := Parse("06-00:temp=20;18-00:temp=30;")
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine("tank1", Interpolate, points, map[string]Range{"temp": {Min: 0, Max: 100}})

	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	targets, err := e.Evaluate(noon)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0].Channel != "temp" {
		t.Fatalf("unexpected targets: %+v", targets)
	}
	// Halfway between 06:00 and 18:00 -> halfway between 20 and 30 = 25.
	if targets[0].Value != 25 {
		t.Fatalf("expected 25, got %v", targets[0].Value)
	}
}

func TestInterpolateClampsToConfiguredRange(t *testing.T) {
	points, err := Parse("06-00:temp=20;18-00:temp=30;")
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine("tank1", Interpolate, points, map[string]Range{"temp": {Min: 0, Max: 24}})

	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	targets, _ := e.Evaluate(noon)
	if targets[0].Value != 24 {
		t.Fatalf("expected clamp to 24, got %v", targets[0].Value)
	}
}

func TestActionFiresOnceThenSuppressesUntilNextWeek(t *testing.T) {
	points, err := Parse("08-00:light=1;")
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine("tank1", Action, points, nil)

	day1 := time.Date(2026, 1, 5, 8, 1, 0, 0, time.UTC) // Monday, just after 08:00
	targets, err := e.Evaluate(day1)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || !targets[0].Fired {
		t.Fatalf("expected a fired target, got %+v", targets)
	}

	later := day1.Add(5 * time.Minute)
	targets, _ = e.Evaluate(later)
	if len(targets) != 0 {
		t.Fatalf("expected no re-fire later the same day, got %+v", targets)
	}

	nextWeek := day1.Add(7 * 24 * time.Hour)
	targets, _ = e.Evaluate(nextWeek)
	if len(targets) != 1 || !targets[0].Fired {
		t.Fatalf("expected a fresh fire one week later, got %+v", targets)
	}
}

func TestActionHoldReportsLastValueBetweenFirings(t *testing.T) {
	points, err := Parse("08-00:light=1;")
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine("tank1", ActionHold, points, nil)

	first := time.Date(2026, 1, 5, 8, 1, 0, 0, time.UTC)
	e.Evaluate(first)

	later := first.Add(time.Hour)
	targets, _ := e.Evaluate(later)
	if len(targets) != 1 || targets[0].Fired || targets[0].Value != 1 {
		t.Fatalf("expected held, non-fired target of 1, got %+v", targets)
	}
}

func TestParseBindsPerDayBlocks(t *testing.T) {
	points, err := Parse("mon=08-00:light=1;|wed,fri=09-00:light=2;")
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if len(points[0].Days) != 1 || points[0].Days[0] != timex.Monday {
		t.Fatalf("expected first point bound to Monday, got %+v", points[0].Days)
	}
	if len(points[1].Days) != 2 {
		t.Fatalf("expected second point bound to two days, got %+v", points[1].Days)
	}
}

func TestActionOnlyFiresOnBoundWeekday(t *testing.T) {
	points, err := Parse("mon=08-00:light=1;|tue=08-00:light=2;")
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine("tank1", Action, points, nil)

	monday := time.Date(2026, 1, 5, 8, 1, 0, 0, time.UTC)
	targets, err := e.Evaluate(monday)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0].Value != 1 {
		t.Fatalf("expected Monday's value 1 to fire, got %+v", targets)
	}

	tuesday := monday.Add(24 * time.Hour)
	targets, err = e.Evaluate(tuesday)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0].Value != 2 {
		t.Fatalf("expected Tuesday's value 2 to fire, got %+v", targets)
	}
}
