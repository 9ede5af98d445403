package netstatus

import (
	"testing"
)

func TestDetector_EdgeTriggered(t *testing.T) {
	d := NewSilent(true)

	var got []bool
	d.Subscribe(func(online bool) { got = append(got, online) })

	steps := []struct {
		report  bool
		changed bool
	}{
		{true, false}, // already online
		{false, true},
		{false, false},
		{true, true},
		{true, false},
	}

	for i, step := range steps {
		if changed := d.Notify(step.report); changed != step.changed {
			t.Errorf("step %d: Notify(%v) = %v, want %v", i, step.report, changed, step.changed)
		}
	}

	want := []bool{false, true}
	if len(got) != len(want) {
		t.Fatalf("subscriber saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("subscriber call %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDetector_WasOfflineConsumedOnce(t *testing.T) {
	d := NewSilent(false)

	if d.ConsumeWasOffline() {
		t.Error("ConsumeWasOffline() = true before any transition")
	}

	d.Notify(true)
	if !d.IsOnline() {
		t.Fatal("IsOnline() = false after Notify(true)")
	}
	if !d.ConsumeWasOffline() {
		t.Error("ConsumeWasOffline() = false after offline->online edge")
	}
	if d.ConsumeWasOffline() {
		t.Error("ConsumeWasOffline() = true on second call, want consumed")
	}

	// Going offline alone does not raise the flag.
	d.Notify(false)
	if d.ConsumeWasOffline() {
		t.Error("ConsumeWasOffline() = true after online->offline edge")
	}
}

func TestDetector_Unsubscribe(t *testing.T) {
	d := NewSilent(true)

	calls := 0
	unsubscribe := d.Subscribe(func(bool) { calls++ })

	d.Notify(false)
	unsubscribe()
	unsubscribe()
	d.Notify(true)

	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}
}

func TestDetector_SubscriberPanicIsContained(t *testing.T) {
	d := NewSilent(true)

	var order []string
	d.Subscribe(func(bool) { order = append(order, "first"); panic("boom") })
	d.Subscribe(func(bool) { order = append(order, "second") })

	d.Notify(false)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v, want [first second]", order)
	}
	if d.IsOnline() {
		t.Error("state not updated after subscriber panic")
	}
}
