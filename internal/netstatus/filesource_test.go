package netstatus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestFileSource_StartStop(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "online")

	fs, err := NewFileSource(marker, NewSilent(true))
	if err != nil {
		t.Fatalf("NewFileSource() failed: %v", err)
	}

	if fs.IsRunning() {
		t.Error("newly created source should not be running")
	}
	if err := fs.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := fs.Start(); err == nil {
		t.Error("second Start() succeeded, want error")
	}
	if !fs.IsRunning() {
		t.Error("source should be running after Start()")
	}
	if err := fs.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fs.IsRunning() {
		t.Error("source should not be running after Stop()")
	}
}

func TestFileSource_StartReportsCurrentState(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "online")

	// Seeded online, but the marker is absent.
	d := NewSilent(true)
	fs, err := NewFileSource(marker, d)
	if err != nil {
		t.Fatalf("NewFileSource() failed: %v", err)
	}
	defer fs.Stop()

	if err := fs.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if d.IsOnline() {
		t.Error("IsOnline() = true with no marker file after Start()")
	}
}

func TestFileSource_MarkerTransitions(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "online")

	d := NewSilent(MarkerExists(marker))
	fs, err := NewFileSource(marker, d)
	if err != nil {
		t.Fatalf("NewFileSource() failed: %v", err)
	}
	defer fs.Stop()

	if err := fs.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := os.WriteFile(marker, []byte("up\n"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, d.IsOnline) {
		t.Fatal("detector did not go online after marker was created")
	}
	if !d.ConsumeWasOffline() {
		t.Error("ConsumeWasOffline() = false after marker creation")
	}

	if err := os.Remove(marker); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return !d.IsOnline() }) {
		t.Fatal("detector did not go offline after marker was removed")
	}
}

func TestFileSource_ConvertEvent(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "online")

	fs, err := NewFileSource(marker, NewSilent(false))
	if err != nil {
		t.Fatalf("NewFileSource() failed: %v", err)
	}
	defer fs.Stop()

	tests := []struct {
		name       string
		event      fsnotify.Event
		wantOnline bool
		wantOK     bool
	}{
		{"create", fsnotify.Event{Name: marker, Op: fsnotify.Create}, true, true},
		{"write", fsnotify.Event{Name: marker, Op: fsnotify.Write}, true, true},
		{"remove", fsnotify.Event{Name: marker, Op: fsnotify.Remove}, false, true},
		{"rename", fsnotify.Event{Name: marker, Op: fsnotify.Rename}, false, true},
		{"chmod", fsnotify.Event{Name: marker, Op: fsnotify.Chmod}, false, false},
		{"other file", fsnotify.Event{Name: filepath.Join(dir, "other"), Op: fsnotify.Create}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			online, ok := fs.convertEvent(tt.event)
			if ok != tt.wantOK || online != tt.wantOnline {
				t.Errorf("convertEvent() = (%v, %v), want (%v, %v)", online, ok, tt.wantOnline, tt.wantOK)
			}
		})
	}
}
