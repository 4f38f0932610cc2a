package bot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestScreenshotPath(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	got := screenshotPath("output/{studentId}.png", "A1", "checked-in", now)
	want := "output/A1-checked-in-20260314-092653.png"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	got = screenshotPath("output/{studentId}.png", "A1", "", now)
	want = "output/A1-20260314-092653.png"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestWriteScreenshotCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "A1-20260314-092653.png")
	if got := writeScreenshot([]byte("png-bytes"), path); got != path {
		t.Fatalf("expected %s, got %q", path, got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("screenshot not written: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Error("screenshot content mismatch")
	}
}

func TestWriteScreenshotNeverFailsHard(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the parent directory should be makes both the
	// mkdir and the write fail.
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(blocker, "A1.png")
	if got := writeScreenshot([]byte("png-bytes"), path); got != "" {
		t.Fatalf("expected no artifact on write failure, got %q", got)
	}
}

func TestScreenshotPathKeepsTemplateDir(t *testing.T) {
	got := screenshotPath("evidence/{studentId}/shot.png", "A1", "prepared", time.Now())
	if !strings.HasPrefix(got, "evidence/A1/shot-prepared-") {
		t.Errorf("unexpected path: %s", got)
	}
}
