package dailylog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	ws := t.TempDir()
	w := NewWriter(ws)
	day := time.Date(2026, 5, 4, 9, 30, 0, 0, time.Local)
	w.now = func() time.Time { return day }
	return w, ws
}

func TestWriter_EnsureCreatesTemplate(t *testing.T) {
	w, ws := newTestWriter(t)

	if err := w.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	path := filepath.Join(ws, "memory", "daily", "2026-05-04.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("note not created: %v", err)
	}
	want := "# 2026-05-04 (Monday)\n\n## Notes\n\n## Learnings\n"
	if string(data) != want {
		t.Errorf("got %q, want %q", data, want)
	}

	// existing notes are left alone
	os.WriteFile(path, []byte("custom"), 0644)
	w.Ensure()
	if w.Today() != "custom" {
		t.Errorf("Ensure overwrote existing note: %q", w.Today())
	}
}

func TestWriter_UserTemplate(t *testing.T) {
	w, ws := newTestWriter(t)
	os.MkdirAll(filepath.Join(ws, "memory"), 0755)
	os.WriteFile(filepath.Join(ws, "memory", "daily_template.md"), []byte("Day {date}\n"), 0644)

	if err := w.Ensure(); err != nil {
		t.Fatal(err)
	}
	if got := w.Today(); got != "Day 2026-05-04\n" {
		t.Errorf("got %q", got)
	}
}

func TestWriter_AppendNoteKeepsSections(t *testing.T) {
	w, _ := newTestWriter(t)

	if err := w.AppendNote("- 09:30 [telegram:1] Heavy update: plan the migration"); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendNote("- 10:00 [telegram:1] Periodic update: migration done"); err != nil {
		t.Fatal(err)
	}

	want := strings.Join([]string{
		"# 2026-05-04 (Monday)",
		"",
		"## Notes",
		"",
		"- 09:30 [telegram:1] Heavy update: plan the migration",
		"- 10:00 [telegram:1] Periodic update: migration done",
		"",
		"## Learnings",
		"",
	}, "\n")
	if got := w.Today(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriter_AppendCreatesMissingSection(t *testing.T) {
	w, _ := newTestWriter(t)

	if err := w.AppendToSection("Decisions", "- ship it"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(w.Today(), "## Learnings\n\n## Decisions\n\n- ship it\n") {
		t.Errorf("Unexpected note:\n%s", w.Today())
	}

	if err := w.AppendNote("   "); err != nil {
		t.Errorf("blank entry should be a no-op, got %v", err)
	}
}
