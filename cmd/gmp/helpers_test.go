package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gmptracker/internal/records"
)

func TestProgressBar(t *testing.T) {
	cases := []struct {
		percent, filled int
	}{
		{-5, 0},
		{0, 0},
		{50, 10},
		{99, 19},
		{100, 20},
		{140, 20},
	}
	for _, tc := range cases {
		bar := progressBar(tc.percent)
		if got := strings.Count(bar, "█"); got != tc.filled {
			t.Errorf("progressBar(%d) filled = %d, want %d", tc.percent, got, tc.filled)
		}
		if got := strings.Count(bar, "█") + strings.Count(bar, "░"); got != barWidth {
			t.Errorf("progressBar(%d) width = %d", tc.percent, got)
		}
	}
}

func TestExportFormat(t *testing.T) {
	for _, value := range []string{"json", " PDF ", "docx"} {
		if _, err := exportFormat(value); err != nil {
			t.Errorf("exportFormat(%q) error = %v", value, err)
		}
	}
	if _, err := exportFormat("csv"); err == nil {
		t.Fatal("expected error for csv")
	}
}

func TestValueOrDefault(t *testing.T) {
	if got := valueOrDefault("out.pdf", "report.pdf"); got != "out.pdf" {
		t.Fatalf("got %q", got)
	}
	if got := valueOrDefault("", "../../etc/report.pdf"); got != "report.pdf" {
		t.Fatalf("server names must not escape the working dir, got %q", got)
	}
	if got := valueOrDefault("", ""); got != "gmp-export" {
		t.Fatalf("got %q", got)
	}
}

func TestReadBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.json")
	if err := os.WriteFile(path, []byte(`{"completedItems":["a-1"],"statuses":{"a-2":"partial"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	backup, err := readBackup(path)
	if err != nil {
		t.Fatalf("readBackup() error = %v", err)
	}
	want := records.Backup{
		CompletedItems: []string{"a-1"},
		Statuses:       map[string]records.Status{"a-2": records.StatusPartial},
		Notes:          map[string]string{},
	}
	if diff := cmp.Diff(want, backup); diff != "" {
		t.Fatalf("backup mismatch (-want +got):\n%s", diff)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readBackup(bad); err == nil {
		t.Fatal("expected error for invalid backup")
	}
}

func TestFirstLineAndShortHash(t *testing.T) {
	if got := firstLine("one\ntwo"); got != "one…" {
		t.Fatalf("firstLine() = %q", got)
	}
	if got := firstLine("single"); got != "single" {
		t.Fatalf("firstLine() = %q", got)
	}
	if got := shortHash("0123456789abcdef"); got != "01234567" {
		t.Fatalf("shortHash() = %q", got)
	}
	if got := shortHash("abc"); got != "abc" {
		t.Fatalf("shortHash() = %q", got)
	}
}
