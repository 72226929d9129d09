package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func loadDefault(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load(filepath.Join("..", "..", "catalog", "checklists.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return c
}

func TestLoadShippedCatalog(t *testing.T) {
	c := loadDefault(t)

	var ids []string
	for _, checklist := range c.Checklists {
		ids = append(ids, checklist.ID)
	}
	want := []string{"it-infrastructure", "backup-recovery", "electronic-records", "customer-data", "data-integrity"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("checklist ids mismatch (-want +got):\n%s", diff)
	}

	req, checklist, ok := c.Requirement("restore-testing")
	if !ok {
		t.Fatal("Requirement(restore-testing) not found")
	}
	if checklist.ID != "backup-recovery" || req.Priority != PriorityMedium {
		t.Fatalf("Requirement(restore-testing) = %+v in %s", req, checklist.ID)
	}
	if c.Has("no-such-item") {
		t.Fatal("Has(no-such-item) = true")
	}
	if got := len(c.ItemIDs()); got != 36 {
		t.Fatalf("ItemIDs() len = %d, want 36", got)
	}
}

func TestParseRejectsDuplicateItems(t *testing.T) {
	data := []byte(`
checklists:
  - id: a
    sections:
      - title: S
        requirements:
          - {id: x, title: X, priority: high}
  - id: b
    sections:
      - title: S
        requirements:
          - {id: x, title: X again, priority: low}
`)
	if _, err := Parse(data); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Parse() error = %v, want ErrInvalid", err)
	}
}

func TestParseRejectsUnknownPriority(t *testing.T) {
	data := []byte(`
checklists:
  - id: a
    sections:
      - title: S
        requirements:
          - {id: x, title: X, priority: urgent}
`)
	if _, err := Parse(data); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Parse() error = %v, want ErrInvalid", err)
	}
}

func TestPercentRounds(t *testing.T) {
	cases := []struct {
		completed, total, want int
	}{
		{0, 0, 0},
		{0, 7, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 8, 13},
		{7, 7, 100},
	}
	for _, tc := range cases {
		if got := Percent(tc.completed, tc.total); got != tc.want {
			t.Fatalf("Percent(%d, %d) = %d, want %d", tc.completed, tc.total, got, tc.want)
		}
	}
}

func TestStats(t *testing.T) {
	c := loadDefault(t)
	done := map[string]bool{"backup-sop": true, "backup-evidence": true, "legible": true}

	stats := c.Stats(func(id string) bool { return done[id] })
	if len(stats) != 5 {
		t.Fatalf("Stats() len = %d", len(stats))
	}
	backup := stats[1]
	if backup.ChecklistID != "backup-recovery" || backup.Completed != 2 || backup.Total != 7 || backup.Percent != 29 {
		t.Fatalf("backup stats = %+v", backup)
	}

	overall := Overall(stats)
	if overall.Completed != 3 || overall.Total != 36 || overall.Percent != 8 {
		t.Fatalf("Overall() = %+v", overall)
	}
}
