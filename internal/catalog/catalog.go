// Package catalog loads the static checklist catalog and computes
// completion statistics over it.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type Requirement struct {
	ID              string   `yaml:"id" json:"id"`
	Title           string   `yaml:"title" json:"title"`
	Subtitle        string   `yaml:"subtitle" json:"subtitle"`
	Description     string   `yaml:"description" json:"description"`
	Priority        Priority `yaml:"priority" json:"priority"`
	Source          string   `yaml:"source" json:"source"`
	SourceURL       string   `yaml:"source_url" json:"source_url"`
	RegulatoryQuote string   `yaml:"regulatory_quote,omitempty" json:"regulatory_quote,omitempty"`
	EvidenceNeeded  []string `yaml:"evidence_needed" json:"evidence_needed"`
}

type Section struct {
	Title        string        `yaml:"title" json:"title"`
	Requirements []Requirement `yaml:"requirements" json:"requirements"`
}

type Checklist struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Icon        string    `yaml:"icon" json:"icon"`
	Sections    []Section `yaml:"sections" json:"sections"`
}

// ItemIDs returns the requirement ids of the checklist in display order.
func (c Checklist) ItemIDs() []string {
	var ids []string
	for _, section := range c.Sections {
		for _, req := range section.Requirements {
			ids = append(ids, req.ID)
		}
	}
	return ids
}

type itemRef struct {
	checklist int
	section   int
	index     int
}

type Catalog struct {
	Checklists []Checklist `yaml:"checklists" json:"checklists"`

	items map[string]itemRef
}

var ErrInvalid = errors.New("invalid catalog")

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog. Item ids must be unique across
// all checklists.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

// New validates checklists received from elsewhere, such as the API's
// catalog endpoint, and indexes them.
func New(checklists []Checklist) (*Catalog, error) {
	c := Catalog{Checklists: checklists}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	if len(c.Checklists) == 0 {
		return fmt.Errorf("%w: no checklists", ErrInvalid)
	}
	c.items = map[string]itemRef{}
	seen := map[string]bool{}
	for ci, checklist := range c.Checklists {
		if strings.TrimSpace(checklist.ID) == "" {
			return fmt.Errorf("%w: checklist %d has no id", ErrInvalid, ci)
		}
		if seen[checklist.ID] {
			return fmt.Errorf("%w: duplicate checklist %q", ErrInvalid, checklist.ID)
		}
		seen[checklist.ID] = true
		for si, section := range checklist.Sections {
			for ri, req := range section.Requirements {
				if strings.TrimSpace(req.ID) == "" {
					return fmt.Errorf("%w: requirement without id in %s", ErrInvalid, checklist.ID)
				}
				if _, dup := c.items[req.ID]; dup {
					return fmt.Errorf("%w: duplicate item %q", ErrInvalid, req.ID)
				}
				switch req.Priority {
				case PriorityHigh, PriorityMedium, PriorityLow:
				default:
					return fmt.Errorf("%w: item %q has priority %q", ErrInvalid, req.ID, req.Priority)
				}
				c.items[req.ID] = itemRef{checklist: ci, section: si, index: ri}
			}
		}
	}
	return nil
}

func (c *Catalog) Checklist(id string) (Checklist, bool) {
	for _, checklist := range c.Checklists {
		if checklist.ID == id {
			return checklist, true
		}
	}
	return Checklist{}, false
}

// Requirement finds an item and the checklist holding it.
func (c *Catalog) Requirement(itemID string) (Requirement, Checklist, bool) {
	if c.items == nil {
		if err := c.index(); err != nil {
			return Requirement{}, Checklist{}, false
		}
	}
	ref, ok := c.items[itemID]
	if !ok {
		return Requirement{}, Checklist{}, false
	}
	checklist := c.Checklists[ref.checklist]
	return checklist.Sections[ref.section].Requirements[ref.index], checklist, true
}

func (c *Catalog) Has(itemID string) bool {
	_, _, ok := c.Requirement(itemID)
	return ok
}

// ItemIDs returns every requirement id across all checklists.
func (c *Catalog) ItemIDs() []string {
	var ids []string
	for _, checklist := range c.Checklists {
		ids = append(ids, checklist.ItemIDs()...)
	}
	return ids
}

type Stats struct {
	ChecklistID string `json:"checklist_id"`
	Name        string `json:"name"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	Percent     int    `json:"percent"`
}

// Percent is completed/total as a whole percentage rounded half away from
// zero; 0 when total is 0.
func Percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) * 100 / float64(total)))
}

// Stats reports completion per checklist, in catalog order.
func (c *Catalog) Stats(isComplete func(itemID string) bool) []Stats {
	out := make([]Stats, 0, len(c.Checklists))
	for _, checklist := range c.Checklists {
		ids := checklist.ItemIDs()
		completed := 0
		for _, id := range ids {
			if isComplete(id) {
				completed++
			}
		}
		out = append(out, Stats{
			ChecklistID: checklist.ID,
			Name:        checklist.Name,
			Completed:   completed,
			Total:       len(ids),
			Percent:     Percent(completed, len(ids)),
		})
	}
	return out
}

// Overall sums per-checklist stats into one line.
func Overall(stats []Stats) Stats {
	total := Stats{ChecklistID: "all", Name: "All checklists"}
	for _, s := range stats {
		total.Completed += s.Completed
		total.Total += s.Total
	}
	total.Percent = Percent(total.Completed, total.Total)
	return total
}
