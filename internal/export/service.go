package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"gmptracker/internal/catalog"
	"gmptracker/internal/records"
	"gmptracker/internal/richtext"
)

type DataStore interface {
	ListProgress(ctx context.Context, workspaceID string) ([]records.Progress, error)
	ListMessages(ctx context.Context, workspaceID, itemID string) ([]records.Message, error)
}

// Archiver stores finished exports and hands out download links for them.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ArchiveLinkTTL bounds how long an archive download link stays valid.
const ArchiveLinkTTL = 24 * time.Hour

type Service struct {
	store   DataStore
	catalog *catalog.Catalog
	archive Archiver
	now     func() time.Time

	renderPDF  func(ctx context.Context, html, title string) (*Result, error)
	renderDOCX func(ctx context.Context, html, title string) (*Result, error)
}

// NewService creates an export service. archive may be nil.
func NewService(store DataStore, cat *catalog.Catalog, archive Archiver) *Service {
	return &Service{
		store:      store,
		catalog:    cat,
		archive:    archive,
		now:        time.Now,
		renderPDF:  exportPDF,
		renderDOCX: exportDOCX,
	}
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	rows, err := s.store.ListProgress(ctx, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	date := s.now().UTC().Format("2006-01-02")

	var result *Result
	switch req.Format {
	case "", FormatJSON:
		data, err := json.MarshalIndent(records.BackupFromRows(rows), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal backup: %w", err)
		}
		result = &Result{
			Data:     data,
			Filename: "gmp-compliance-progress-" + date + ".json",
			MimeType: "application/json",
		}
	case FormatPDF, FormatDOCX:
		html, err := s.renderReport(ctx, req, rows)
		if err != nil {
			return nil, err
		}
		title := "gmp-compliance-report-" + date
		if req.Format == FormatPDF {
			result, err = s.renderPDF(ctx, html, title)
		} else {
			result, err = s.renderDOCX(ctx, html, title)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	if req.Archive {
		if s.archive == nil {
			return nil, ErrArchiveUnavailable
		}
		key := fmt.Sprintf("%s/%s/%s", req.WorkspaceID, s.now().UTC().Format("20060102T150405Z"), result.Filename)
		if err := s.archive.Put(ctx, key, result.Data, result.MimeType); err != nil {
			return nil, fmt.Errorf("archive export: %w", err)
		}
		result.ArchiveKey = key
		link, err := s.archive.URL(ctx, key, ArchiveLinkTTL)
		if err != nil {
			return nil, fmt.Errorf("archive link: %w", err)
		}
		result.ArchiveURL = link
	}
	return result, nil
}

func (s *Service) renderReport(ctx context.Context, req Request, rows []records.Progress) (string, error) {
	if s.catalog == nil {
		return "", fmt.Errorf("render report: no catalog loaded")
	}
	messages, err := s.store.ListMessages(ctx, req.WorkspaceID, "")
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	data := BuildReport(s.catalog, rows, messages)
	data.WorkspaceName = req.WorkspaceName
	data.GeneratedAt = s.now().UTC()

	html, err := RenderReportHTML(data)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return html, nil
}

// BuildReport lays progress and message counts over the catalog.
func BuildReport(cat *catalog.Catalog, rows []records.Progress, messages []records.Message) TemplateData {
	byItem := make(map[string]records.Progress, len(rows))
	for _, row := range rows {
		byItem[row.ItemID] = row
	}
	discussed := map[string]int{}
	for _, msg := range messages {
		if !msg.IsDeleted {
			discussed[msg.ItemID]++
		}
	}

	stats := cat.Stats(func(id string) bool { return byItem[id].IsComplete })
	data := TemplateData{Overall: catalog.Overall(stats)}
	for i, checklist := range cat.Checklists {
		tc := TemplateChecklist{Name: checklist.Name, Stats: stats[i]}
		for _, section := range checklist.Sections {
			ts := TemplateSection{Title: section.Title}
			for _, req := range section.Requirements {
				row, ok := byItem[req.ID]
				status := records.StatusNeed
				if ok {
					status = records.NormalizeStatus(row.Status)
				}
				ts.Items = append(ts.Items, TemplateItem{
					ID:        req.ID,
					Title:     req.Title,
					Priority:  string(req.Priority),
					Source:    req.Source,
					Status:    string(status),
					Complete:  row.IsComplete,
					NotesHTML: template.HTML(richtext.ToHTML(row.Notes)),
					Messages:  discussed[req.ID],
				})
			}
			tc.Sections = append(tc.Sections, ts)
		}
		data.Checklists = append(data.Checklists, tc)
	}
	return data
}
