package client

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"gmptracker/internal/catalog"
	"gmptracker/internal/gitrepo"
	"gmptracker/internal/records"
)

type Summary struct {
	Checklists []catalog.Stats `json:"checklists"`
	Overall    catalog.Stats   `json:"overall"`
}

type Commit struct {
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
}

type HistoryEntry struct {
	Commit   Commit           `json:"commit"`
	Snapshot records.Backup   `json:"snapshot"`
	Changes  []gitrepo.Change `json:"changes"`
}

// Download is an exported backup or report as served by the API.
type Download struct {
	Data       []byte
	Filename   string
	MimeType   string
	ArchiveKey string
	ArchiveURL string
}

type progressEnvelope struct {
	Progress []records.Progress `json:"progress"`
}

func (c *Client) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	var payload struct {
		Checklists []catalog.Checklist `json:"checklists"`
	}
	if err := c.get(ctx, "/api/catalog", &payload); err != nil {
		return nil, err
	}
	return catalog.New(payload.Checklists)
}

func (c *Client) ListProgress(ctx context.Context) ([]records.Progress, error) {
	var payload progressEnvelope
	if err := c.get(ctx, "/api/progress", &payload); err != nil {
		return nil, err
	}
	return payload.Progress, nil
}

// UpsertProgress sends one batch of partial rows and returns the stored rows.
func (c *Client) UpsertProgress(ctx context.Context, patches []records.ProgressPatch) ([]records.Progress, error) {
	var payload progressEnvelope
	body := map[string]any{"rows": patches}
	if err := c.do(ctx, http.MethodPost, "/api/progress", body, &payload); err != nil {
		return nil, err
	}
	return payload.Progress, nil
}

// ResetProgress deletes every row of the workspace and returns how many went.
func (c *Client) ResetProgress(ctx context.Context) (int, error) {
	var payload struct {
		Deleted int `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/progress", nil, &payload); err != nil {
		return 0, err
	}
	return payload.Deleted, nil
}

func (c *Client) ImportProgress(ctx context.Context, backup records.Backup) ([]records.Progress, error) {
	var payload progressEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/progress/import", backup, &payload); err != nil {
		return nil, err
	}
	return payload.Progress, nil
}

func (c *Client) Summary(ctx context.Context) (Summary, error) {
	var summary Summary
	err := c.get(ctx, "/api/progress/summary", &summary)
	return summary, err
}

// Export fetches a backup or report. format is json, pdf or docx; archive
// asks the server to also keep a copy in its report bucket.
func (c *Client) Export(ctx context.Context, format string, archive bool) (Download, error) {
	values := url.Values{}
	values.Set("format", format)
	if archive {
		values.Set("archive", "true")
	}
	path := withQuery("/api/progress/export", values)

	download, err := c.download(ctx, path)
	if IsStatus(err, http.StatusUnauthorized) && c.Session().RefreshToken != "" {
		if refreshErr := c.refresh(ctx); refreshErr != nil {
			return Download{}, err
		}
		return c.download(ctx, path)
	}
	return download, err
}

func (c *Client) download(ctx context.Context, path string) (Download, error) {
	resp, err := c.request(ctx, c.httpClient, http.MethodGet, path, nil, true)
	if err != nil {
		return Download{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Download{}, fmt.Errorf("reading export: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Download{}, decodeError(resp.StatusCode, data)
	}
	download := Download{
		Data:       data,
		MimeType:   resp.Header.Get("Content-Type"),
		ArchiveKey: resp.Header.Get("X-Archive-Key"),
		ArchiveURL: resp.Header.Get("X-Archive-URL"),
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		download.Filename = params["filename"]
	}
	return download, nil
}

func (c *Client) History(ctx context.Context, limit int) ([]Commit, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var payload struct {
		Commits []Commit `json:"commits"`
	}
	if err := c.get(ctx, withQuery("/api/progress/history", values), &payload); err != nil {
		return nil, err
	}
	return payload.Commits, nil
}

func (c *Client) Checkpoint(ctx context.Context, message string) (Commit, error) {
	var commit Commit
	err := c.do(ctx, http.MethodPost, "/api/progress/history", map[string]string{"message": message}, &commit)
	return commit, err
}

func (c *Client) HistoryEntry(ctx context.Context, hash string) (HistoryEntry, error) {
	var entry HistoryEntry
	err := c.get(ctx, "/api/progress/history/"+url.PathEscape(hash), &entry)
	return entry, err
}

func (c *Client) Restore(ctx context.Context, hash string) ([]records.Progress, error) {
	var payload progressEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/progress/history/"+url.PathEscape(hash)+"/restore", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Progress, nil
}
