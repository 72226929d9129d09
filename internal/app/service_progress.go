package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gmptracker/internal/catalog"
	"gmptracker/internal/export"
	"gmptracker/internal/gitrepo"
	"gmptracker/internal/records"
	"gmptracker/internal/store"
)

const defaultHistoryLimit = 50

func (s *Service) ListProgress(ctx context.Context, sess Session) ([]records.Progress, error) {
	return s.store.ListProgress(ctx, sess.WorkspaceID)
}

// UpsertProgress applies patches in one transaction. Repeated patches for
// the same item are merged in order, so the last value of each field wins.
func (s *Service) UpsertProgress(ctx context.Context, sess Session, patches []records.ProgressPatch) ([]records.Progress, error) {
	if len(patches) == 0 {
		return nil, validationError("at least one row is required", nil)
	}

	merged := make([]records.ProgressPatch, 0, len(patches))
	position := map[string]int{}
	for _, patch := range patches {
		patch.ItemID = strings.TrimSpace(patch.ItemID)
		if patch.ItemID == "" {
			return nil, validationError("item_id is required", nil)
		}
		if !s.knownItem(patch.ItemID) {
			return nil, unknownItemError(http.StatusUnprocessableEntity, patch.ItemID)
		}
		if patch.Status != nil {
			status, ok := records.ParseStatus(string(*patch.Status))
			if !ok {
				return nil, itemRowError("status must be have, partial or need", patch.ItemID)
			}
			patch.Status = &status
		}
		if patch.Empty() {
			return nil, itemRowError("row has no fields to update", patch.ItemID)
		}
		if i, seen := position[patch.ItemID]; seen {
			merged[i] = merged[i].Merge(patch)
			continue
		}
		position[patch.ItemID] = len(merged)
		merged = append(merged, patch)
	}

	writes, err := s.store.UpsertProgress(ctx, sess.WorkspaceID, merged)
	if err != nil {
		return nil, err
	}
	s.summaries.Delete(sess.WorkspaceID)

	rows := make([]records.Progress, 0, len(writes))
	for _, write := range writes {
		eventType := records.EventUpdate
		if write.Inserted {
			eventType = records.EventInsert
		}
		change, err := records.NewProgressChange(eventType, write.Row)
		s.publish(ctx, change, err)
		rows = append(rows, write.Row)
	}
	return rows, nil
}

// ResetProgress snapshots the workspace into history, then deletes every
// progress row.
func (s *Service) ResetProgress(ctx context.Context, sess Session) (int, error) {
	if _, err := s.checkpoint(ctx, sess, "Before reset"); err != nil {
		return 0, err
	}
	deleted, err := s.store.DeleteProgress(ctx, sess.WorkspaceID)
	if err != nil {
		return 0, err
	}
	s.summaries.Delete(sess.WorkspaceID)
	for _, itemID := range deleted {
		change, err := records.NewProgressChange(records.EventDelete, records.Progress{
			WorkspaceID: sess.WorkspaceID,
			ItemID:      itemID,
		})
		s.publish(ctx, change, err)
	}
	return len(deleted), nil
}

// ImportProgress replaces the workspace with backup.
func (s *Service) ImportProgress(ctx context.Context, sess Session, backup records.Backup) ([]records.Progress, error) {
	if _, err := s.checkpoint(ctx, sess, "Before import"); err != nil {
		return nil, err
	}
	return s.replace(ctx, sess, backup)
}

func (s *Service) replace(ctx context.Context, sess Session, backup records.Backup) ([]records.Progress, error) {
	deleted, written, err := s.store.ReplaceProgress(ctx, sess.WorkspaceID, backup.Rows())
	if err != nil {
		return nil, err
	}
	s.summaries.Delete(sess.WorkspaceID)

	existed := make(map[string]bool, len(deleted))
	for _, itemID := range deleted {
		existed[itemID] = true
	}
	kept := make(map[string]bool, len(written))
	for _, row := range written {
		kept[row.ItemID] = true
		eventType := records.EventInsert
		if existed[row.ItemID] {
			eventType = records.EventUpdate
		}
		change, err := records.NewProgressChange(eventType, row)
		s.publish(ctx, change, err)
	}
	for _, itemID := range deleted {
		if kept[itemID] {
			continue
		}
		change, err := records.NewProgressChange(records.EventDelete, records.Progress{
			WorkspaceID: sess.WorkspaceID,
			ItemID:      itemID,
		})
		s.publish(ctx, change, err)
	}
	return written, nil
}

// Summary is the completion overview shown above the checklists.
type Summary struct {
	Checklists []catalog.Stats `json:"checklists"`
	Overall    catalog.Stats   `json:"overall"`
}

func (s *Service) ProgressSummary(ctx context.Context, sess Session) (Summary, error) {
	if cached, ok := s.summaries.Get(sess.WorkspaceID); ok {
		return cached.(Summary), nil
	}
	if s.catalog == nil {
		return Summary{Checklists: []catalog.Stats{}}, nil
	}
	rows, err := s.store.ListProgress(ctx, sess.WorkspaceID)
	if err != nil {
		return Summary{}, err
	}
	complete := make(map[string]bool, len(rows))
	for _, row := range rows {
		complete[row.ItemID] = row.IsComplete
	}
	stats := s.catalog.Stats(func(itemID string) bool { return complete[itemID] })
	summary := Summary{Checklists: stats, Overall: catalog.Overall(stats)}
	s.summaries.SetDefault(sess.WorkspaceID, summary)
	return summary, nil
}

func (s *Service) Export(ctx context.Context, sess Session, format string, archive bool) (*export.Result, error) {
	if s.exports == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	parsed, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, err
	}
	return s.exports.Export(ctx, export.Request{
		WorkspaceID:   sess.WorkspaceID,
		WorkspaceName: sess.Workspace,
		Format:        parsed,
		Archive:       archive,
	})
}

// Commit is a progress history entry.
type Commit struct {
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
}

func toCommit(info store.CommitInfo) Commit {
	return Commit{
		Hash:      info.Hash,
		Message:   strings.TrimSpace(info.Message),
		Author:    info.Author,
		CreatedAt: info.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Checkpoint commits the current progress to history under message.
func (s *Service) Checkpoint(ctx context.Context, sess Session, message string) (Commit, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "Checkpoint"
	}
	info, err := s.checkpoint(ctx, sess, message)
	if err != nil {
		return Commit{}, err
	}
	return toCommit(info), nil
}

func (s *Service) checkpoint(ctx context.Context, sess Session, message string) (store.CommitInfo, error) {
	rows, err := s.store.ListProgress(ctx, sess.WorkspaceID)
	if err != nil {
		return store.CommitInfo{}, err
	}
	info, err := s.git.Snapshot(sess.WorkspaceID, records.BackupFromRows(rows), sess.KeyLabel, message)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("snapshot progress: %w", err)
	}
	return info, nil
}

func (s *Service) History(_ context.Context, sess Session, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	infos, err := s.git.History(sess.WorkspaceID, limit)
	if err != nil {
		return nil, err
	}
	commits := make([]Commit, 0, len(infos))
	for _, info := range infos {
		commits = append(commits, toCommit(info))
	}
	return commits, nil
}

// HistoryEntry is one snapshot plus what changed from it to now.
type HistoryEntry struct {
	Commit   Commit           `json:"commit"`
	Snapshot records.Backup   `json:"snapshot"`
	Changes  []gitrepo.Change `json:"changes"`
}

func (s *Service) HistoryEntry(ctx context.Context, sess Session, hash string) (HistoryEntry, error) {
	backup, info, err := s.snapshotAt(sess, hash)
	if err != nil {
		return HistoryEntry{}, err
	}
	rows, err := s.store.ListProgress(ctx, sess.WorkspaceID)
	if err != nil {
		return HistoryEntry{}, err
	}
	return HistoryEntry{
		Commit:   toCommit(info),
		Snapshot: backup,
		Changes:  gitrepo.Diff(backup, records.BackupFromRows(rows)),
	}, nil
}

// Restore replaces the workspace with the snapshot at hash, after
// committing the current state.
func (s *Service) Restore(ctx context.Context, sess Session, hash string) ([]records.Progress, error) {
	backup, info, err := s.snapshotAt(sess, hash)
	if err != nil {
		return nil, err
	}
	if _, err := s.checkpoint(ctx, sess, "Before restore of "+info.Hash); err != nil {
		return nil, err
	}
	return s.replace(ctx, sess, backup)
}

func (s *Service) snapshotAt(sess Session, hash string) (records.Backup, store.CommitInfo, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return records.Backup{}, store.CommitInfo{}, validationError("hash is required", nil)
	}
	backup, info, err := s.git.SnapshotAt(sess.WorkspaceID, hash)
	if errors.Is(err, gitrepo.ErrNoHistory) {
		return records.Backup{}, store.CommitInfo{}, domainError(http.StatusNotFound, "COMMIT_NOT_FOUND", "Commit not found", nil)
	}
	if err != nil {
		return records.Backup{}, store.CommitInfo{}, err
	}
	return backup, info, nil
}
