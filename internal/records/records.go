// Package records defines the rows and change events exchanged between the
// API server and its clients. JSON field names follow the table columns.
package records

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Status string

const (
	StatusHave    Status = "have"
	StatusPartial Status = "partial"
	StatusNeed    Status = "need"
)

// DeletedPlaceholder replaces the body of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted."

// ParseStatus reports whether value is one of the known statuses.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusHave:
		return StatusHave, true
	case StatusPartial:
		return StatusPartial, true
	case StatusNeed:
		return StatusNeed, true
	default:
		return "", false
	}
}

// NormalizeStatus maps empty or unknown values to StatusNeed.
func NormalizeStatus(value Status) Status {
	if parsed, ok := ParseStatus(string(value)); ok {
		return parsed
	}
	return StatusNeed
}

type Progress struct {
	WorkspaceID string    `json:"workspace_id,omitempty"`
	ItemID      string    `json:"item_id"`
	IsComplete  bool      `json:"is_complete"`
	Status      Status    `json:"status"`
	Notes       string    `json:"notes"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProgressPatch is a partial upsert. Nil fields keep their stored value, or
// the column default when the row does not exist yet.
type ProgressPatch struct {
	ItemID     string  `json:"item_id"`
	IsComplete *bool   `json:"is_complete,omitempty"`
	Status     *Status `json:"status,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

func (p ProgressPatch) Empty() bool {
	return p.IsComplete == nil && p.Status == nil && p.Notes == nil
}

// Merge overlays the non-nil fields of next onto p.
func (p ProgressPatch) Merge(next ProgressPatch) ProgressPatch {
	if next.IsComplete != nil {
		p.IsComplete = next.IsComplete
	}
	if next.Status != nil {
		p.Status = next.Status
	}
	if next.Notes != nil {
		p.Notes = next.Notes
	}
	return p
}

type Message struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	ItemID      string    `json:"item_id"`
	UserName    string    `json:"user_name"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
	IsEdited    bool      `json:"is_edited"`
	IsDeleted   bool      `json:"is_deleted"`
}

type Table string

const (
	TableProgress Table = "progress"
	TableMessages Table = "messages"
)

// Error codes the API returns in the "code" field of an error body.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeUnknownItem = "UNKNOWN_ITEM"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Change is one row-level notification on the change feed. New carries the
// row after the change; Old carries the key of a deleted row.
type Change struct {
	Table           Table           `json:"table"`
	Type            EventType       `json:"type"`
	WorkspaceID     string          `json:"workspace_id"`
	ItemID          string          `json:"item_id"`
	New             json.RawMessage `json:"new,omitempty"`
	Old             json.RawMessage `json:"old,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

func NewProgressChange(typ EventType, row Progress) (Change, error) {
	change := Change{
		Table:           TableProgress,
		Type:            typ,
		WorkspaceID:     row.WorkspaceID,
		ItemID:          row.ItemID,
		CommitTimestamp: time.Now().UTC(),
	}
	if typ == EventDelete {
		old, err := json.Marshal(map[string]string{"item_id": row.ItemID})
		if err != nil {
			return Change{}, fmt.Errorf("marshal old progress key: %w", err)
		}
		change.Old = old
		return change, nil
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return Change{}, fmt.Errorf("marshal progress row: %w", err)
	}
	change.New = payload
	return change, nil
}

func NewMessageChange(typ EventType, row Message) (Change, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return Change{}, fmt.Errorf("marshal message row: %w", err)
	}
	return Change{
		Table:           TableMessages,
		Type:            typ,
		WorkspaceID:     row.WorkspaceID,
		ItemID:          row.ItemID,
		New:             payload,
		CommitTimestamp: time.Now().UTC(),
	}, nil
}

func (c Change) DecodeProgress() (Progress, error) {
	var row Progress
	if len(c.New) == 0 {
		return row, fmt.Errorf("change has no new row")
	}
	if err := json.Unmarshal(c.New, &row); err != nil {
		return row, fmt.Errorf("decode progress row: %w", err)
	}
	row.Status = NormalizeStatus(row.Status)
	return row, nil
}

func (c Change) DecodeMessage() (Message, error) {
	var row Message
	if len(c.New) == 0 {
		return row, fmt.Errorf("change has no new row")
	}
	if err := json.Unmarshal(c.New, &row); err != nil {
		return row, fmt.Errorf("decode message row: %w", err)
	}
	return row, nil
}

// OldItemID returns the item key of a deleted row, falling back to the
// event's own item id.
func (c Change) OldItemID() string {
	if len(c.Old) > 0 {
		var key struct {
			ItemID string `json:"item_id"`
		}
		if err := json.Unmarshal(c.Old, &key); err == nil && key.ItemID != "" {
			return key.ItemID
		}
	}
	return c.ItemID
}

// Backup is the portable progress snapshot: the same shape the tracker has
// always written to local storage and to exported backup files.
type Backup struct {
	CompletedItems []string          `json:"completedItems"`
	Statuses       map[string]Status `json:"statuses"`
	Notes          map[string]string `json:"notes"`
}

func EmptyBackup() Backup {
	return Backup{
		CompletedItems: []string{},
		Statuses:       map[string]Status{},
		Notes:          map[string]string{},
	}
}

func BackupFromRows(rows []Progress) Backup {
	backup := EmptyBackup()
	for _, row := range rows {
		if row.IsComplete {
			backup.CompletedItems = append(backup.CompletedItems, row.ItemID)
		}
		if row.Status != "" {
			backup.Statuses[row.ItemID] = NormalizeStatus(row.Status)
		}
		if row.Notes != "" {
			backup.Notes[row.ItemID] = row.Notes
		}
	}
	sort.Strings(backup.CompletedItems)
	return backup
}

// Rows expands the snapshot into one row per item mentioned anywhere in it,
// sorted by item id.
func (b Backup) Rows() []Progress {
	byID := map[string]*Progress{}
	get := func(id string) *Progress {
		row, ok := byID[id]
		if !ok {
			row = &Progress{ItemID: id, Status: StatusNeed}
			byID[id] = row
		}
		return row
	}
	for _, id := range b.CompletedItems {
		if strings.TrimSpace(id) == "" {
			continue
		}
		get(id).IsComplete = true
	}
	for id, status := range b.Statuses {
		if strings.TrimSpace(id) == "" {
			continue
		}
		get(id).Status = NormalizeStatus(status)
	}
	for id, notes := range b.Notes {
		if strings.TrimSpace(id) == "" {
			continue
		}
		get(id).Notes = notes
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]Progress, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, *byID[id])
	}
	return rows
}
