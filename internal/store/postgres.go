package store

import (
	"context"
	"database/sql"
	"fmt"

	"gmptracker/internal/records"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureWorkspace returns the workspace with ws.Slug, creating it from ws
// when it does not exist yet.
func (s *PostgresStore) EnsureWorkspace(ctx context.Context, ws Workspace) (Workspace, error) {
	var out Workspace
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, slug, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id, slug, name, created_at
	`, ws.ID, ws.Slug, ws.Name).Scan(&out.ID, &out.Slug, &out.Name, &out.CreatedAt)
	if err != nil {
		return Workspace{}, fmt.Errorf("ensure workspace: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetWorkspaceBySlug(ctx context.Context, slug string) (Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, created_at FROM workspaces WHERE slug=$1
	`, slug).Scan(&ws.ID, &ws.Slug, &ws.Name, &ws.CreatedAt)
	if err != nil {
		return Workspace{}, notFound(err)
	}
	return ws, nil
}

// PutWorkspaceKey stores key, replacing the hash and role of an existing key
// with the same label.
func (s *PostgresStore) PutWorkspaceKey(ctx context.Context, key WorkspaceKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_keys (id, workspace_id, label, key_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, label) DO UPDATE SET key_hash=EXCLUDED.key_hash, role=EXCLUDED.role
	`, key.ID, key.WorkspaceID, key.Label, key.KeyHash, key.Role)
	if err != nil {
		return fmt.Errorf("put workspace key: %w", err)
	}
	return nil
}

// InsertWorkspaceKey fails with ErrDuplicate when the label is taken.
func (s *PostgresStore) InsertWorkspaceKey(ctx context.Context, key WorkspaceKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_keys (id, workspace_id, label, key_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, key.ID, key.WorkspaceID, key.Label, key.KeyHash, key.Role)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert workspace key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWorkspaceKeys(ctx context.Context, workspaceID string) ([]WorkspaceKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, label, key_hash, role, created_at
		FROM workspace_keys
		WHERE workspace_id=$1
		ORDER BY created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workspace keys: %w", err)
	}
	defer rows.Close()

	keys := make([]WorkspaceKey, 0)
	for rows.Next() {
		var key WorkspaceKey
		if err := rows.Scan(&key.ID, &key.WorkspaceID, &key.Label, &key.KeyHash, &key.Role, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace keys: %w", err)
	}
	return keys, nil
}

const progressColumns = `workspace_id, item_id, is_complete, status, notes, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner, extra ...any) (records.Progress, error) {
	var item records.Progress
	var status string
	dest := append([]any{&item.WorkspaceID, &item.ItemID, &item.IsComplete, &status, &item.Notes, &item.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return records.Progress{}, err
	}
	item.Status = records.NormalizeStatus(records.Status(status))
	return item, nil
}

func (s *PostgresStore) ListProgress(ctx context.Context, workspaceID string) ([]records.Progress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+progressColumns+`
		FROM progress
		WHERE workspace_id=$1
		ORDER BY item_id ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	items := make([]records.Progress, 0)
	for rows.Next() {
		item, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return items, nil
}

// UpsertProgress applies every patch in one transaction. Fields a patch
// leaves nil keep their stored value, or the column default on insert.
func (s *PostgresStore) UpsertProgress(ctx context.Context, workspaceID string, patches []records.ProgressPatch) ([]ProgressWrite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin progress tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	writes := make([]ProgressWrite, 0, len(patches))
	for _, patch := range patches {
		write, err := upsertProgress(ctx, tx, workspaceID, patch)
		if err != nil {
			return nil, err
		}
		writes = append(writes, write)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit progress tx: %w", err)
	}
	return writes, nil
}

func upsertProgress(ctx context.Context, tx *sql.Tx, workspaceID string, patch records.ProgressPatch) (ProgressWrite, error) {
	var complete sql.NullBool
	if patch.IsComplete != nil {
		complete = sql.NullBool{Bool: *patch.IsComplete, Valid: true}
	}
	var status sql.NullString
	if patch.Status != nil {
		status = sql.NullString{String: string(records.NormalizeStatus(*patch.Status)), Valid: true}
	}
	var notes sql.NullString
	if patch.Notes != nil {
		notes = sql.NullString{String: *patch.Notes, Valid: true}
	}

	var write ProgressWrite
	row := tx.QueryRowContext(ctx, `
		INSERT INTO progress (workspace_id, item_id, is_complete, status, notes, updated_at)
		VALUES ($1, $2, COALESCE($3::boolean, FALSE), COALESCE($4::text, 'need'), COALESCE($5::text, ''), NOW())
		ON CONFLICT (workspace_id, item_id) DO UPDATE SET
			is_complete = COALESCE($3::boolean, progress.is_complete),
			status = COALESCE($4::text, progress.status),
			notes = COALESCE($5::text, progress.notes),
			updated_at = NOW()
		RETURNING `+progressColumns+`, (xmax = 0)
	`, workspaceID, patch.ItemID, complete, status, notes)
	item, err := scanProgress(row, &write.Inserted)
	if err != nil {
		return ProgressWrite{}, fmt.Errorf("upsert progress %s: %w", patch.ItemID, err)
	}
	write.Row = item
	return write, nil
}

// DeleteProgress removes every row of the workspace and returns the item
// ids that were removed.
func (s *PostgresStore) DeleteProgress(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM progress WHERE workspace_id=$1 RETURNING item_id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("delete progress: %w", err)
	}
	defer rows.Close()
	return scanItemIDs(rows)
}

// ReplaceProgress swaps the workspace's rows for items in one transaction.
func (s *PostgresStore) ReplaceProgress(ctx context.Context, workspaceID string, items []records.Progress) ([]string, []records.Progress, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `DELETE FROM progress WHERE workspace_id=$1 RETURNING item_id`, workspaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("clear progress: %w", err)
	}
	deleted, err := scanItemIDs(rows)
	rows.Close()
	if err != nil {
		return nil, nil, err
	}

	written := make([]records.Progress, 0, len(items))
	for _, item := range items {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO progress (workspace_id, item_id, is_complete, status, notes, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			RETURNING `+progressColumns,
			workspaceID, item.ItemID, item.IsComplete, string(records.NormalizeStatus(item.Status)), item.Notes)
		stored, err := scanProgress(row)
		if err != nil {
			return nil, nil, fmt.Errorf("insert progress %s: %w", item.ItemID, err)
		}
		written = append(written, stored)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit replace tx: %w", err)
	}
	return deleted, written, nil
}

func scanItemIDs(rows *sql.Rows) ([]string, error) {
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item ids: %w", err)
	}
	return ids, nil
}

const messageColumns = `id, workspace_id, item_id, user_name, message, created_at, is_edited, is_deleted`

func scanMessage(row rowScanner) (records.Message, error) {
	var msg records.Message
	err := row.Scan(&msg.ID, &msg.WorkspaceID, &msg.ItemID, &msg.UserName, &msg.Message, &msg.CreatedAt, &msg.IsEdited, &msg.IsDeleted)
	return msg, err
}

// ListMessages returns one item's messages, oldest first. An empty itemID
// lists the whole workspace.
func (s *PostgresStore) ListMessages(ctx context.Context, workspaceID, itemID string) ([]records.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE workspace_id=$1
		  AND ($2 = '' OR item_id = $2)
		ORDER BY created_at ASC, id ASC
	`, workspaceID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]records.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg records.Message) (records.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, workspace_id, item_id, user_name, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		msg.ID, msg.WorkspaceID, msg.ItemID, msg.UserName, msg.Message)
	stored, err := scanMessage(row)
	if isUniqueViolation(err) {
		return records.Message{}, ErrDuplicate
	}
	if err != nil {
		return records.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, workspaceID, messageID string) (records.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE workspace_id=$1 AND id=$2
	`, workspaceID, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		return records.Message{}, notFound(err)
	}
	return msg, nil
}

// EditMessage replaces the body of a live message and marks it edited.
// Deleted messages are not found.
func (s *PostgresStore) EditMessage(ctx context.Context, workspaceID, messageID, body string) (records.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages
		SET message=$3, is_edited=TRUE
		WHERE workspace_id=$1 AND id=$2 AND is_deleted=FALSE
		RETURNING `+messageColumns,
		workspaceID, messageID, body)
	msg, err := scanMessage(row)
	if err != nil {
		return records.Message{}, notFound(err)
	}
	return msg, nil
}

func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, workspaceID, messageID string) (records.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages
		SET is_deleted=TRUE, message=$3
		WHERE workspace_id=$1 AND id=$2
		RETURNING `+messageColumns,
		workspaceID, messageID, records.DeletedPlaceholder)
	msg, err := scanMessage(row)
	if err != nil {
		return records.Message{}, notFound(err)
	}
	return msg, nil
}
