package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the generated messages.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: without Postgres the API is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	const tsQuery = "plainto_tsquery('english', $1)"
	where := fmt.Sprintf("m.fts @@ %s AND m.workspace_id = $2 AND m.is_deleted = FALSE", tsQuery)
	args := []any{q.Text, q.WorkspaceID}
	if q.ItemID != "" {
		where += " AND m.item_id = $3"
		args = append(args, q.ItemID)
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM messages m WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.id, m.item_id, m.user_name,
			ts_headline('english', m.message, %s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'),
			m.created_at
		FROM messages m
		WHERE %s
		ORDER BY ts_rank(m.fts, %s) DESC, m.created_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, q.limit(), q.offset()), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ItemID, &r.UserName, &r.Snippet, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every live message for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, workspace_id, item_id, user_name, message, created_at
		FROM messages
		WHERE is_deleted = FALSE
	`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	messages := make([]MessageRecord, 0)
	for rows.Next() {
		var m MessageRecord
		var createdAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.ItemID, &m.UserName, &m.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if createdAt.Valid {
			m.CreatedAt = createdAt.Time.Unix()
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
