package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultCategory holds facts stored without a topic
const DefaultCategory = "uncategorized"

// MemoryItem is one remembered fact
type MemoryItem struct {
	ID        int64
	Content   string
	Category  string
	Source    string
	CreatedAt time.Time
}

// MemoryCategory is a topic group with its item count
type MemoryCategory struct {
	Name  string
	Items int
}

// Remember stores a fact and returns its id
func (s *SQLiteStore) Remember(ctx context.Context, content, category, source string) (int64, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		category = DefaultCategory
	}
	if source == "" {
		source = "conversation"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_items (content, category, source, created_at)
		VALUES (?, ?, ?, ?)
	`, content, category, source, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to store memory item: %w", err)
	}
	return res.LastInsertId()
}

// Recall returns facts containing query, newest first, and marks them accessed
func (s *SQLiteStore) Recall(ctx context.Context, query string, limit int) ([]MemoryItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, category, source, created_at
		FROM memory_items
		WHERE content LIKE ? OR category LIKE ?
		ORDER BY id DESC
		LIMIT ?
	`, "%"+query+"%", "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory items: %w", err)
	}
	defer rows.Close()

	var items []MemoryItem
	for rows.Next() {
		var it MemoryItem
		var created int64
		if err := rows.Scan(&it.ID, &it.Content, &it.Category, &it.Source, &created); err != nil {
			return nil, fmt.Errorf("failed to scan memory item: %w", err)
		}
		it.CreatedAt = time.Unix(created, 0)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for _, it := range items {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE memory_items SET access_count = access_count + 1, last_accessed = ? WHERE id = ?
		`, now, it.ID); err != nil {
			return items, fmt.Errorf("failed to mark memory item accessed: %w", err)
		}
	}
	return items, nil
}

// Categories lists topic groups, largest first
func (s *SQLiteStore) Categories(ctx context.Context) ([]MemoryCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) AS n
		FROM memory_items
		GROUP BY category
		ORDER BY n DESC, category ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory categories: %w", err)
	}
	defer rows.Close()

	var cats []MemoryCategory
	for rows.Next() {
		var c MemoryCategory
		if err := rows.Scan(&c.Name, &c.Items); err != nil {
			return nil, fmt.Errorf("failed to scan memory category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// Forget removes a fact. ok is false when the id is unknown.
func (s *SQLiteStore) Forget(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove memory item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
